package content

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitechat/internal/crawler"
	"github.com/JakeFAU/sitechat/internal/storage/memory"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testMeta() Meta {
	return Meta{Depth: 2, ChunkSize: 1024, EmbeddingModel: "text-embedding-004", AllowedDomains: []string{"example.com"}}
}

func TestOpenCreatesEmptySchema(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := memory.NewBlobStore()

	store, err := Open(ctx, blobs, "example.com", testMeta(), fixedNow)
	require.NoError(t, err)
	require.Equal(t, 0, store.Len())
	require.Equal(t, "example.com", store.Domain())

	raw, err := blobs.GetObject(ctx, "sites/example.com.json")
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, []any{"https://example.com/"}, decoded["url"])
	cfg := decoded["config"].(map[string]any)
	require.EqualValues(t, 2, cfg["depth"])
	require.EqualValues(t, 1024, cfg["chunk_size"])
	require.Equal(t, "text-embedding-004", cfg["embedding_model"])
	require.Equal(t, []any{"example.com"}, cfg["allowed_domains"])
}

func TestUpsertPersistLoadRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := memory.NewBlobStore()
	store, err := Open(ctx, blobs, "example.com", testMeta(), fixedNow)
	require.NoError(t, err)

	rec := crawler.PageRecord{
		URL:           "https://example.com/",
		ID:            "page-1",
		FullText:      "This site sells shoes.",
		ContentHash:   "abc",
		Chunks:        []crawler.Chunk{{ID: "c1", Text: "https://example.com/: This site sells shoes.", SourceURL: "https://example.com/", Vector: []float32{0.1, 0.2}}},
		LastCrawledAt: fixedNow,
		StatusCode:    200,
	}
	store.Upsert(rec)
	store.RecordStatus(200)
	store.RecordStatus(200)
	store.RecordStatus(404)
	require.NoError(t, store.Persist(ctx))

	loaded, err := Load(ctx, blobs, "example.com")
	require.NoError(t, err)
	got, ok := loaded.Get("https://example.com/")
	require.True(t, ok)
	require.Equal(t, rec, got)
	require.Equal(t, map[string]int{"200": 2, "404": 1}, loaded.StatusCounts())
	require.Len(t, loaded.Chunks(), 1)
	require.Equal(t, testMeta(), loaded.Meta())
}

func TestUpsertReplacesInPlace(t *testing.T) {
	t.Parallel()

	store, err := Open(context.Background(), memory.NewBlobStore(), "example.com", testMeta(), fixedNow)
	require.NoError(t, err)

	store.Upsert(crawler.PageRecord{URL: "https://example.com/a", ID: "a", FullText: "one"})
	store.Upsert(crawler.PageRecord{URL: "https://example.com/b", ID: "b", FullText: "two"})
	store.Upsert(crawler.PageRecord{URL: "https://example.com/a", ID: "a", FullText: "uno"})

	require.Equal(t, 2, store.Len())
	records := store.Records()
	require.Equal(t, "uno", records[0].FullText)
	require.Equal(t, []string{"uno", "two"}, store.AllFullTexts())
	require.Equal(t, []string{"two"}, store.AllFullTexts("https://example.com/a"))
}

func TestOpenKeepsExistingRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := memory.NewBlobStore()
	first, err := Open(ctx, blobs, "example.com", testMeta(), fixedNow)
	require.NoError(t, err)
	first.Upsert(crawler.PageRecord{URL: "https://example.com/", ID: "keep"})
	require.NoError(t, first.Persist(ctx))

	meta := testMeta()
	meta.Depth = 3
	second, err := Open(ctx, blobs, "example.com", meta, fixedNow.Add(time.Hour))
	require.NoError(t, err)
	rec, ok := second.Get("https://example.com/")
	require.True(t, ok)
	require.Equal(t, "keep", rec.ID)
	require.Equal(t, 3, second.Meta().Depth)
}

func TestLoadMissingTable(t *testing.T) {
	t.Parallel()

	_, err := Load(context.Background(), memory.NewBlobStore(), "nowhere.org")
	require.ErrorIs(t, err, ErrTableNotFound)
}

type failingBlobs struct {
	*memory.BlobStore
}

func (failingBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("disk full")
}

func TestPersistSurfacesWriteErrors(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), failingBlobs{memory.NewBlobStore()}, "example.com", testMeta(), fixedNow)
	require.ErrorContains(t, err, "disk full")
}

func TestDomains(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := memory.NewBlobStore()
	for _, d := range []string{"b.example.com", "a.example.com", "127.0.0.1:8080"} {
		_, err := Open(ctx, blobs, d, testMeta(), fixedNow)
		require.NoError(t, err)
	}

	domains, err := Domains(ctx, blobs)
	require.NoError(t, err)
	require.Equal(t, []string{"127.0.0.1:8080", "a.example.com", "b.example.com"}, domains)
}

func TestSourceChunks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := memory.NewBlobStore()
	src := NewSource(blobs)

	chunks, err := src.Chunks(ctx, "example.com")
	require.NoError(t, err)
	require.Empty(t, chunks)

	store, err := Open(ctx, blobs, "example.com", testMeta(), fixedNow)
	require.NoError(t, err)
	store.Upsert(crawler.PageRecord{URL: "https://example.com/", Chunks: []crawler.Chunk{{ID: "c1"}, {ID: "c2"}}})
	require.NoError(t, store.Persist(ctx))

	chunks, err = src.Chunks(ctx, "example.com")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
}
