package retriever_test

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitechat/internal/chunker"
	"github.com/JakeFAU/sitechat/internal/clock/system"
	"github.com/JakeFAU/sitechat/internal/content"
	"github.com/JakeFAU/sitechat/internal/crawler"
	"github.com/JakeFAU/sitechat/internal/extract"
	"github.com/JakeFAU/sitechat/internal/hash/sha256"
	"github.com/JakeFAU/sitechat/internal/id/uuid"
	"github.com/JakeFAU/sitechat/internal/retriever"
	"github.com/JakeFAU/sitechat/internal/storage/memory"
	vsmemory "github.com/JakeFAU/sitechat/internal/vectorstore/memory"
)

type onePageSite struct {
	mu   sync.Mutex
	text string
}

func (s *onePageSite) set(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text = text
}

func (s *onePageSite) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return crawler.FetchResponse{
		URL:        req.URL,
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte("<html><body><p>" + s.text + "</p></body></html>"),
	}, nil
}

type wordEmbedder struct{}

func (wordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		out[i] = []float32{
			float32(strings.Count(lower, "boots")) + 0.01,
			float32(strings.Count(lower, "shoes")) + 0.01,
			0.01,
		}
	}
	return out, nil
}

func (wordEmbedder) Model() string { return "words" }

// crawlOnce simulates one process lifetime: a fresh vector store and
// retriever over the shared blob store.
func crawlOnce(t *testing.T, blobs *memory.BlobStore, site *onePageSite) *retriever.Retriever {
	t.Helper()
	ctx := context.Background()

	r := retriever.New(vsmemory.New(), wordEmbedder{}, content.NewSource(blobs), zap.NewNop())
	engine, err := crawler.NewEngine(crawler.Config{}, crawler.Dependencies{
		Fetcher:   site,
		Extractor: extract.New(),
		Chunker:   chunker.New(),
		Embedder:  wordEmbedder{},
		Indexer:   r,
		Hasher:    sha256.New(),
		IDs:       uuid.New(),
		Clock:     system.New(),
	}, zap.NewNop())
	require.NoError(t, err)

	store, err := content.Open(ctx, blobs, "example.com", content.Meta{Depth: 0, ChunkSize: 1024}, time.Now())
	require.NoError(t, err)
	_, err = engine.Run(ctx, store, "example.com", 0)
	require.NoError(t, err)
	return r
}

func TestRecrawlAfterRestartReplacesChangedChunks(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	site := &onePageSite{text: "Old content about boots."}
	crawlOnce(t, blobs, site)

	site.set("New content about shoes.")
	r := crawlOnce(t, blobs, site)

	passages, err := r.Search(context.Background(), "example.com", "boots", 5)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	require.Equal(t, "https://example.com/: New content about shoes.", passages[0].Text)
}
