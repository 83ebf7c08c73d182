package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitechat/internal/vectorstore"
)

func TestQueryOrdersByCosineSimilarity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	require.NoError(t, s.Create(ctx, "example_com", 2))
	require.NoError(t, s.Upsert(ctx, "example_com", []vectorstore.Point{
		{ID: "east", Vector: []float32{1, 0}, Text: "east"},
		{ID: "north", Vector: []float32{0, 1}, Text: "north"},
		{ID: "northeast", Vector: []float32{1, 1}, Text: "northeast"},
	}))

	hits, err := s.Query(ctx, "example_com", []float32{1, 0.1}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	require.Equal(t, "east", hits[0].ID)
	require.Equal(t, "northeast", hits[1].ID)
	require.Greater(t, hits[0].Score, hits[1].Score)
}

func TestUpsertReplacesAndDeleteRemoves(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	require.NoError(t, s.Create(ctx, "c", 2))
	require.NoError(t, s.Upsert(ctx, "c", []vectorstore.Point{{ID: "a", Vector: []float32{1, 0}, Text: "old"}}))
	require.NoError(t, s.Upsert(ctx, "c", []vectorstore.Point{{ID: "a", Vector: []float32{1, 0}, Text: "new"}}))
	require.Equal(t, 1, s.Len("c"))

	hits, err := s.Query(ctx, "c", []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Equal(t, "new", hits[0].Text)

	require.NoError(t, s.Delete(ctx, "c", []string{"a", "missing"}))
	require.Equal(t, 0, s.Len("c"))
}

func TestMissingCollection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	ok, err := s.Exists(ctx, "nope")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = s.Query(ctx, "nope", []float32{1}, 1)
	require.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)
	require.ErrorIs(t, s.Upsert(ctx, "nope", nil), vectorstore.ErrCollectionNotFound)
}

func TestDimensionMismatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	require.NoError(t, s.Create(ctx, "c", 3))
	require.Error(t, s.Upsert(ctx, "c", []vectorstore.Point{{ID: "a", Vector: []float32{1}}}))
	_, err := s.Query(ctx, "c", []float32{1, 2}, 1)
	require.Error(t, err)
	require.Error(t, s.Create(ctx, "d", 0))
}
