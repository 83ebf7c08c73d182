// Package vectorstore defines the similarity index used for retrieval.
package vectorstore

import (
	"context"
	"errors"
)

// ErrCollectionNotFound is returned when querying or mutating a collection
// that has not been created.
var ErrCollectionNotFound = errors.New("collection not found")

// Point is a single embedded chunk stored in a collection.
type Point struct {
	ID        string
	Vector    []float32
	Text      string
	SourceURL string
}

// Hit is a query result ordered by descending similarity.
type Hit struct {
	ID        string
	Text      string
	SourceURL string
	Score     float64
}

// Store is implemented by vector index backends.
type Store interface {
	Exists(ctx context.Context, collection string) (bool, error)
	Create(ctx context.Context, collection string, dim int) error
	Upsert(ctx context.Context, collection string, points []Point) error
	Delete(ctx context.Context, collection string, ids []string) error
	Query(ctx context.Context, collection string, vector []float32, k int) ([]Hit, error)
}
