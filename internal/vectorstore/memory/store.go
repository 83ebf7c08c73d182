// Package memory provides an in-process vector store using cosine similarity.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/JakeFAU/sitechat/internal/vectorstore"
)

type collection struct {
	dim    int
	points map[string]vectorstore.Point
}

// Store keeps collections in memory. Safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

// New returns an empty store.
func New() *Store {
	return &Store{collections: make(map[string]*collection)}
}

// Exists reports whether the collection has been created.
func (s *Store) Exists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[name]
	return ok, nil
}

// Create makes an empty collection. Creating an existing collection is a no-op.
func (s *Store) Create(_ context.Context, name string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("create %s: dimension must be positive", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		s.collections[name] = &collection{dim: dim, points: make(map[string]vectorstore.Point)}
	}
	return nil
}

// Upsert inserts or replaces points by id.
func (s *Store) Upsert(_ context.Context, name string, points []vectorstore.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("upsert %s: %w", name, vectorstore.ErrCollectionNotFound)
	}
	for _, p := range points {
		if len(p.Vector) != c.dim {
			return fmt.Errorf("upsert %s: point %s has dimension %d, want %d", name, p.ID, len(p.Vector), c.dim)
		}
	}
	for _, p := range points {
		p.Vector = append([]float32(nil), p.Vector...)
		c.points[p.ID] = p
	}
	return nil
}

// Delete removes points by id. Unknown ids are ignored.
func (s *Store) Delete(_ context.Context, name string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("delete %s: %w", name, vectorstore.ErrCollectionNotFound)
	}
	for _, id := range ids {
		delete(c.points, id)
	}
	return nil
}

// Query returns up to k points closest to vector.
func (s *Store) Query(_ context.Context, name string, vector []float32, k int) ([]vectorstore.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("query %s: %w", name, vectorstore.ErrCollectionNotFound)
	}
	if len(vector) != c.dim {
		return nil, fmt.Errorf("query %s: vector has dimension %d, want %d", name, len(vector), c.dim)
	}

	hits := make([]vectorstore.Hit, 0, len(c.points))
	for _, p := range c.points {
		hits = append(hits, vectorstore.Hit{
			ID:        p.ID,
			Text:      p.Text,
			SourceURL: p.SourceURL,
			Score:     cosine(vector, p.Vector),
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Len returns the number of points in a collection.
func (s *Store) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.collections[name]; ok {
		return len(c.points)
	}
	return 0
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
