// Package retriever answers similarity queries against a domain's chunks and
// keeps the vector index in step with the crawler.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/sitechat/internal/crawler"
	"github.com/JakeFAU/sitechat/internal/vectorstore"
)

// DefaultLimit is the number of passages returned when the caller asks for none.
const DefaultLimit = 5

const upsertBatch = 256

// Passage is a retrieved chunk.
type Passage struct {
	ID        string
	Text      string
	SourceURL string
	Score     float64
}

// ChunkSource loads the persisted chunks of a domain.
type ChunkSource interface {
	Chunks(ctx context.Context, domain string) ([]crawler.Chunk, error)
}

// Retriever embeds queries and searches the per-domain collection. It builds a
// collection from stored chunks the first time a domain is queried.
type Retriever struct {
	store    vectorstore.Store
	embedder crawler.Embedder
	source   ChunkSource
	logger   *zap.Logger
	limit    int

	group singleflight.Group
	mu    sync.Mutex
	built map[string]struct{}
}

// Option customizes a Retriever.
type Option func(*Retriever)

// WithDefaultLimit overrides DefaultLimit.
func WithDefaultLimit(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.limit = k
		}
	}
}

// New constructs a Retriever.
func New(store vectorstore.Store, embedder crawler.Embedder, source ChunkSource, logger *zap.Logger, opts ...Option) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Retriever{
		store:    store,
		embedder: embedder,
		source:   source,
		logger:   logger,
		limit:    DefaultLimit,
		built:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CollectionName maps a domain to its collection: "example.com" becomes "example_com".
func CollectionName(domain string) string {
	host := crawler.HostOf(domain)
	return strings.NewReplacer(".", "_", ":", "_").Replace(host)
}

// Search returns up to k passages most similar to query. k <= 0 uses the
// default limit. A domain with no stored chunks yields no passages.
func (r *Retriever) Search(ctx context.Context, domain, query string, k int) ([]Passage, error) {
	if k <= 0 {
		k = r.limit
	}
	ready, err := r.EnsureIndex(ctx, domain)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, nil
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors, want 1", len(vectors))
	}

	hits, err := r.store.Query(ctx, CollectionName(domain), vectors[0], k)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", domain, err)
	}
	passages := make([]Passage, 0, len(hits))
	for _, h := range hits {
		passages = append(passages, Passage(h))
	}
	return passages, nil
}

// EnsureIndex makes sure the domain's collection exists, building it from the
// stored chunks when it does not. Concurrent callers share one build. ready is
// false when the domain has nothing to index yet.
func (r *Retriever) EnsureIndex(ctx context.Context, domain string) (bool, error) {
	name := CollectionName(domain)
	if r.isBuilt(name) {
		return true, nil
	}

	v, err, _ := r.group.Do(name, func() (any, error) {
		if r.isBuilt(name) {
			return true, nil
		}
		exists, err := r.store.Exists(ctx, name)
		if err != nil {
			return false, fmt.Errorf("check collection %s: %w", name, err)
		}
		if !exists {
			chunks, err := r.source.Chunks(ctx, domain)
			if err != nil {
				return false, fmt.Errorf("load chunks for %s: %w", domain, err)
			}
			if len(chunks) == 0 {
				return false, nil
			}
			if err := r.build(ctx, name, chunks); err != nil {
				return false, err
			}
		}
		r.markBuilt(name)
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// IndexChunks upserts freshly crawled chunks, creating the collection from the
// previously stored chunks if it does not exist yet.
func (r *Retriever) IndexChunks(ctx context.Context, domain string, chunks []crawler.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	name := CollectionName(domain)
	if _, err := r.EnsureIndex(ctx, domain); err != nil {
		return err
	}
	if !r.isBuilt(name) {
		// Nothing stored yet; the new chunks seed the collection.
		if _, err, _ := r.group.Do(name, func() (any, error) {
			return nil, r.build(ctx, name, chunks)
		}); err != nil {
			return err
		}
		r.markBuilt(name)
		return nil
	}
	return r.upsert(ctx, name, chunks)
}

// RemoveChunks deletes chunk ids from the domain's collection. A collection
// not yet built is first built from the stored chunks, which still include
// the ids being replaced, so they cannot come back with the next IndexChunks.
func (r *Retriever) RemoveChunks(ctx context.Context, domain string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	name := CollectionName(domain)
	for attempt := 0; ; attempt++ {
		ready, err := r.EnsureIndex(ctx, domain)
		if err != nil {
			return err
		}
		if !ready {
			return nil
		}
		err = r.store.Delete(ctx, name, ids)
		if errors.Is(err, vectorstore.ErrCollectionNotFound) && attempt == 0 {
			// Dropped behind our back; rebuild from the stored table.
			r.Forget(domain)
			continue
		}
		if err != nil {
			return fmt.Errorf("remove chunks from %s: %w", name, err)
		}
		return nil
	}
}

// Forget drops the build marker so the next call re-checks the backend.
func (r *Retriever) Forget(domain string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.built, CollectionName(domain))
}

func (r *Retriever) build(ctx context.Context, name string, chunks []crawler.Chunk) error {
	if err := r.embedMissing(ctx, chunks); err != nil {
		return err
	}
	if err := r.store.Create(ctx, name, len(chunks[0].Vector)); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	if err := r.upsert(ctx, name, chunks); err != nil {
		return err
	}
	r.logger.Info("built vector collection", zap.String("collection", name), zap.Int("chunks", len(chunks)))
	return nil
}

func (r *Retriever) upsert(ctx context.Context, name string, chunks []crawler.Chunk) error {
	if err := r.embedMissing(ctx, chunks); err != nil {
		return err
	}
	for start := 0; start < len(chunks); start += upsertBatch {
		end := min(start+upsertBatch, len(chunks))
		points := make([]vectorstore.Point, 0, end-start)
		for _, c := range chunks[start:end] {
			points = append(points, vectorstore.Point{ID: c.ID, Vector: c.Vector, Text: c.Text, SourceURL: c.SourceURL})
		}
		if err := r.store.Upsert(ctx, name, points); err != nil {
			return fmt.Errorf("upsert into %s: %w", name, err)
		}
	}
	return nil
}

// embedMissing fills in vectors for chunks stored without one.
func (r *Retriever) embedMissing(ctx context.Context, chunks []crawler.Chunk) error {
	var texts []string
	var idx []int
	for i, c := range chunks {
		if len(c.Vector) == 0 {
			texts = append(texts, c.Text)
			idx = append(idx, i)
		}
	}
	if len(texts) == 0 {
		return nil
	}
	vectors, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(texts) {
		return fmt.Errorf("embed chunks: got %d vectors for %d texts", len(vectors), len(texts))
	}
	for j, i := range idx {
		chunks[i].Vector = vectors[j]
	}
	return nil
}

func (r *Retriever) isBuilt(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.built[name]
	return ok
}

func (r *Retriever) markBuilt(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.built[name] = struct{}{}
}
