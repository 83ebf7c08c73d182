package content

import (
	"context"
	"errors"

	"github.com/JakeFAU/sitechat/internal/crawler"
)

// Source reads persisted chunks straight from the blob store.
type Source struct {
	blobs crawler.BlobStore
}

// NewSource returns a Source over blobs.
func NewSource(blobs crawler.BlobStore) *Source {
	return &Source{blobs: blobs}
}

// Chunks returns every chunk stored for domain. A domain without a table has none.
func (s *Source) Chunks(ctx context.Context, domain string) ([]crawler.Chunk, error) {
	store, err := Load(ctx, s.blobs, domain)
	if errors.Is(err, ErrTableNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return store.Chunks(), nil
}
