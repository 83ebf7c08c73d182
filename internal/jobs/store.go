package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JakeFAU/sitechat/internal/crawler"
	"github.com/JakeFAU/sitechat/internal/storage"
)

// DefaultStatusFile is the blob holding the status table.
const DefaultStatusFile = "domain_status.json"

// Store persists the domain status table.
type Store interface {
	// Load returns ErrStatusNotFound when nothing has been saved yet.
	Load(ctx context.Context) (map[string]Status, error)
	Save(ctx context.Context, statuses map[string]Status) error
}

// FileStore keeps the status table as one JSON object in a blob store,
// mapping each domain to its rendered status.
type FileStore struct {
	blobs crawler.BlobStore
	name  string
}

// NewFileStore returns a FileStore writing to name, or DefaultStatusFile when empty.
func NewFileStore(blobs crawler.BlobStore, name string) *FileStore {
	if name == "" {
		name = DefaultStatusFile
	}
	return &FileStore{blobs: blobs, name: name}
}

// Load reads and parses the status table.
func (f *FileStore) Load(ctx context.Context) (map[string]Status, error) {
	data, err := f.blobs.GetObject(ctx, f.name)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, ErrStatusNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.name, err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.name, err)
	}
	statuses := make(map[string]Status, len(raw))
	for domain, value := range raw {
		st, err := ParseStatus(value)
		if err != nil {
			return nil, fmt.Errorf("decode %s: domain %s: %w", f.name, domain, err)
		}
		statuses[domain] = st
	}
	return statuses, nil
}

// Save overwrites the status table.
func (f *FileStore) Save(ctx context.Context, statuses map[string]Status) error {
	raw := make(map[string]string, len(statuses))
	for domain, st := range statuses {
		raw[domain] = st.String()
	}
	payload, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("encode status table: %w", err)
	}
	if _, err := f.blobs.PutObject(ctx, f.name, "application/json", bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("write %s: %w", f.name, err)
	}
	return nil
}
