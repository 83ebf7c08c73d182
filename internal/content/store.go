// Package content keeps the durable per-domain table of crawled pages and
// their chunks.
package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/sitechat/internal/crawler"
	"github.com/JakeFAU/sitechat/internal/storage"
)

// TablePrefix is the blob prefix under which domain tables live.
const TablePrefix = "sites/"

// ErrTableNotFound is returned by Load when a domain has never been crawled.
var ErrTableNotFound = errors.New("content table not found")

// Meta is the crawl configuration recorded alongside a domain table.
type Meta struct {
	Depth          int      `json:"depth"`
	ChunkSize      int      `json:"chunk_size"`
	EmbeddingModel string   `json:"embedding_model"`
	AllowedDomains []string `json:"allowed_domains"`
}

type table struct {
	URL          []string             `json:"url"`
	Time         time.Time            `json:"time"`
	Config       Meta                 `json:"config"`
	StatusCounts map[string]int       `json:"status_counts"`
	Data         []crawler.PageRecord `json:"data"`
}

// Store is the in-memory view of one domain table. All methods are safe for
// concurrent use; Persist calls are serialized.
type Store struct {
	blobs  crawler.BlobStore
	domain string

	mu    sync.RWMutex
	tbl   table
	index map[string]int

	persistMu sync.Mutex
}

// TableName returns the blob path of the domain table.
func TableName(domain string) string {
	host := strings.ReplaceAll(crawler.HostOf(domain), ":", "_")
	return TablePrefix + host + ".json"
}

// DomainFromTable reverses TableName. ok is false for paths outside TablePrefix.
func DomainFromTable(path string) (string, bool) {
	if !strings.HasPrefix(path, TablePrefix) || !strings.HasSuffix(path, ".json") {
		return "", false
	}
	name := strings.TrimSuffix(strings.TrimPrefix(path, TablePrefix), ".json")
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// Open loads the domain table, or creates and persists an empty one stamped
// with meta. An existing table keeps its records and adopts the new meta.
func Open(ctx context.Context, blobs crawler.BlobStore, domain string, meta Meta, now time.Time) (*Store, error) {
	s, err := Load(ctx, blobs, domain)
	switch {
	case errors.Is(err, ErrTableNotFound):
		s = &Store{
			blobs:  blobs,
			domain: crawler.HostOf(domain),
			tbl: table{
				URL:          []string{crawler.StartURL("https", domain)},
				StatusCounts: make(map[string]int),
			},
			index: make(map[string]int),
		}
	case err != nil:
		return nil, err
	}

	s.mu.Lock()
	s.tbl.Time = now.UTC()
	s.tbl.Config = meta
	s.mu.Unlock()

	if err := s.Persist(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads an existing domain table.
func Load(ctx context.Context, blobs crawler.BlobStore, domain string) (*Store, error) {
	data, err := blobs.GetObject(ctx, TableName(domain))
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, fmt.Errorf("load %s: %w", domain, ErrTableNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", domain, err)
	}

	var tbl table
	if err := json.Unmarshal(data, &tbl); err != nil {
		return nil, fmt.Errorf("decode %s: %w", TableName(domain), err)
	}
	if tbl.StatusCounts == nil {
		tbl.StatusCounts = make(map[string]int)
	}

	s := &Store{
		blobs:  blobs,
		domain: crawler.HostOf(domain),
		tbl:    tbl,
		index:  make(map[string]int, len(tbl.Data)),
	}
	for i, rec := range tbl.Data {
		s.index[rec.URL] = i
	}
	return s, nil
}

// Domain returns the host the table belongs to.
func (s *Store) Domain() string {
	return s.domain
}

// Meta returns the recorded crawl configuration.
func (s *Store) Meta() Meta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tbl.Config
}

// Get returns the record stored for url.
func (s *Store) Get(url string) (crawler.PageRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[url]
	if !ok {
		return crawler.PageRecord{}, false
	}
	return s.tbl.Data[i], true
}

// Upsert inserts record or replaces the record with the same URL in place.
func (s *Store) Upsert(record crawler.PageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.index[record.URL]; ok {
		s.tbl.Data[i] = record
		return
	}
	s.index[record.URL] = len(s.tbl.Data)
	s.tbl.Data = append(s.tbl.Data, record)
}

// AllFullTexts returns the stored full text of every page except those in exclude.
func (s *Store) AllFullTexts(exclude ...string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	texts := make([]string, 0, len(s.tbl.Data))
	for _, rec := range s.tbl.Data {
		if slices.Contains(exclude, rec.URL) || rec.FullText == "" {
			continue
		}
		texts = append(texts, rec.FullText)
	}
	return texts
}

// RecordStatus increments the counter for an observed HTTP status code.
func (s *Store) RecordStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tbl.StatusCounts[strconv.Itoa(code)]++
}

// StatusCounts returns a copy of the per-status-code counters.
func (s *Store) StatusCounts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.tbl.StatusCounts))
	for k, v := range s.tbl.StatusCounts {
		out[k] = v
	}
	return out
}

// Records returns a copy of all page records in insertion order.
func (s *Store) Records() []crawler.PageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.PageRecord(nil), s.tbl.Data...)
}

// Chunks returns every stored chunk across all pages.
func (s *Store) Chunks() []crawler.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var chunks []crawler.Chunk
	for _, rec := range s.tbl.Data {
		chunks = append(chunks, rec.Chunks...)
	}
	return chunks
}

// Len returns the number of stored pages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tbl.Data)
}

// Persist writes the whole table to the blob store.
func (s *Store) Persist(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	payload, err := json.MarshalIndent(s.tbl, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode table: %w", err)
	}
	if _, err := s.blobs.PutObject(ctx, TableName(s.domain), "application/json", bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("persist table %s: %w", s.domain, err)
	}
	return nil
}

// Domains lists every domain with a stored table.
func Domains(ctx context.Context, blobs crawler.BlobStore) ([]string, error) {
	paths, err := blobs.ListObjects(ctx, TablePrefix)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	domains := make([]string, 0, len(paths))
	for _, p := range paths {
		if d, ok := DomainFromTable(p); ok {
			domains = append(domains, strings.ReplaceAll(d, "_", ":"))
		}
	}
	sort.Strings(domains)
	return domains, nil
}
