package crawler

import (
	"context"
	"io"
	"time"
)

// BlobStore reads and writes persisted tables.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// ContentStore is the per-domain record table the engine reads and writes.
type ContentStore interface {
	Get(url string) (PageRecord, bool)
	Upsert(record PageRecord)
	AllFullTexts(exclude ...string) []string
	RecordStatus(code int)
	Persist(ctx context.Context) error
}

// Publisher pushes lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor turns a fetched document into cleaned text and outbound links.
type Extractor interface {
	Extract(resp FetchResponse) (Page, error)
}

// Chunker splits cleaned text into index-sized segments, skipping content
// already present in fullTexts.
type Chunker interface {
	Chunk(text string, fullTexts []string) []string
}

// Embedder converts text into fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Indexer keeps the retrieval index in step with stored chunks.
type Indexer interface {
	IndexChunks(ctx context.Context, domain string, chunks []Chunk) error
	RemoveChunks(ctx context.Context, domain string, ids []string) error
}

// RateLimiter throttles requests per host.
type RateLimiter interface {
	Wait(ctx context.Context, host string) error
}

// Throttler is implemented by limiters that slow a host down after it
// answers 429.
type Throttler interface {
	Throttle(host string)
}

// RetryPolicy decides whether and when a failed call is attempted again.
// attempt counts from zero.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Hasher computes digests for change detection.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces page and chunk identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
