package crawler

import (
	"fmt"
	"net/http"
	"time"
)

// Chunk is a bounded segment of page text submitted to the retrieval index.
type Chunk struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	SourceURL string    `json:"source_url"`
	Vector    []float32 `json:"embedding,omitempty"`
}

// PageRecord is persisted for each crawled URL within a domain.
type PageRecord struct {
	URL           string    `json:"url"`
	ID            string    `json:"id"`
	FullText      string    `json:"full_text"`
	ContentHash   string    `json:"content_hash"`
	Chunks        []Chunk   `json:"chunks"`
	LastCrawledAt time.Time `json:"last_time_crawled"`
	StatusCode    int       `json:"status"`
}

// ChunkIDs returns the ids of the record's chunks in order.
func (r PageRecord) ChunkIDs() []string {
	ids := make([]string, 0, len(r.Chunks))
	for _, c := range r.Chunks {
		ids = append(ids, c.ID)
	}
	return ids
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL       string
	Depth     int
	UserAgent string
	Headers   http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	FinalURL     string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Page is the cleaned representation of a fetched document.
type Page struct {
	Text  string
	Links []string
}

// StatusError reports a non-success HTTP status returned while fetching.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

// Stats summarizes a single crawl run.
type Stats struct {
	Pages       int            `json:"pages"`
	Created     int            `json:"created"`
	Updated     int            `json:"updated"`
	Unchanged   int            `json:"unchanged"`
	Skipped     int            `json:"skipped"`
	RateLimited int            `json:"rate_limited"`
	StatusCodes map[string]int `json:"status_counts"`
}
