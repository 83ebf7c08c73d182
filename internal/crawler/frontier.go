package crawler

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Link is a discovered URL waiting to be fetched.
type Link struct {
	URL   string
	Depth int
}

// Frontier is a FIFO queue of discovered links. The Bloom filter answers the
// common "never seen" case; a hit is confirmed against the exact set so a
// false positive never drops a URL. It is safe for concurrent use.
type Frontier struct {
	mu    sync.Mutex
	bloom *bloom.BloomFilter
	exact map[string]struct{}
	queue []Link
}

// NewFrontier creates a Frontier sized for n expected URLs with the given
// Bloom false positive rate.
func NewFrontier(n uint, fpRate float64) *Frontier {
	return &Frontier{
		bloom: bloom.NewWithEstimates(n, fpRate),
		exact: make(map[string]struct{}, n),
	}
}

func (f *Frontier) seen(rawURL string) bool {
	if !f.bloom.TestString(rawURL) {
		return false
	}
	_, ok := f.exact[rawURL]
	return ok
}

// Push adds a link to the back of the queue.
// Returns false if the URL has already been seen.
func (f *Frontier) Push(link Link) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.seen(link.URL) {
		return false
	}
	f.bloom.AddString(link.URL)
	f.exact[link.URL] = struct{}{}
	f.queue = append(f.queue, link)
	return true
}

// Mark records rawURL as seen without queueing it.
func (f *Frontier) Mark(rawURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bloom.AddString(rawURL)
	f.exact[rawURL] = struct{}{}
}

// Next pops up to max links in discovery order.
func (f *Frontier) Next(max int) []Link {
	f.mu.Lock()
	defer f.mu.Unlock()

	if max <= 0 || max > len(f.queue) {
		max = len(f.queue)
	}
	batch := make([]Link, max)
	copy(batch, f.queue[:max])
	f.queue = f.queue[max:]
	return batch
}

// Len returns the number of queued links.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// Seen reports whether the URL was ever pushed.
func (f *Frontier) Seen(rawURL string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen(rawURL)
}
