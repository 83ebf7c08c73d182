// Package memory provides the in-process crawl queue feeding the worker pool.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/sitechat/internal/queue"
)

var _ queue.Queue = (*Queue)(nil)

// Queue is a bounded in-memory queue of domains. A domain already waiting is
// not queued a second time.
type Queue struct {
	ch   chan string
	done chan struct{}

	mu      sync.Mutex
	waiting map[string]struct{}
	closed  bool
}

// NewQueue constructs a queue holding at most capacity waiting domains.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch:      make(chan string, capacity),
		done:    make(chan struct{}),
		waiting: make(map[string]struct{}),
	}
}

// Enqueue adds domain, blocking while the queue is full. Enqueueing a domain
// that is still waiting is a no-op.
func (q *Queue) Enqueue(ctx context.Context, domain string) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return queue.ErrClosed
	}
	if _, ok := q.waiting[domain]; ok {
		q.mu.Unlock()
		return nil
	}
	q.waiting[domain] = struct{}{}
	q.mu.Unlock()

	select {
	case q.ch <- domain:
		return nil
	case <-ctx.Done():
		q.forget(domain)
		return fmt.Errorf("enqueue %s: %w", domain, ctx.Err())
	case <-q.done:
		q.forget(domain)
		return queue.ErrClosed
	}
}

// Dequeue pops the next domain. After Close it drains what is left, then
// returns queue.ErrClosed.
func (q *Queue) Dequeue(ctx context.Context) (string, error) {
	select {
	case domain := <-q.ch:
		q.forget(domain)
		return domain, nil
	case <-ctx.Done():
		return "", fmt.Errorf("dequeue: %w", ctx.Err())
	case <-q.done:
		select {
		case domain := <-q.ch:
			q.forget(domain)
			return domain, nil
		default:
			return "", queue.ErrClosed
		}
	}
}

func (q *Queue) forget(domain string) {
	q.mu.Lock()
	delete(q.waiting, domain)
	q.mu.Unlock()
}

// Len returns the number of waiting domains.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting domains and wakes blocked callers.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}
