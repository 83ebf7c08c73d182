// Package dispatcher manages the worker pool that drains the crawl queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitechat/internal/queue"
	"github.com/JakeFAU/sitechat/internal/worker"
)

// Dispatcher fans out queued domains to a pool of workers.
type Dispatcher struct {
	queue   queue.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(q queue.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   q,
		workers: workers,
	}
}

// NewPool creates a Dispatcher with n workers sharing runner.
func NewPool(q queue.Queue, runner worker.Runner, n int, logger *zap.Logger) *Dispatcher {
	if n <= 0 {
		n = 1
	}
	workers := make([]*worker.Worker, 0, n)
	for i := range n {
		workers = append(workers, worker.New(i+1, q, runner, logger))
	}
	return New(q, workers)
}

// Size reports the number of workers in the pool.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Run starts all workers and blocks until every one has returned, which
// happens when ctx ends or the queue is closed.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Go(func() { w.Run(ctx) })
	}
	wg.Wait()
}

// Enqueue schedules a crawl of domain on the pool.
func (d *Dispatcher) Enqueue(ctx context.Context, domain string) error {
	if err := d.queue.Enqueue(ctx, domain); err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}
	return nil
}
