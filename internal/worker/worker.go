// Package worker runs queued domain crawls.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitechat/internal/metrics"
	"github.com/JakeFAU/sitechat/internal/queue"
)

// Runner executes the crawl of one admitted domain.
type Runner interface {
	Run(ctx context.Context, domain string) error
}

// Worker consumes queued domains and hands each to the Runner.
type Worker struct {
	id     int
	queue  queue.Queue
	runner Runner
	logger *zap.Logger
}

// New constructs a Worker.
func New(id int, q queue.Queue, runner Runner, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:     id,
		queue:  q,
		runner: runner,
		logger: logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming domains until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		domain, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, queue.ErrClosed) {
				w.logger.Debug("queue closed")
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.process(ctx, domain)
	}
}

func (w *Worker) process(ctx context.Context, domain string) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(zap.String("domain", domain))
	start := time.Now()
	logger.Info("crawl started")
	if err := w.run(ctx, domain); err != nil {
		logger.Error("crawl failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return
	}
	logger.Info("crawl completed", zap.Duration("elapsed", time.Since(start)))
}

// run keeps a panicking crawl from taking the worker down with it.
func (w *Worker) run(ctx context.Context, domain string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("crawl panicked: %v", r)
		}
	}()
	return w.runner.Run(ctx, domain)
}
