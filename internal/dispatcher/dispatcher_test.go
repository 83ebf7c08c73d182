package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitechat/internal/queue/memory"
	"github.com/JakeFAU/sitechat/internal/worker"
)

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	q := &blockingQueue{started: make(chan struct{}, 1)}
	dispatch := New(q, []*worker.Worker{worker.New(1, q, &countingRunner{}, zap.NewNop())})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-q.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestPoolDrainsQueue(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := memory.NewQueue(8)
	runner := &countingRunner{}
	dispatch := NewPool(q, runner, 3, zap.NewNop())
	require.Equal(t, 3, dispatch.Size())
	go dispatch.Run(ctx)

	for i := range 6 {
		require.NoError(t, dispatch.Enqueue(ctx, fmt.Sprintf("site%d.example.com", i)))
	}
	require.Eventually(t, func() bool { return runner.count() == 6 }, time.Second, 5*time.Millisecond)
}

func TestPoolStopsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(2)
	runner := &countingRunner{}
	dispatch := NewPool(q, runner, 0, nil)
	require.Equal(t, 1, dispatch.Size())
	require.NoError(t, dispatch.Enqueue(context.Background(), "example.com"))

	done := make(chan struct{})
	go func() {
		dispatch.Run(context.Background())
		close(done)
	}()
	q.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool did not stop after the queue closed")
	}
	require.Equal(t, 1, runner.count(), "domains queued before close are still crawled")
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	dispatch := New(&errorQueue{err: errors.New("boom")}, nil)

	err := dispatch.Enqueue(context.Background(), "example.com")
	require.EqualError(t, err, "worker pool: boom")
}

type countingRunner struct {
	mu sync.Mutex
	n  int
}

func (r *countingRunner) Run(context.Context, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	return nil
}

func (r *countingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(context.Context, string) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (string, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return "", fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, string) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (string, error) {
	return "", nil
}
