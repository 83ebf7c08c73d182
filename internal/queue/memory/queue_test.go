package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitechat/internal/queue"
)

func TestQueueIsFIFO(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "a.example.com"))
	require.NoError(t, q.Enqueue(ctx, "b.example.com"))
	require.Equal(t, 2, q.Len())

	for _, want := range []string{"a.example.com", "b.example.com"} {
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestQueueSkipsWaitingDuplicates(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "example.com"))
	require.NoError(t, q.Enqueue(ctx, "example.com"))
	require.Equal(t, 1, q.Len())

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "example.com", got)

	require.NoError(t, q.Enqueue(ctx, "example.com"), "a dequeued domain can be queued again")
	require.Equal(t, 1, q.Len())
}

func TestQueueEnqueueRespectsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), "a.example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, q.Enqueue(ctx, "b.example.com"), context.DeadlineExceeded)

	// The failed domain is not left marked as waiting.
	_, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(context.Background(), "b.example.com"))
	require.Equal(t, 1, q.Len())
}

func TestQueueDequeueRespectsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestQueueCloseDrainsThenStops(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "a.example.com"))
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Enqueue(ctx, "b.example.com"), queue.ErrClosed)
	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "a.example.com", got)
	_, err = q.Dequeue(ctx)
	require.ErrorIs(t, err, queue.ErrClosed)
}

func TestQueueCloseReleasesBlockedEnqueue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), "a.example.com"))

	errs := make(chan error, 1)
	go func() { errs <- q.Enqueue(context.Background(), "b.example.com") }()
	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-errs:
		require.ErrorIs(t, err, queue.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("enqueue still blocked after close")
	}
}
