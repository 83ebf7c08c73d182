package crawler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExponentialRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, time.Millisecond, 10*time.Millisecond)
	boom := errors.New("boom")

	require.False(t, p.ShouldRetry(nil, 0))
	require.True(t, p.ShouldRetry(boom, 0))
	require.True(t, p.ShouldRetry(boom, 1))
	require.False(t, p.ShouldRetry(boom, 2))
	require.False(t, p.ShouldRetry(context.Canceled, 0))
	require.True(t, p.ShouldRetry(&StatusError{StatusCode: http.StatusServiceUnavailable}, 0))
	require.True(t, p.ShouldRetry(&StatusError{StatusCode: http.StatusTooManyRequests}, 0))
	require.False(t, p.ShouldRetry(&StatusError{StatusCode: http.StatusBadRequest}, 0))
}

func TestExponentialRetryPolicyBackoffBounded(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(5, 10*time.Millisecond, 40*time.Millisecond)
	for attempt := range 6 {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 40*time.Millisecond)
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	err := retry(context.Background(), NewExponentialRetryPolicy(3, time.Millisecond, 2*time.Millisecond), func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestRetryGivesUp(t *testing.T) {
	t.Parallel()

	calls := 0
	err := retry(context.Background(), NewExponentialRetryPolicy(3, time.Millisecond, 2*time.Millisecond), func() error {
		calls++
		return errors.New("down")
	})
	require.EqualError(t, err, "down")
	require.Equal(t, 3, calls)

	calls = 0
	require.Error(t, retry(context.Background(), nil, func() error {
		calls++
		return errors.New("once")
	}))
	require.Equal(t, 1, calls)
}
