// Package ratelimit keeps one token bucket per host and slows a host down
// after it answers 429.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/sitechat/internal/crawler"
	"github.com/JakeFAU/sitechat/internal/metrics"
)

// minRate is the floor Throttle will not go below.
const minRate = rate.Limit(0.1)

// Config holds rate limiter configuration.
type Config struct {
	// DefaultRPS is the starting rate per host. Non-positive disables throttling
	// until a host answers 429.
	DefaultRPS   float64
	DefaultBurst int
}

// Limiter manages per-host rate limits.
type Limiter struct {
	initial rate.Limit
	burst   int

	mu    sync.Mutex
	hosts map[string]*rate.Limiter
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	initial := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		initial = rate.Inf
	}
	return &Limiter{
		initial: initial,
		burst:   max(cfg.DefaultBurst, 1),
		hosts:   make(map[string]*rate.Limiter),
	}
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.hosts[host]
	if !ok {
		b = rate.NewLimiter(l.initial, l.burst)
		l.hosts[host] = b
	}
	return b
}

// Wait blocks until a token is available for the host of target, which may
// be a bare host or a full URL.
func (l *Limiter) Wait(ctx context.Context, target string) error {
	host := crawler.HostOf(target)
	start := time.Now()
	if err := l.bucket(host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit %s: %w", host, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// Throttle halves the rate for the host of target. An unlimited host drops
// to one request per second.
func (l *Limiter) Throttle(target string) {
	b := l.bucket(crawler.HostOf(target))
	next := b.Limit() / 2
	if b.Limit() == rate.Inf {
		next = 1
	}
	b.SetLimit(max(next, minRate))
}

// Rate reports the current limit for the host of target.
func (l *Limiter) Rate(target string) rate.Limit {
	return l.bucket(crawler.HostOf(target)).Limit()
}
