// Package queue defines the crawl queue shared by the service and its workers.
package queue

import (
	"context"
	"errors"
)

// ErrClosed is returned once a queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue hands admitted domains to workers.
type Queue interface {
	Enqueue(ctx context.Context, domain string) error
	Dequeue(ctx context.Context) (string, error)
}
