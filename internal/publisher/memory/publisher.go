// Package memory keeps recent job events in-process, per topic.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// DefaultLimit is how many payloads a topic retains.
const DefaultLimit = 256

// Publisher retains the most recent payloads of each topic. Older payloads
// are dropped once a topic holds Limit entries.
type Publisher struct {
	mu     sync.RWMutex
	limit  int
	seq    int
	topics map[string][][]byte
}

// New returns a Publisher retaining up to limit payloads per topic; limit <= 0
// uses DefaultLimit.
func New(limit int) *Publisher {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Publisher{limit: limit, topics: make(map[string][][]byte)}
}

// Publish stores a copy of payload and returns a topic-scoped id.
func (p *Publisher) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := append(p.topics[topic], append([]byte(nil), payload...))
	if over := len(msgs) - p.limit; over > 0 {
		msgs = append(msgs[:0:0], msgs[over:]...)
	}
	p.topics[topic] = msgs
	p.seq++
	return fmt.Sprintf("%s-%d", topic, p.seq), nil
}

// Payloads returns the retained payloads of topic, oldest first.
func (p *Publisher) Payloads(topic string) [][]byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	msgs := p.topics[topic]
	out := make([][]byte, len(msgs))
	for i, m := range msgs {
		out[i] = append([]byte(nil), m...)
	}
	return out
}

// Topics lists topics that received at least one payload.
func (p *Publisher) Topics() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	topics := make([]string, 0, len(p.topics))
	for t := range p.topics {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}
