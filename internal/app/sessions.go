package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitechat/internal/chat"
	"github.com/JakeFAU/sitechat/internal/content"
	"github.com/JakeFAU/sitechat/internal/crawler"
	"github.com/JakeFAU/sitechat/internal/jobs"
)

// Crawler runs one crawl of a domain into its table.
type Crawler interface {
	Run(ctx context.Context, store crawler.ContentStore, domain string, depthLimit int) (crawler.Stats, error)
}

// Indexer prepares a domain's retrieval index.
type Indexer interface {
	EnsureIndex(ctx context.Context, domain string) (bool, error)
}

// Sessions builds chat sessions for domains, crawling them first when asked.
type Sessions struct {
	blobs        crawler.BlobStore
	crawler      Crawler
	index        Indexer
	orchestrator *chat.Orchestrator
	clock        crawler.Clock
	meta         content.Meta
	logger       *zap.Logger
}

// NewSessions wires the crawl and chat halves of a domain. meta.Depth is the
// crawl depth limit; AllowedDomains is filled per domain.
func NewSessions(
	blobs crawler.BlobStore,
	c Crawler,
	index Indexer,
	orchestrator *chat.Orchestrator,
	clock crawler.Clock,
	meta content.Meta,
	logger *zap.Logger,
) *Sessions {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sessions{
		blobs:        blobs,
		crawler:      c,
		index:        index,
		orchestrator: orchestrator,
		clock:        clock,
		meta:         meta,
		logger:       logger.Named("sessions"),
	}
}

// Factory adapts Sessions to the registry.
func (s *Sessions) Factory() jobs.Factory[*chat.Session] {
	return jobs.Factory[*chat.Session]{Build: s.Build, Restore: s.Restore}
}

// Build crawls domain, makes sure its index is ready and returns a session.
func (s *Sessions) Build(ctx context.Context, domain string) (*chat.Session, error) {
	meta := s.meta
	meta.AllowedDomains = []string{domain}
	store, err := content.Open(ctx, s.blobs, domain, meta, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}

	stats, err := s.crawler.Run(ctx, store, domain, meta.Depth)
	if err != nil {
		return nil, err
	}

	ready, err := s.index.EnsureIndex(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}
	if !ready {
		s.logger.Warn("domain has no indexed content", zap.String("domain", domain), zap.Int("pages", stats.Pages))
	}
	return s.orchestrator.Session(domain), nil
}

// Restore returns a session for a domain crawled by an earlier process. The
// domain table must exist; the index is built lazily on first search.
func (s *Sessions) Restore(ctx context.Context, domain string) (*chat.Session, error) {
	if _, err := content.Load(ctx, s.blobs, domain); err != nil {
		return nil, err
	}
	return s.orchestrator.Session(domain), nil
}
