// Package app wires the crawl pipeline, job registry and chat sessions
// together and exposes them as one Service.
package app

import (
	"context"
	"fmt"
	"iter"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitechat/internal/chat"
	"github.com/JakeFAU/sitechat/internal/jobs"
)

// Registry is the slice of jobs.Registry the Service drives.
type Registry interface {
	Admit(ctx context.Context, domain string) (jobs.Admission, error)
	Requeue(ctx context.Context, domain string) (jobs.Admission, error)
	Run(ctx context.Context, domain string) error
	Status(domain string) jobs.Status
	Instance(domain string) (*chat.Session, error)
	Domains() []string
}

// Enqueuer hands an admitted domain to the background workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, domain string) error
}

// Service is the facade behind the CLI and the HTTP API.
type Service struct {
	registry Registry
	queue    Enqueuer
	logger   *zap.Logger
}

// NewService builds a Service. A nil queue makes SubmitDomain synchronous.
func NewService(registry Registry, queue Enqueuer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{registry: registry, queue: queue, logger: logger.Named("service")}
}

// SubmitDomain admits domain for crawling. Accepted domains are handed to the
// worker pool and crawled in the background.
func (s *Service) SubmitDomain(ctx context.Context, domain string) (jobs.Admission, error) {
	return s.schedule(ctx, domain, s.registry.Admit)
}

// RecrawlDomain schedules an incremental re-crawl of a completed or failed domain.
func (s *Service) RecrawlDomain(ctx context.Context, domain string) (jobs.Admission, error) {
	return s.schedule(ctx, domain, s.registry.Requeue)
}

func (s *Service) schedule(
	ctx context.Context,
	domain string,
	admit func(context.Context, string) (jobs.Admission, error),
) (jobs.Admission, error) {
	if s.queue == nil {
		return s.crawl(ctx, domain, admit)
	}
	adm, err := admit(ctx, domain)
	if err != nil || adm == jobs.AlreadyActive {
		return adm, err
	}
	host, err := jobs.NormalizeDomain(domain)
	if err != nil {
		return adm, err
	}
	if err := s.queue.Enqueue(ctx, host); err != nil {
		// The domain stays queued and is picked up again on the next start.
		s.logger.Error("enqueue domain", zap.String("domain", host), zap.Error(err))
		return adm, fmt.Errorf("enqueue %s: %w", host, err)
	}
	return adm, nil
}

// CrawlDomain admits and crawls domain in the calling goroutine. With
// recrawl set, a completed domain is crawled again incrementally.
func (s *Service) CrawlDomain(ctx context.Context, domain string, recrawl bool) (jobs.Admission, error) {
	admit := s.registry.Admit
	if recrawl {
		admit = s.registry.Requeue
	}
	return s.crawl(ctx, domain, admit)
}

func (s *Service) crawl(
	ctx context.Context,
	domain string,
	admit func(context.Context, string) (jobs.Admission, error),
) (jobs.Admission, error) {
	adm, err := admit(ctx, domain)
	if err != nil || adm == jobs.AlreadyActive {
		return adm, err
	}
	return adm, s.registry.Run(ctx, domain)
}

// GetStatus reports the lifecycle state of domain.
func (s *Service) GetStatus(domain string) jobs.Status {
	return s.registry.Status(domain)
}

// Domains lists every tracked domain.
func (s *Service) Domains() []string {
	return s.registry.Domains()
}

// Ask streams the answer to question about domain. It fails with
// jobs.ErrDomainNotReady before any streaming unless the domain is completed.
func (s *Service) Ask(ctx context.Context, domain, question string) (iter.Seq2[string, error], error) {
	session, err := s.registry.Instance(domain)
	if err != nil {
		return nil, err
	}
	return session.Ask(ctx, question), nil
}
