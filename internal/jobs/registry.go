package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitechat/internal/clock/system"
	"github.com/JakeFAU/sitechat/internal/crawler"
	"github.com/JakeFAU/sitechat/internal/metrics"
)

// Factory produces the chat-ready instance of a domain.
type Factory[T any] struct {
	// Build crawls and indexes the domain, then returns its instance.
	Build func(ctx context.Context, domain string) (T, error)
	// Restore reconstructs the instance from stored data without crawling.
	Restore func(ctx context.Context, domain string) (T, error)
}

// Seeder lists domains that already have stored content. It is consulted
// when no status table exists yet.
type Seeder func(ctx context.Context) ([]string, error)

// Registry is the per-domain lifecycle state machine. It guarantees a domain
// is never crawled by two submissions at once and persists after every
// transition.
type Registry[T any] struct {
	store     Store
	factory   Factory[T]
	logger    *zap.Logger
	clock     crawler.Clock
	publisher crawler.Publisher
	topic     string
	seed      Seeder

	mu        sync.Mutex
	statuses  map[string]Status
	instances map[string]T

	saveMu sync.Mutex
}

// Option customizes a Registry.
type Option func(*options)

type options struct {
	clock     crawler.Clock
	publisher crawler.Publisher
	topic     string
	seed      Seeder
}

// WithClock overrides the clock stamped on events.
func WithClock(c crawler.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithPublisher publishes an Event to topic on every transition.
func WithPublisher(p crawler.Publisher, topic string) Option {
	return func(o *options) {
		o.publisher = p
		o.topic = topic
	}
}

// WithSeeder sets the source used to bootstrap a missing status table.
func WithSeeder(s Seeder) Option {
	return func(o *options) { o.seed = s }
}

// NewRegistry constructs an empty Registry. Call Load before use.
func NewRegistry[T any](store Store, factory Factory[T], logger *zap.Logger, opts ...Option) *Registry[T] {
	o := options{clock: system.New()}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry[T]{
		store:     store,
		factory:   factory,
		logger:    logger,
		clock:     o.clock,
		publisher: o.publisher,
		topic:     o.topic,
		seed:      o.seed,
		statuses:  make(map[string]Status),
		instances: make(map[string]T),
	}
}

// Load reads the persisted status table. A missing table is seeded by marking
// every domain known to the Seeder completed. Domains interrupted mid-crawl
// by a previous process come back as queued.
func (r *Registry[T]) Load(ctx context.Context) error {
	statuses, err := r.store.Load(ctx)
	switch {
	case errors.Is(err, ErrStatusNotFound):
		statuses = make(map[string]Status)
		if r.seed != nil {
			domains, err := r.seed(ctx)
			if err != nil {
				return fmt.Errorf("seed status table: %w", err)
			}
			for _, d := range domains {
				statuses[d] = Status{State: StateCompleted}
			}
			r.logger.Info("seeded status table", zap.Int("domains", len(domains)))
		}
	case err != nil:
		return fmt.Errorf("load status table: %w", err)
	}

	for d, st := range statuses {
		if st.State == StateProcessing {
			statuses[d] = Status{State: StateQueued}
		}
	}

	r.mu.Lock()
	r.statuses = statuses
	r.mu.Unlock()
	return r.persist(ctx)
}

// Admit moves a domain to queued unless it is already queued, processing or
// completed. A failed domain is admitted again.
func (r *Registry[T]) Admit(ctx context.Context, domain string) (Admission, error) {
	return r.admit(ctx, domain, Status.Active)
}

// Requeue admits a completed or failed domain for an incremental re-crawl.
// Queued and processing domains are reported as already active.
func (r *Registry[T]) Requeue(ctx context.Context, domain string) (Admission, error) {
	return r.admit(ctx, domain, func(st Status) bool {
		return st.State == StateQueued || st.State == StateProcessing
	})
}

func (r *Registry[T]) admit(ctx context.Context, domain string, blocked func(Status) bool) (Admission, error) {
	host, err := NormalizeDomain(domain)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	if blocked(r.statuses[host]) {
		r.mu.Unlock()
		return AlreadyActive, nil
	}
	r.statuses[host] = Status{State: StateQueued}
	r.mu.Unlock()

	r.transitioned(ctx, host, Status{State: StateQueued})
	if err := r.persist(ctx); err != nil {
		return Accepted, err
	}
	return Accepted, nil
}

// Run crawls an admitted domain: queued → processing → completed or failed.
// A canceled context leaves the domain queued so it can resume later.
func (r *Registry[T]) Run(ctx context.Context, domain string) error {
	host, err := NormalizeDomain(domain)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if st := r.statuses[host]; st.State != StateQueued {
		r.mu.Unlock()
		return fmt.Errorf("run %s (%s): %w", host, st, ErrNotQueued)
	}
	r.statuses[host] = Status{State: StateProcessing}
	r.mu.Unlock()
	r.transitioned(ctx, host, Status{State: StateProcessing})
	if err := r.persist(ctx); err != nil {
		r.logger.Error("persist status", zap.String("domain", host), zap.Error(err))
	}

	instance, buildErr := r.factory.Build(ctx, host)

	var next Status
	switch {
	case buildErr == nil:
		next = Status{State: StateCompleted}
	case ctx.Err() != nil:
		next = Status{State: StateQueued}
	default:
		next = Status{State: StateFailed, Reason: buildErr.Error()}
	}

	r.mu.Lock()
	r.statuses[host] = next
	if buildErr == nil {
		r.instances[host] = instance
	}
	r.mu.Unlock()

	persistCtx := context.WithoutCancel(ctx)
	r.transitioned(persistCtx, host, next)
	if err := r.persist(persistCtx); err != nil {
		return errors.Join(buildErr, err)
	}
	if buildErr != nil {
		return fmt.Errorf("crawl %s: %w", host, buildErr)
	}
	return nil
}

// Submit admits domain and, when accepted, runs the crawl synchronously.
func (r *Registry[T]) Submit(ctx context.Context, domain string) (Admission, error) {
	adm, err := r.Admit(ctx, domain)
	if err != nil || adm == AlreadyActive {
		return adm, err
	}
	return adm, r.Run(ctx, domain)
}

// Status returns the current status; unknown domains are absent.
func (r *Registry[T]) Status(domain string) Status {
	host, err := NormalizeDomain(domain)
	if err != nil {
		return Status{State: StateAbsent}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.statuses[host]
	if !ok {
		return Status{State: StateAbsent}
	}
	return st
}

// Instance returns the chat-ready instance of a completed domain.
func (r *Registry[T]) Instance(domain string) (T, error) {
	var zero T
	host, err := NormalizeDomain(domain)
	if err != nil {
		return zero, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[host]
	if !ok || r.statuses[host].State != StateCompleted {
		return zero, fmt.Errorf("%s: %w", host, ErrDomainNotReady)
	}
	return inst, nil
}

// RecoverAll restores an instance for every completed domain without
// crawling. A domain whose restore fails is marked failed with the reason.
func (r *Registry[T]) RecoverAll(ctx context.Context) error {
	var completed []string
	r.mu.Lock()
	for d, st := range r.statuses {
		if _, ok := r.instances[d]; st.State == StateCompleted && !ok {
			completed = append(completed, d)
		}
	}
	r.mu.Unlock()
	sort.Strings(completed)

	for _, d := range completed {
		inst, err := r.factory.Restore(ctx, d)
		r.mu.Lock()
		if err != nil {
			r.statuses[d] = Status{State: StateFailed, Reason: err.Error()}
		} else {
			r.instances[d] = inst
		}
		r.mu.Unlock()

		if err != nil {
			r.logger.Warn("restore failed", zap.String("domain", d), zap.Error(err))
			r.transitioned(ctx, d, Status{State: StateFailed, Reason: err.Error()})
			continue
		}
		r.logger.Info("restored domain", zap.String("domain", d))
	}
	return r.persist(ctx)
}

// Domains returns every tracked domain, sorted.
func (r *Registry[T]) Domains() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	domains := make([]string, 0, len(r.statuses))
	for d := range r.statuses {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}

// Pending returns queued domains that no worker has picked up, sorted.
func (r *Registry[T]) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pending []string
	for d, st := range r.statuses {
		if st.State == StateQueued {
			pending = append(pending, d)
		}
	}
	sort.Strings(pending)
	return pending
}

// persist saves a snapshot taken while holding saveMu, so a later save never
// carries an older table than an earlier one.
func (r *Registry[T]) persist(ctx context.Context) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.Lock()
	snapshot := maps.Clone(r.statuses)
	r.mu.Unlock()

	if err := r.store.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("save status table: %w", err)
	}
	return nil
}

func (r *Registry[T]) transitioned(ctx context.Context, domain string, st Status) {
	metrics.ObserveJob(string(st.State))
	r.logger.Info("domain status changed", zap.String("domain", domain), zap.Stringer("status", st))

	if r.publisher == nil || r.topic == "" {
		return
	}
	payload, err := json.Marshal(Event{Domain: domain, State: st.State, Reason: st.Reason, At: r.clock.Now()})
	if err != nil {
		r.logger.Error("encode job event", zap.Error(err))
		return
	}
	if _, err := r.publisher.Publish(ctx, r.topic, payload); err != nil {
		r.logger.Warn("publish job event", zap.String("domain", domain), zap.Error(err))
	}
}
