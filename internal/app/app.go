package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitechat/internal/chat"
	"github.com/JakeFAU/sitechat/internal/chunker"
	"github.com/JakeFAU/sitechat/internal/clock/system"
	"github.com/JakeFAU/sitechat/internal/config"
	"github.com/JakeFAU/sitechat/internal/content"
	"github.com/JakeFAU/sitechat/internal/crawler"
	"github.com/JakeFAU/sitechat/internal/dispatcher"
	"github.com/JakeFAU/sitechat/internal/extract"
	collyfetcher "github.com/JakeFAU/sitechat/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/sitechat/internal/fetcher/headless"
	"github.com/JakeFAU/sitechat/internal/hash/sha256"
	"github.com/JakeFAU/sitechat/internal/id/uuid"
	"github.com/JakeFAU/sitechat/internal/jobs"
	"github.com/JakeFAU/sitechat/internal/llm/gemini"
	"github.com/JakeFAU/sitechat/internal/metrics"
	"github.com/JakeFAU/sitechat/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/sitechat/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/sitechat/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/sitechat/internal/queue/memory"
	"github.com/JakeFAU/sitechat/internal/retriever"
	"github.com/JakeFAU/sitechat/internal/storage/gcs"
	"github.com/JakeFAU/sitechat/internal/storage/local"
	memorystorage "github.com/JakeFAU/sitechat/internal/storage/memory"
	"github.com/JakeFAU/sitechat/internal/storage/postgres"
	"github.com/JakeFAU/sitechat/internal/vectorstore"
	esstore "github.com/JakeFAU/sitechat/internal/vectorstore/elasticsearch"
	memoryvectors "github.com/JakeFAU/sitechat/internal/vectorstore/memory"
)

// App holds the long-lived services built from configuration.
type App struct {
	Service  *Service
	Registry *jobs.Registry[*chat.Session]
	Pool     *dispatcher.Dispatcher

	queue   *queuememory.Queue
	logger  *zap.Logger
	closers []func() error
}

// Models are the language-model collaborators. Tests supply fakes; New
// connects to Gemini when nil.
type Models interface {
	chat.Model
	crawler.Embedder
}

// Option customizes New.
type Option func(*buildOptions)

type buildOptions struct {
	models Models
	blobs  crawler.BlobStore
}

// WithModels replaces the Gemini client.
func WithModels(m Models) Option {
	return func(o *buildOptions) { o.models = m }
}

// WithBlobStore replaces the configured storage backend.
func WithBlobStore(b crawler.BlobStore) Option {
	return func(o *buildOptions) { o.blobs = b }
}

// New builds every service from cfg, loads the status table and restores
// domains completed by earlier runs. Domains that were still queued are
// handed back to the worker queue.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.Metrics.Enabled {
		metrics.Init()
	}

	a := &App{logger: logger}
	fail := func(err error) (*App, error) {
		_ = a.Close()
		return nil, err
	}

	blobs := o.blobs
	if blobs == nil {
		b, err := a.blobStore(ctx, cfg.Storage)
		if err != nil {
			return fail(err)
		}
		blobs = b
	}

	models := o.models
	if models == nil {
		client, err := gemini.NewClient(ctx, gemini.Config{
			APIKey:         cfg.LLM.APIKey,
			ChatModel:      cfg.LLM.ChatModel,
			EmbeddingModel: cfg.LLM.EmbeddingModel,
			BaseURL:        cfg.LLM.BaseURL,
		}, logger)
		if err != nil {
			return fail(err)
		}
		models = client
	}

	vectors, err := vectorStore(cfg.VectorStore, logger)
	if err != nil {
		return fail(err)
	}

	clock := system.New()
	search := retriever.New(vectors, models, content.NewSource(blobs), logger,
		retriever.WithDefaultLimit(cfg.LLM.SearchLimit))
	orchestrator := chat.NewOrchestrator(models, search, logger,
		chat.WithTemperature(cfg.LLM.Temperature),
		chat.WithSearchLimit(cfg.LLM.SearchLimit))

	engine, err := a.engine(cfg.Crawler, models, search, clock)
	if err != nil {
		return fail(err)
	}

	sessions := NewSessions(blobs, engine, search, orchestrator, clock, content.Meta{
		Depth:          cfg.Crawler.Depth,
		ChunkSize:      cfg.Crawler.ChunkSize,
		EmbeddingModel: models.Model(),
	}, logger)

	statuses, err := a.statusStore(ctx, cfg.Status, blobs)
	if err != nil {
		return fail(err)
	}

	registryOpts := []jobs.Option{
		jobs.WithClock(clock),
		jobs.WithSeeder(func(ctx context.Context) ([]string, error) { return content.Domains(ctx, blobs) }),
	}
	pub, err := a.publisher(ctx, cfg.Publisher)
	if err != nil {
		return fail(err)
	}
	if pub != nil {
		registryOpts = append(registryOpts, jobs.WithPublisher(pub, cfg.Publisher.Topic))
	}

	a.Registry = jobs.NewRegistry(statuses, sessions.Factory(), logger.Named("jobs"), registryOpts...)
	if err := a.Registry.Load(ctx); err != nil {
		return fail(err)
	}
	if err := a.Registry.RecoverAll(ctx); err != nil {
		return fail(err)
	}

	a.queue = queuememory.NewQueue(cfg.Queue.Buffer)
	a.Pool = dispatcher.NewPool(a.queue, a.Registry, cfg.Queue.Workers, logger)
	a.Service = NewService(a.Registry, a.Pool, logger)
	return a, nil
}

// Start runs the worker pool until ctx is done and re-enqueues domains left
// queued by a previous process. It blocks.
func (a *App) Start(ctx context.Context) {
	go func() {
		for _, d := range a.Registry.Pending() {
			if err := a.Pool.Enqueue(ctx, d); err != nil {
				a.logger.Warn("re-enqueue pending domain", zap.String("domain", d), zap.Error(err))
				return
			}
			a.logger.Info("re-enqueued pending domain", zap.String("domain", d))
		}
	}()
	a.Pool.Run(ctx)
}

// Close releases queues and client connections.
func (a *App) Close() error {
	if a.queue != nil {
		a.queue.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) blobStore(ctx context.Context, cfg config.StorageConfig) (crawler.BlobStore, error) {
	switch cfg.Backend {
	case "memory":
		return memorystorage.NewBlobStore(), nil
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return gcs.New(client, gcs.Config{Bucket: cfg.GCS.Bucket, Prefix: cfg.GCS.Prefix})
	default:
		return local.New(local.Config{BaseDir: cfg.Local.BaseDir})
	}
}

func vectorStore(cfg config.VectorStoreConfig, logger *zap.Logger) (vectorstore.Store, error) {
	if cfg.Backend != "elasticsearch" {
		return memoryvectors.New(), nil
	}
	client, err := esstore.NewClient(esstore.Config{
		Addresses: cfg.Elasticsearch.Addresses,
		Username:  cfg.Elasticsearch.Username,
		Password:  cfg.Elasticsearch.Password,
	})
	if err != nil {
		return nil, err
	}
	return esstore.New(client, cfg.Elasticsearch.IndexPrefix, logger), nil
}

func (a *App) engine(cfg config.CrawlerConfig, embedder crawler.Embedder, index crawler.Indexer, clock crawler.Clock) (*crawler.Engine, error) {
	deps := crawler.Dependencies{
		Fetcher: collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.UserAgent,
			RespectRobots: cfg.RespectRobots,
			Timeout:       cfg.RequestTimeout,
		}),
		Extractor: extract.New(),
		Chunker:   chunker.New(chunker.WithChunkSize(cfg.ChunkSize)),
		Embedder:  embedder,
		Indexer:   index,
		Hasher:    sha256.New(),
		IDs:       uuid.New(),
		Clock:     clock,
		Limiter:   ratelimit.New(ratelimit.Config{DefaultRPS: cfg.RatePerSecond, DefaultBurst: cfg.Burst}),
		Retry:     crawler.NewExponentialRetryPolicy(cfg.MaxRetries, 500*time.Millisecond, 10*time.Second),
	}
	if cfg.Headless.Enabled {
		renderer, err := headlessfetcher.New(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.UserAgent,
			NavigationTimeout: cfg.Headless.NavTimeout,
		})
		if err != nil {
			a.logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			deps.Renderer = renderer
			a.closers = append(a.closers, func() error { renderer.Close(); return nil })
		}
	}
	return crawler.NewEngine(crawler.Config{
		UserAgent:        cfg.UserAgent,
		Concurrency:      cfg.Concurrency,
		MaxPages:         cfg.MaxPages,
		PersistEveryPage: cfg.PersistEveryPage,
	}, deps, a.logger)
}

func (a *App) statusStore(ctx context.Context, cfg config.StatusConfig, blobs crawler.BlobStore) (jobs.Store, error) {
	if cfg.Backend != "postgres" {
		return jobs.NewFileStore(blobs, cfg.File), nil
	}
	store, err := postgres.NewStatusStore(ctx, postgres.Config{
		DSN:      cfg.Postgres.DSN,
		Table:    cfg.Postgres.Table,
		MaxConns: cfg.Postgres.MaxConns,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { store.Close(); return nil })
	return store, nil
}

func (a *App) publisher(ctx context.Context, cfg config.PublisherConfig) (crawler.Publisher, error) {
	switch cfg.Backend {
	case "memory":
		return memorypublisher.New(memorypublisher.DefaultLimit), nil
	case "pubsub":
		p, err := pubsubpublisher.Dial(ctx, cfg.ProjectID)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		return p, nil
	default:
		return nil, nil
	}
}
