package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitechat/internal/metrics"
)

// ErrEmptyContent marks a page whose text stayed empty after the retry.
var ErrEmptyContent = errors.New("page has no extractable text")

// Config holds the settings for a crawl session.
type Config struct {
	// Scheme of the start URL; defaults to https.
	Scheme      string
	UserAgent   string
	Concurrency int
	// MaxPages caps fetched pages per run; zero means unlimited.
	MaxPages         int
	PersistEveryPage bool
	// ExpectedURLs sizes the frontier's Bloom filter.
	ExpectedURLs uint
}

// Dependencies are the collaborators an Engine drives. Renderer, Limiter, and
// Retry are optional.
type Dependencies struct {
	Fetcher   Fetcher
	Renderer  Fetcher
	Extractor Extractor
	Chunker   Chunker
	Embedder  Embedder
	Indexer   Indexer
	Hasher    Hasher
	IDs       IDGenerator
	Clock     Clock
	Limiter   RateLimiter
	Retry     RetryPolicy
}

// Engine performs breadth-first, single-domain crawls into a ContentStore.
type Engine struct {
	cfg    Config
	deps   Dependencies
	logger *zap.Logger
}

type fetchResult struct {
	link Link
	resp FetchResponse
	page Page
	err  error
}

// NewEngine validates dependencies and builds an Engine.
func NewEngine(cfg Config, deps Dependencies, logger *zap.Logger) (*Engine, error) {
	var missing []string
	for name, ok := range map[string]bool{
		"fetcher":   deps.Fetcher != nil,
		"extractor": deps.Extractor != nil,
		"chunker":   deps.Chunker != nil,
		"embedder":  deps.Embedder != nil,
		"indexer":   deps.Indexer != nil,
		"hasher":    deps.Hasher != nil,
		"ids":       deps.IDs != nil,
		"clock":     deps.Clock != nil,
	} {
		if !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("crawler engine missing dependencies: %s", strings.Join(missing, ", "))
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "https"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ExpectedURLs == 0 {
		cfg.ExpectedURLs = 10000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, deps: deps, logger: logger.Named("crawler")}, nil
}

// Run crawls domain up to depthLimit link hops from its root page. Per-URL
// fetch failures are logged and skipped; embedding, indexing, or persistence
// failures abort the run. The table is always persisted before Run returns,
// even when ctx is canceled.
func (e *Engine) Run(ctx context.Context, store ContentStore, domain string, depthLimit int) (Stats, error) {
	stats := Stats{StatusCodes: make(map[string]int)}
	logger := e.logger.With(zap.String("domain", domain), zap.Int("depth_limit", depthLimit))

	frontier := NewFrontier(e.cfg.ExpectedURLs, 1e-4)
	frontier.Push(Link{URL: StartURL(e.cfg.Scheme, domain), Depth: 0})
	logger.Info("crawl started")

	runErr := e.walk(ctx, store, domain, depthLimit, frontier, &stats)

	if err := store.Persist(context.WithoutCancel(ctx)); err != nil && runErr == nil {
		runErr = fmt.Errorf("persist table: %w", err)
	}
	if runErr != nil {
		logger.Error("crawl aborted", zap.Error(runErr), zap.Int("pages", stats.Pages))
		return stats, runErr
	}
	logger.Info("crawl finished",
		zap.Int("pages", stats.Pages),
		zap.Int("created", stats.Created),
		zap.Int("updated", stats.Updated),
		zap.Int("unchanged", stats.Unchanged),
		zap.Int("skipped", stats.Skipped),
		zap.Int("rate_limited", stats.RateLimited),
	)
	return stats, nil
}

func (e *Engine) walk(ctx context.Context, store ContentStore, domain string, depthLimit int, frontier *Frontier, stats *Stats) error {
	visited := 0
	for frontier.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("crawl canceled: %w", err)
		}
		batchSize := e.cfg.Concurrency
		if e.cfg.MaxPages > 0 {
			remaining := e.cfg.MaxPages - visited
			if remaining <= 0 {
				e.logger.Info("max pages reached", zap.String("domain", domain), zap.Int("max_pages", e.cfg.MaxPages))
				return nil
			}
			batchSize = min(batchSize, remaining)
		}

		batch := frontier.Next(batchSize)
		visited += len(batch)
		for _, res := range e.fetchBatch(ctx, batch) {
			if err := e.process(ctx, store, domain, depthLimit, res, frontier, stats); err != nil {
				return err
			}
		}
	}
	return nil
}

// fetchBatch fetches links concurrently and returns results in input order.
func (e *Engine) fetchBatch(ctx context.Context, batch []Link) []fetchResult {
	results := make([]fetchResult, len(batch))
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i, link := range batch {
		g.Go(func() error {
			results[i] = e.fetchPage(ctx, link)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// fetchPage fetches and extracts one page, retrying once through the renderer
// (or the static fetcher when none is configured) if no text came back.
func (e *Engine) fetchPage(ctx context.Context, link Link) fetchResult {
	res := fetchResult{link: link}
	res.resp, res.page, res.err = e.fetchWith(ctx, e.deps.Fetcher, link)
	if res.err != nil || strings.TrimSpace(res.page.Text) != "" {
		return res
	}

	second := e.deps.Renderer
	if second == nil {
		second = e.deps.Fetcher
	}
	e.logger.Debug("empty page, retrying", zap.String("url", link.URL), zap.Bool("headless", e.deps.Renderer != nil))
	resp, page, err := e.fetchWith(ctx, second, link)
	if err != nil {
		e.logger.Warn("empty page retry failed", zap.String("url", link.URL), zap.Error(err))
		return res
	}
	res.resp, res.page = resp, page
	return res
}

func (e *Engine) fetchWith(ctx context.Context, fetcher Fetcher, link Link) (FetchResponse, Page, error) {
	if e.deps.Limiter != nil {
		if err := e.deps.Limiter.Wait(ctx, link.URL); err != nil {
			return FetchResponse{}, Page{}, err
		}
	}
	resp, err := fetcher.Fetch(ctx, FetchRequest{URL: link.URL, Depth: link.Depth, UserAgent: e.cfg.UserAgent})
	if err != nil {
		return FetchResponse{}, Page{}, err
	}
	page, err := e.deps.Extractor.Extract(resp)
	if err != nil {
		return resp, Page{}, fmt.Errorf("extract %s: %w", link.URL, err)
	}
	return resp, page, nil
}

// process applies one fetch result to the store. It runs on a single
// goroutine so the hash check and upsert for a URL cannot interleave.
func (e *Engine) process(ctx context.Context, store ContentStore, domain string, depthLimit int, res fetchResult, frontier *Frontier, stats *Stats) error {
	url := res.link.URL
	if res.err != nil {
		var statusErr *StatusError
		switch {
		case errors.As(res.err, &statusErr):
			e.countStatus(store, stats, url, statusErr.StatusCode, 0)
			if statusErr.StatusCode == http.StatusTooManyRequests {
				stats.RateLimited++
				metrics.ObserveRateLimited(url)
				if t, ok := e.deps.Limiter.(Throttler); ok {
					t.Throttle(url)
				}
				e.logger.Warn("rate limited", zap.String("url", url), zap.Int("status_code", statusErr.StatusCode))
			} else {
				e.logger.Warn("request failed", zap.String("url", url), zap.Int("status_code", statusErr.StatusCode))
			}
		case ctx.Err() != nil:
			return fmt.Errorf("crawl canceled: %w", ctx.Err())
		default:
			e.logger.Warn("request failed", zap.String("url", url), zap.Error(res.err))
		}
		stats.Skipped++
		return nil
	}

	stats.Pages++
	e.countStatus(store, stats, url, res.resp.StatusCode, len(res.resp.Body))

	if strings.TrimSpace(res.page.Text) == "" {
		e.logger.Info("skipping page", zap.String("url", url), zap.Error(ErrEmptyContent))
		stats.Skipped++
		return nil
	}

	key := recordURL(res, domain)
	if key != url {
		// Links to the redirect target must not fetch it again.
		frontier.Mark(key)
	}
	if err := e.upsert(ctx, store, domain, key, res.resp.StatusCode, res.page.Text, stats); err != nil {
		return err
	}

	if res.link.Depth < depthLimit {
		for _, link := range res.page.Links {
			if SameHost(link, domain) {
				frontier.Push(Link{URL: link, Depth: res.link.Depth + 1})
			}
		}
	}
	return nil
}

// recordURL is the address a page is stored under: where the fetch ended up
// after redirects, as long as that stays on the crawled host.
func recordURL(res fetchResult, domain string) string {
	if res.resp.FinalURL == "" || res.resp.FinalURL == res.link.URL {
		return res.link.URL
	}
	final, err := NormalizeURL(res.resp.FinalURL)
	if err != nil || !SameHost(final, domain) {
		return res.link.URL
	}
	return final
}

func (e *Engine) countStatus(store ContentStore, stats *Stats, url string, code, size int) {
	store.RecordStatus(code)
	stats.StatusCodes[strconv.Itoa(code)]++
	metrics.ObservePage(url, code, size)
}

func (e *Engine) upsert(ctx context.Context, store ContentStore, domain, url string, statusCode int, text string, stats *Stats) error {
	hash, err := e.deps.Hasher.Hash([]byte(text))
	if err != nil {
		return fmt.Errorf("hash %s: %w", url, err)
	}

	existing, found := store.Get(url)
	if found && existing.ContentHash == hash {
		stats.Unchanged++
		return nil
	}

	var record PageRecord
	var fullTexts []string
	if found {
		// The page's own previous text is excluded so its chunks are regenerated in full.
		record = existing
		fullTexts = store.AllFullTexts(url)
	} else {
		id, err := e.deps.IDs.NewID()
		if err != nil {
			return fmt.Errorf("page id: %w", err)
		}
		record = PageRecord{URL: url, ID: id, LastCrawledAt: e.deps.Clock.Now()}
		fullTexts = store.AllFullTexts()
	}

	chunks, err := e.buildChunks(ctx, url, e.deps.Chunker.Chunk(text, fullTexts))
	if err != nil {
		return err
	}
	if found && len(existing.Chunks) > 0 {
		err := retry(ctx, e.deps.Retry, func() error {
			return e.deps.Indexer.RemoveChunks(ctx, domain, existing.ChunkIDs())
		})
		if err != nil {
			return fmt.Errorf("remove stale chunks for %s: %w", url, err)
		}
	}
	if len(chunks) > 0 {
		err := retry(ctx, e.deps.Retry, func() error {
			return e.deps.Indexer.IndexChunks(ctx, domain, chunks)
		})
		if err != nil {
			return fmt.Errorf("index chunks for %s: %w", url, err)
		}
		metrics.ObserveChunksIndexed(domain, len(chunks))
	}

	record.FullText = text
	record.ContentHash = hash
	record.Chunks = chunks
	record.StatusCode = statusCode
	store.Upsert(record)
	if found {
		stats.Updated++
		e.logger.Info("page changed", zap.String("url", url), zap.Int("chunks", len(chunks)))
	} else {
		stats.Created++
		e.logger.Debug("page stored", zap.String("url", url), zap.Int("chunks", len(chunks)))
	}

	if e.cfg.PersistEveryPage {
		if err := store.Persist(ctx); err != nil {
			return fmt.Errorf("persist table: %w", err)
		}
	}
	return nil
}

func (e *Engine) buildChunks(ctx context.Context, url string, segments []string) ([]Chunk, error) {
	if len(segments) == 0 {
		return nil, nil
	}
	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = url + ": " + seg
	}
	var vectors [][]float32
	err := retry(ctx, e.deps.Retry, func() error {
		var embedErr error
		vectors, embedErr = e.deps.Embedder.Embed(ctx, texts)
		return embedErr
	})
	if err != nil {
		return nil, fmt.Errorf("embed chunks for %s: %w", url, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embed chunks for %s: got %d vectors for %d chunks", url, len(vectors), len(texts))
	}

	chunks := make([]Chunk, len(texts))
	for i, text := range texts {
		id, err := e.deps.IDs.NewID()
		if err != nil {
			return nil, fmt.Errorf("chunk id: %w", err)
		}
		chunks[i] = Chunk{ID: id, Text: text, SourceURL: url, Vector: vectors[i]}
	}
	return chunks, nil
}
