// Package collyfetcher fetches site pages over plain HTTP with gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/sitechat/internal/crawler"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultMaxBodySize = 10 << 20
	acceptHTML         = "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// MaxBodySize caps the bytes read per page. Zero uses 10 MiB.
	MaxBodySize int
}

// Fetcher implements crawler.Fetcher. Every call clones a prototype collector
// so per-page callbacks never leak between concurrent fetches.
type Fetcher struct {
	cfg   Config
	proto *colly.Collector
}

type hookRegistrar interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	proto := colly.NewCollector(colly.Async(false), colly.MaxBodySize(cfg.MaxBodySize))
	proto.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
	})
	return &Fetcher{cfg: cfg, proto: proto}
}

// visit collects the outcome of a single page request.
type visit struct {
	req     crawler.FetchRequest
	started time.Time
	resp    crawler.FetchResponse
	err     error
}

func (v *visit) register(h hookRegistrar) {
	h.OnRequest(func(r *colly.Request) {
		if r.Headers.Get("Accept") == "" {
			r.Headers.Set("Accept", acceptHTML)
		}
		for key, values := range v.req.Headers {
			for _, value := range values {
				r.Headers.Add(key, value)
			}
		}
	})
	h.OnResponse(func(r *colly.Response) {
		v.resp = crawler.FetchResponse{
			URL:        v.req.URL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(v.started),
		}
	})
	h.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= http.StatusMultipleChoices {
			v.err = &crawler.StatusError{URL: v.req.URL, StatusCode: r.StatusCode}
			return
		}
		v.err = err
	})
}

func (f *Fetcher) collectorFor(req crawler.FetchRequest) *colly.Collector {
	c := f.proto.Clone()
	// Clones share the visited set; the renderer retry fetches the same URL again.
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = !f.cfg.RespectRobots
	c.SetRequestTimeout(f.cfg.Timeout)
	switch {
	case req.UserAgent != "":
		c.UserAgent = req.UserAgent
	case f.cfg.UserAgent != "":
		c.UserAgent = f.cfg.UserAgent
	}
	return c
}

// Fetch performs one GET. Statuses of 300 and above come back as
// *crawler.StatusError so the engine can count and classify them.
func (f *Fetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	if err := ctx.Err(); err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	v := &visit{req: req, started: time.Now()}
	c := f.collectorFor(req)
	v.register(c)

	done := make(chan error, 1)
	go func() { done <- c.Visit(req.URL) }()

	select {
	case <-ctx.Done():
		return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", req.URL, ctx.Err())
	case err := <-done:
		if v.err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", req.URL, v.err)
		}
		if err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("visit %s: %w", req.URL, err)
		}
		return v.resp, nil
	}
}
