// Package headless renders pages in headless Chrome for sites whose static
// HTML carries no text.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/sitechat/internal/crawler"
)

const (
	defaultNavTimeout  = 45 * time.Second
	defaultSettleDelay = 500 * time.Millisecond
)

// Config controls the renderer.
type Config struct {
	// MaxParallel bounds concurrent browser tabs. Zero means unbounded.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay is how long to wait after the body is ready for scripts to render.
	SettleDelay time.Duration
}

// Renderer implements crawler.Fetcher by loading pages in a shared Chrome
// process, one tab per call.
type Renderer struct {
	cfg     Config
	tabs    *semaphore.Weighted
	browser context.Context
	stop    context.CancelFunc
}

// New starts the browser allocator. Chrome itself is launched lazily by the
// first Fetch.
func New(cfg Config) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("headless: max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	r := &Renderer{cfg: cfg}
	if cfg.MaxParallel > 0 {
		r.tabs = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	r.browser, r.stop = chromedp.NewExecAllocator(context.Background(), opts...)
	return r, nil
}

// Close shuts the browser down.
func (r *Renderer) Close() {
	r.stop()
}

// Fetch loads request.URL, waits for scripts to settle and returns the
// rendered document. A document status of 300 or above is a *crawler.StatusError.
func (r *Renderer) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if r.tabs != nil {
		if err := r.tabs.Acquire(ctx, 1); err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, err)
		}
		defer r.tabs.Release(1)
	}

	tab, closeTab := chromedp.NewContext(r.browser)
	defer closeTab()
	tab, cancel := context.WithTimeout(tab, r.cfg.NavigationTimeout)
	defer cancel()
	// Stop the tab when the caller gives up.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &documentResponse{}
	chromedp.ListenTarget(tab, doc.observe)

	started := time.Now()
	var html, location string
	err := chromedp.Run(tab,
		r.prepare(request),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.cfg.SettleDelay),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return crawler.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, err)
	}

	status, headers, finalURL := doc.result()
	if status == 0 {
		status = http.StatusOK
	}
	if finalURL == "" {
		finalURL = location
	}
	if finalURL == "" {
		finalURL = request.URL
	}
	if status >= http.StatusMultipleChoices {
		return crawler.FetchResponse{}, &crawler.StatusError{URL: request.URL, StatusCode: status}
	}
	return crawler.FetchResponse{
		URL:          request.URL,
		FinalURL:     finalURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(started),
		UsedHeadless: true,
	}, nil
}

func (r *Renderer) prepare(request crawler.FetchRequest) chromedp.Action {
	agent := request.UserAgent
	if agent == "" {
		agent = r.cfg.UserAgent
	}
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network: %w", err)
		}
		if agent != "" {
			if err := emulation.SetUserAgentOverride(agent).Do(ctx); err != nil {
				return fmt.Errorf("set user agent: %w", err)
			}
		}
		if len(request.Headers) == 0 {
			return nil
		}
		if err := network.SetExtraHTTPHeaders(networkHeaders(request.Headers)).Do(ctx); err != nil {
			return fmt.Errorf("set headers: %w", err)
		}
		return nil
	})
}

// documentResponse remembers the last top-level document response seen by a
// tab; redirects overwrite earlier hops.
type documentResponse struct {
	mu      sync.Mutex
	status  int
	url     string
	headers http.Header
}

func (d *documentResponse) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := make(http.Header, len(resp.Response.Headers))
	for key, value := range resp.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, item := range v {
				headers.Add(key, fmt.Sprint(item))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	d.mu.Lock()
	d.status = int(resp.Response.Status)
	d.url = resp.Response.URL
	d.headers = headers
	d.mu.Unlock()
}

func (d *documentResponse) result() (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.headers == nil {
		return d.status, http.Header{}, d.url
	}
	return d.status, d.headers.Clone(), d.url
}

func networkHeaders(h http.Header) network.Headers {
	out := make(network.Headers, len(h))
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			out[key] = values[0]
		default:
			out[key] = append([]string(nil), values...)
		}
	}
	return out
}
