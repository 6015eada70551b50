// Package collyfetcher implements static conditional fetches using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	HeadTimeout   time.Duration
	MaxBodySize   int
}

// Fetcher issues static GET and HEAD requests through a Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HeadTimeout <= 0 {
		cfg.HeadTimeout = 10 * time.Second
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 50 << 20
	}
	c := colly.NewCollector(colly.Async(false))
	// Listing page 1 is fetched again on every run and during pattern probing.
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.MaxBodySize = cfg.MaxBodySize

	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a conditional GET. A 304 yields crawler.ErrNotModified and any
// other non-2xx status yields *crawler.HTTPError.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.Page, error) {
	return f.do(ctx, http.MethodGet, request, f.cfg.Timeout)
}

// Head issues a metadata-only request with the short head timeout.
func (f *Fetcher) Head(ctx context.Context, url string) (crawler.Page, error) {
	return f.do(ctx, http.MethodHead, crawler.FetchRequest{URL: url, Mode: crawler.RenderStatic}, f.cfg.HeadTimeout)
}

func (f *Fetcher) do(
	ctx context.Context,
	method string,
	request crawler.FetchRequest,
	timeout time.Duration,
) (crawler.Page, error) {
	var (
		result   crawler.Page
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(ctx, request, timeout, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, method, request.URL, &fetchErr); err != nil {
		return crawler.Page{}, err
	}
	switch {
	case result.StatusCode == http.StatusNotModified:
		return result, crawler.ErrNotModified
	case result.StatusCode < 200 || result.StatusCode > 299:
		return result, &crawler.HTTPError{URL: request.URL, StatusCode: result.StatusCode}
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	request crawler.FetchRequest,
	timeout time.Duration,
	start time.Time,
	result *crawler.Page,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	collector.MaxBodySize = f.cfg.MaxBodySize
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.SetRequestTimeout(timeout)

	transport := f.transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	collector.WithTransport(transport)

	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.Page,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(request, r)
		if request.Validators.ETag != "" {
			r.Headers.Set("If-None-Match", request.Validators.ETag)
		}
		if request.Validators.LastModified != "" {
			r.Headers.Set("If-Modified-Since", request.Validators.LastModified)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		finalURL := request.URL
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		*result = crawler.Page{
			URL:        request.URL,
			FinalURL:   finalURL,
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Validators: crawler.CacheValidators{
				ETag:         headers.Get("ETag"),
				LastModified: headers.Get("Last-Modified"),
			},
			Duration:     time.Since(start),
			UsedHeadless: false,
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	method string,
	url string,
	fetchErr *error,
) error {
	done := make(chan error, 1)
	go func() {
		if method == http.MethodHead {
			done <- collector.Head(url)
			return
		}
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly %s %s: %w", method, url, err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(request crawler.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
