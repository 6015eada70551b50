// Package fetcher is the fetch layer: static conditional fetches, headless renders
// and bot-block detection behind a single Fetch call.
package fetcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
	"github.com/JakeFAU/edital-crawler/internal/metrics"
)

// StaticFetcher performs plain HTTP requests.
type StaticFetcher interface {
	crawler.Fetcher
	crawler.HeadFetcher
}

// Layer composes the static fetcher, the headless renderer and the detectors.
// It holds no per-URL state; cache validators travel in the request.
type Layer struct {
	static   StaticFetcher
	headless crawler.Fetcher
	blocks   crawler.BlockDetector
	promoter crawler.HeadlessDetector
	retry    crawler.RetryPolicy
	pauser   crawler.Pauser
	limiter  crawler.HostLimiter
	logger   *zap.Logger
}

// Option customizes a Layer.
type Option func(*Layer)

// WithHeadless sets the renderer used for headless and promoted fetches.
func WithHeadless(f crawler.Fetcher) Option {
	return func(l *Layer) { l.headless = f }
}

// WithBlockDetector sets the bot-block fingerprinting.
func WithBlockDetector(d crawler.BlockDetector) Option {
	return func(l *Layer) { l.blocks = d }
}

// WithPromoter sets the SPA heuristic used by RenderAuto.
func WithPromoter(d crawler.HeadlessDetector) Option {
	return func(l *Layer) { l.promoter = d }
}

// WithRetryPolicy sets the retry policy for static requests.
func WithRetryPolicy(p crawler.RetryPolicy) Option {
	return func(l *Layer) { l.retry = p }
}

// WithPauser overrides how retry backoff waits.
func WithPauser(p crawler.Pauser) Option {
	return func(l *Layer) { l.pauser = p }
}

// WithLimiter paces static requests per host.
func WithLimiter(h crawler.HostLimiter) Option {
	return func(l *Layer) { l.limiter = h }
}

// New builds a Layer around a static fetcher.
func New(static StaticFetcher, logger *zap.Logger, opts ...Option) *Layer {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Layer{
		static: static,
		pauser: crawler.TimerPauser{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Fetch retrieves request.URL in the requested mode. It returns crawler.ErrNotModified
// for unchanged static pages, *crawler.HTTPError for non-2xx responses and
// *crawler.BlockedError when the markup fingerprints as a bot-block page, whatever the status.
func (l *Layer) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.Page, error) {
	mode := request.Mode
	if mode == "" {
		mode = crawler.RenderStatic
	}
	if !mode.Valid() {
		return crawler.Page{}, fmt.Errorf("unknown render mode %q", mode)
	}

	var (
		page crawler.Page
		err  error
	)
	switch mode {
	case crawler.RenderHeadless:
		page, err = l.render(ctx, request)
	default:
		page, err = l.fetchStatic(ctx, request)
		if err == nil && mode == crawler.RenderAuto && l.promote(page) {
			l.logger.Debug("promoting to headless render", zap.String("url", request.URL))
			page, err = l.render(ctx, request)
		}
	}

	if blockErr := l.detectBlock(request.URL, page); blockErr != nil {
		l.observe(request.URL, mode, "blocked", page)
		return crawler.Page{}, blockErr
	}
	if err != nil {
		l.observe(request.URL, mode, outcome(err), page)
		return page, err
	}
	l.observe(request.URL, mode, "ok", page)
	return page, nil
}

// Head issues a metadata-only request.
func (l *Layer) Head(ctx context.Context, url string) (crawler.Page, error) {
	if err := l.wait(ctx, url); err != nil {
		return crawler.Page{}, err
	}
	page, err := l.static.Head(ctx, url)
	l.observe(url, "head", outcome(err), page)
	if err != nil {
		return page, fmt.Errorf("head %s: %w", url, err)
	}
	return page, nil
}

func (l *Layer) fetchStatic(ctx context.Context, request crawler.FetchRequest) (crawler.Page, error) {
	for attempt := 1; ; attempt++ {
		if err := l.wait(ctx, request.URL); err != nil {
			return crawler.Page{}, err
		}
		page, err := l.static.Fetch(ctx, request)
		if err == nil || errors.Is(err, crawler.ErrNotModified) {
			return page, err
		}
		// A block page is terminal; retrying only hardens the block.
		if l.detectBlock(request.URL, page) != nil {
			return page, err
		}
		if l.retry == nil || !l.retry.ShouldRetry(err, attempt) {
			return page, fmt.Errorf("fetch %s: %w", request.URL, err)
		}
		delay := l.retry.Backoff(attempt)
		l.logger.Debug("retrying static fetch",
			zap.String("url", request.URL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		l.pauser.Pause(ctx, delay)
		if ctx.Err() != nil {
			return page, fmt.Errorf("fetch %s: %w", request.URL, ctx.Err())
		}
	}
}

func (l *Layer) wait(ctx context.Context, url string) error {
	if l.limiter == nil {
		return nil
	}
	if err := l.limiter.Wait(ctx, url); err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	return nil
}

func (l *Layer) render(ctx context.Context, request crawler.FetchRequest) (crawler.Page, error) {
	if l.headless == nil {
		return crawler.Page{}, fmt.Errorf("render %s: headless renderer not configured", request.URL)
	}
	// Browsers send their own validators; stored ones are not meaningful here.
	request.Validators = crawler.CacheValidators{}
	page, err := l.headless.Fetch(ctx, request)
	if err != nil {
		return page, fmt.Errorf("render %s: %w", request.URL, err)
	}
	return page, nil
}

func (l *Layer) promote(page crawler.Page) bool {
	return l.promoter != nil && l.headless != nil && l.promoter.ShouldPromote(page)
}

func (l *Layer) detectBlock(url string, page crawler.Page) error {
	if l.blocks == nil || len(page.Body) == 0 {
		return nil
	}
	if fp, ok := l.blocks.Detect(page); ok {
		return &crawler.BlockedError{URL: url, Fingerprint: fp}
	}
	return nil
}

func (l *Layer) observe(url string, mode crawler.RenderMode, result string, page crawler.Page) {
	metrics.ObserveFetch(url, string(mode), result, len(page.Body), page.Duration)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, crawler.ErrNotModified):
		return "not_modified"
	case errors.Is(err, crawler.ErrBlocked):
		return "blocked"
	case crawler.StatusCode(err) != 0:
		return fmt.Sprintf("http_%d", crawler.StatusCode(err))
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

var _ crawler.PageFetcher = (*Layer)(nil)
