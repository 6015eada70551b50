// Package listing discovers candidate postings on a source's listing pages.
//
// Page 0 is the configured listing URL. For later pages the adapter probes the
// pagination patterns in order and keeps the first one that returns a real page.
// Discovery stops on the first page that adds no new URL or at the page ceiling.
package listing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
	"github.com/JakeFAU/edital-crawler/internal/metrics"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultMaxPages     = 20
	DefaultPageDelay    = time.Second
	DefaultPageSize     = 10
	DefaultMinPageBytes = 256
)

// errNoPagination means no pattern produced a usable page 1.
var errNoPagination = errors.New("no pagination pattern matched")

// Config tunes discovery.
type Config struct {
	MaxPages     int
	PageDelay    time.Duration
	PageSize     int
	MinPageBytes int
}

// Discovery is the outcome of one source's listing walk.
type Discovery struct {
	Candidates []crawler.Candidate
	Pages      int
	Pattern    string
	// Validators of page 0, to be stored by the caller once the source is fully processed.
	Validators  crawler.CacheValidators
	NotModified bool
}

// Adapter walks listing pages through the fetch layer.
type Adapter struct {
	fetcher crawler.Fetcher
	pauser  crawler.Pauser
	cfg     Config
	logger  *zap.Logger
}

// New builds an Adapter. A nil pauser sleeps with a timer.
func New(fetcher crawler.Fetcher, pauser crawler.Pauser, cfg Config, logger *zap.Logger) *Adapter {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.PageDelay < 0 {
		cfg.PageDelay = 0
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MinPageBytes <= 0 {
		cfg.MinPageBytes = DefaultMinPageBytes
	}
	if pauser == nil {
		pauser = crawler.TimerPauser{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{fetcher: fetcher, pauser: pauser, cfg: cfg, logger: logger}
}

// walk holds the state of one Discover call. The pagination pattern is fixed for its lifetime.
type walk struct {
	src      crawler.Source
	filter   *filter
	seen     *crawler.VisitTracker
	pattern  *Pattern
	pageSize int
	fetches  int
	result   Discovery
}

// Discover collects candidates for src. On a fetch failure it returns the
// candidates gathered so far together with the error.
func (a *Adapter) Discover(
	ctx context.Context,
	src crawler.Source,
	validators crawler.CacheValidators,
) (Discovery, error) {
	f, err := newFilter(src)
	if err != nil {
		return Discovery{}, fmt.Errorf("source %s: %w", src.ID, err)
	}
	w := &walk{
		src:      src,
		filter:   f,
		seen:     crawler.NewVisitTracker(),
		pageSize: a.cfg.PageSize,
	}
	if src.PageSize > 0 {
		w.pageSize = src.PageSize
	}
	maxPages := a.cfg.MaxPages
	if src.MaxPages > 0 {
		maxPages = src.MaxPages
	}
	log := a.logger.With(zap.String("source_id", src.ID))

	page0, err := a.fetch(ctx, w, src.ListingURL, src.Mode(), validators)
	if errors.Is(err, crawler.ErrNotModified) {
		log.Info("listing not modified, skipping source")
		w.result.NotModified = true
		w.result.Validators = validators
		return w.result, nil
	}
	if err != nil {
		return w.result, fmt.Errorf("fetch listing page 0: %w", err)
	}
	w.result.Validators = page0.Validators
	added, err := a.collect(w, page0, 0)
	if err != nil {
		return w.result, err
	}

	for n := 1; n < maxPages && added > 0; n++ {
		page, err := a.fetchPage(ctx, w, n)
		if errors.Is(err, errNoPagination) {
			log.Debug("listing has no detectable pagination", zap.Int("page", n))
			break
		}
		if err != nil {
			return w.result, fmt.Errorf("fetch listing page %d: %w", n, err)
		}
		if added, err = a.collect(w, page, n); err != nil {
			return w.result, err
		}
	}
	if w.pattern != nil {
		w.result.Pattern = w.pattern.String()
	}

	if src.FeedURL != "" {
		if err := a.collectFeed(ctx, w); err != nil {
			return w.result, err
		}
	}

	log.Info("listing discovered",
		zap.Int("pages", w.result.Pages),
		zap.Int("candidates", len(w.result.Candidates)),
		zap.String("pattern", w.result.Pattern),
	)
	return w.result, nil
}

// fetchPage returns page n using the locked pattern, probing patterns while none is locked.
func (a *Adapter) fetchPage(ctx context.Context, w *walk, n int) (crawler.Page, error) {
	if w.pattern != nil {
		target, err := BuildPageURL(w.src.ListingURL, n, *w.pattern, w.pageSize)
		if err != nil {
			return crawler.Page{}, err
		}
		return a.fetch(ctx, w, target, w.src.Mode(), crawler.CacheValidators{})
	}
	for _, p := range Patterns {
		target, err := BuildPageURL(w.src.ListingURL, n, p, w.pageSize)
		if err != nil {
			continue
		}
		page, err := a.fetch(ctx, w, target, w.src.Mode(), crawler.CacheValidators{})
		switch {
		case errors.Is(err, crawler.ErrBlocked), ctx.Err() != nil:
			return crawler.Page{}, err
		case err != nil:
			a.logger.Debug("pagination pattern failed",
				zap.String("source_id", w.src.ID),
				zap.String("pattern", p.String()),
				zap.Error(err),
			)
			continue
		case !a.substantial(page):
			continue
		}
		locked := p
		w.pattern = &locked
		return page, nil
	}
	return crawler.Page{}, errNoPagination
}

func (a *Adapter) fetch(
	ctx context.Context,
	w *walk,
	target string,
	mode crawler.RenderMode,
	validators crawler.CacheValidators,
) (crawler.Page, error) {
	if err := ctx.Err(); err != nil {
		return crawler.Page{}, err
	}
	if w.fetches > 0 {
		a.pauser.Pause(ctx, a.cfg.PageDelay)
		if err := ctx.Err(); err != nil {
			return crawler.Page{}, err
		}
	}
	w.fetches++
	page, err := a.fetcher.Fetch(ctx, crawler.FetchRequest{
		URL:        target,
		Mode:       mode,
		Validators: validators,
	})
	if err != nil {
		return page, err
	}
	w.result.Pages++
	metrics.ObserveListingPage(w.src.ID)
	return page, nil
}

func (a *Adapter) collect(w *walk, page crawler.Page, n int) (int, error) {
	pageURL := page.FinalURL
	if pageURL == "" {
		pageURL = page.URL
	}
	items, err := w.filter.extract(page.Body, pageURL)
	if err != nil {
		return 0, fmt.Errorf("extract listing page %d: %w", n, err)
	}
	return a.add(w, items, n), nil
}

func (a *Adapter) add(w *walk, items []crawler.Candidate, n int) int {
	added := 0
	for _, item := range items {
		canonical, err := crawler.NormalizeURL(item.URL)
		if err != nil {
			continue
		}
		if !w.seen.MarkIfNew(canonical) {
			continue
		}
		item.URL = canonical
		item.Page = n
		w.result.Candidates = append(w.result.Candidates, item)
		added++
	}
	return added
}

func (a *Adapter) collectFeed(ctx context.Context, w *walk) error {
	page, err := a.fetch(ctx, w, w.src.FeedURL, crawler.RenderStatic, crawler.CacheValidators{})
	if err != nil {
		return fmt.Errorf("fetch feed: %w", err)
	}
	items, err := ExtractFeedCandidates(page.Body, w.src.FeedURL, w.src)
	if err != nil {
		return err
	}
	a.add(w, items, -1)
	return nil
}

func (a *Adapter) substantial(page crawler.Page) bool {
	if len(strings.TrimSpace(string(page.Body))) < a.cfg.MinPageBytes {
		return false
	}
	ct := page.ContentType()
	return ct == "" || strings.Contains(ct, "html")
}
