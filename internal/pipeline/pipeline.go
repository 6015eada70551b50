// Package pipeline runs discovery, validation, document resolution, hierarchy
// extraction and persistence over the configured sources.
//
// Sources and their postings are processed sequentially by a single worker.
// Every stage returns a *Failure; settle writes it to the review queue and the
// loop moves on. Only an unreachable store, a review queue write error or a
// canceled context stop a run.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
	"github.com/JakeFAU/edital-crawler/internal/extractor"
	"github.com/JakeFAU/edital-crawler/internal/listing"
	"github.com/JakeFAU/edital-crawler/internal/metrics"
	"github.com/JakeFAU/edital-crawler/internal/resolver"
	"github.com/JakeFAU/edital-crawler/internal/syllabus"
)

// DefaultPostingDelay is the pause between two postings of one source.
const DefaultPostingDelay = 2 * time.Second

var tracer = otel.Tracer("github.com/JakeFAU/edital-crawler/internal/pipeline")

// Registry lists the configured sources.
type Registry interface {
	All() []crawler.Source
	Get(id string) (crawler.Source, error)
}

// Store persists postings and their syllabus trees.
type Store interface {
	Ping(ctx context.Context) error
	UpsertPosting(ctx context.Context, p crawler.ContestPosting) (int64, error)
	SavePosting(ctx context.Context, p crawler.ContestPosting, plan syllabus.Plan) (int64, error)
	ReplaceSyllabus(ctx context.Context, postingID int64, plan syllabus.Plan) error
	GetPosting(ctx context.Context, id int64) (crawler.ContestPosting, error)
}

// Discoverer walks a source's listing.
type Discoverer interface {
	Discover(ctx context.Context, src crawler.Source, validators crawler.CacheValidators) (listing.Discovery, error)
}

// Classifier decides whether a title announces an opening notice.
type Classifier interface {
	IsGenuineOpeningNotice(title string) bool
}

// DocumentResolver finds the document behind a posting page.
type DocumentResolver interface {
	Resolve(ctx context.Context, pageURL string, mode crawler.RenderMode) (string, error)
}

// HierarchyExtractor turns document text into a validated hierarchy.
type HierarchyExtractor interface {
	Extract(ctx context.Context, documentText string) (crawler.Hierarchy, error)
}

// URLHasher derives a posting's external id and canonical URL.
type URLHasher interface {
	ExternalID(rawURL string) (string, string, error)
}

// Deps are the collaborators of a Runner. Archive and Publisher are optional.
type Deps struct {
	Sources    Registry
	Store      Store
	Reviews    crawler.ReviewQueue
	Validators crawler.ValidatorStore
	Listing    Discoverer
	Classifier Classifier
	Resolver   DocumentResolver
	Fetcher    crawler.Fetcher
	Text       crawler.TextExtractor
	Extractor  HierarchyExtractor
	Hasher     URLHasher
	IDs        crawler.IDGenerator
	Clock      crawler.Clock
	Pauser     crawler.Pauser
	Archive    crawler.BlobStore
	Publisher  crawler.Publisher
}

// Config controls Runner behavior.
type Config struct {
	// PostingDelay separates two postings of the same source. Zero means DefaultPostingDelay,
	// a negative value disables it.
	PostingDelay time.Duration
	// PersistUndocumented stores postings whose document could not be resolved.
	PersistUndocumented bool
	// Sentinel names the subject stored when the document yields no subjects.
	Sentinel string
	// ArchivePrefix is prepended to archived document paths.
	ArchivePrefix string
	// Topic receives a message per extracted posting. Empty disables publishing.
	Topic string
}

// Runner executes the pipeline.
type Runner struct {
	deps     Deps
	cfg      Config
	canceled atomic.Bool
	logger   *zap.Logger
}

// New constructs a Runner.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Runner, error) {
	var missing []string
	for name, ok := range map[string]bool{
		"sources":    deps.Sources != nil,
		"store":      deps.Store != nil,
		"reviews":    deps.Reviews != nil,
		"validators": deps.Validators != nil,
		"listing":    deps.Listing != nil,
		"classifier": deps.Classifier != nil,
		"resolver":   deps.Resolver != nil,
		"fetcher":    deps.Fetcher != nil,
		"text":       deps.Text != nil,
		"extractor":  deps.Extractor != nil,
		"hasher":     deps.Hasher != nil,
		"ids":        deps.IDs != nil,
	} {
		if !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, fmt.Errorf("pipeline: missing dependencies: %s", strings.Join(missing, ", "))
	}
	if deps.Clock == nil {
		deps.Clock = crawler.SystemClock{}
	}
	if deps.Pauser == nil {
		deps.Pauser = crawler.TimerPauser{}
	}
	if cfg.PostingDelay == 0 {
		cfg.PostingDelay = DefaultPostingDelay
	}
	if cfg.Sentinel == "" {
		cfg.Sentinel = syllabus.DefaultSentinel
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "documents"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{deps: deps, cfg: cfg, logger: logger}, nil
}

// Cancel stops the current run at the next candidate or source boundary.
// The candidate in flight is allowed to finish. A cancel issued before the run
// reaches its first boundary is still honored; the request ends with the run.
func (r *Runner) Cancel() {
	r.canceled.Store(true)
}

// Reset drops a cancel request that no run has consumed yet. Callers that start
// runs in the background reset before marking a run as started.
func (r *Runner) Reset() {
	r.canceled.Store(false)
}

func (r *Runner) stopped(ctx context.Context) bool {
	return r.canceled.Load() || ctx.Err() != nil
}

// begin allocates a run id and checks the store.
func (r *Runner) begin(ctx context.Context) (string, error) {
	runID, err := r.deps.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("allocate run id: %w", err)
	}
	if err := r.deps.Store.Ping(ctx); err != nil {
		return runID, fmt.Errorf("store unreachable: %w", err)
	}
	return runID, nil
}

// Run processes every configured source in order.
func (r *Runner) Run(ctx context.Context) (RunReport, error) {
	defer r.Reset()
	report := RunReport{StartedAt: r.deps.Clock.Now()}
	runID, err := r.begin(ctx)
	report.RunID = runID
	if err != nil {
		return report, err
	}

	logger := r.logger.With(zap.String("run_id", runID))
	logger.Info("pipeline run started", zap.Int("sources", len(r.deps.Sources.All())))
	for _, src := range r.deps.Sources.All() {
		if r.stopped(ctx) {
			report.Canceled = true
			break
		}
		sr, err := r.discover(ctx, runID, src)
		report.Sources = append(report.Sources, sr)
		if err != nil {
			report.FinishedAt = r.deps.Clock.Now()
			return report, err
		}
	}
	if r.canceled.Load() {
		report.Canceled = true
	}
	report.FinishedAt = r.deps.Clock.Now()
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("run canceled: %w", err)
	}

	totals := report.Totals()
	logger.Info("pipeline run finished",
		zap.Int("found", totals.Found),
		zap.Int("validated", totals.Validated),
		zap.Int("saved", totals.Saved),
		zap.Int("failed", totals.Failed),
		zap.Bool("canceled", report.Canceled),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

// DiscoverSource runs discovery for a single source.
func (r *Runner) DiscoverSource(ctx context.Context, sourceID string) (SourceReport, error) {
	defer r.Reset()
	src, err := r.deps.Sources.Get(sourceID)
	if err != nil {
		return SourceReport{SourceID: sourceID}, err
	}
	runID, err := r.begin(ctx)
	if err != nil {
		return SourceReport{SourceID: sourceID}, err
	}
	sr, err := r.discover(ctx, runID, src)
	if err != nil {
		return sr, err
	}
	if err := ctx.Err(); err != nil {
		return sr, fmt.Errorf("discovery canceled: %w", err)
	}
	return sr, nil
}

func (r *Runner) discover(ctx context.Context, runID string, src crawler.Source) (SourceReport, error) {
	sr := SourceReport{SourceID: src.ID}
	ctx, span := tracer.Start(ctx, "pipeline.source", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("source_id", src.ID),
	))
	defer span.End()
	logger := r.logger.With(zap.String("run_id", runID), zap.String("source_id", src.ID))

	validators, err := r.deps.Validators.GetValidators(ctx, src.ListingURL)
	if err != nil {
		logger.Warn("cache validators unavailable", zap.Error(err))
		validators = crawler.CacheValidators{}
	}

	disc, listErr := r.deps.Listing.Discover(ctx, src, validators)
	if listErr != nil {
		if ctx.Err() != nil {
			return sr, fmt.Errorf("discover %s: %w", src.ID, ctx.Err())
		}
		sr.Failed++
		failure := fail(StageListing, "listing discovery failed", listErr)
		if err := r.settle(ctx, runID, src.ID, src.ListingURL, failure); err != nil {
			return sr, err
		}
	}
	if disc.NotModified {
		sr.NotModified = true
		metrics.ObserveSourceRun(src.ID, "not_modified")
		logger.Info("listing not modified, skipping source")
		return sr, nil
	}

	sr.Found = len(disc.Candidates)
	logger.Info("listing discovered",
		zap.Int("candidates", sr.Found),
		zap.Int("pages", disc.Pages),
		zap.String("pattern", disc.Pattern),
	)

	interrupted := false
	for _, c := range disc.Candidates {
		if r.stopped(ctx) {
			interrupted = true
			break
		}
		if err := r.handleCandidate(ctx, runID, src, c, &sr); err != nil {
			return sr, err
		}
	}

	status := "ok"
	switch {
	case interrupted:
		status = "canceled"
	case listErr != nil:
		status = "failed"
	default:
		// Only a complete listing read may advance the validators.
		if err := r.deps.Validators.PutValidators(ctx, src.ListingURL, disc.Validators); err != nil {
			logger.Warn("store cache validators failed", zap.Error(err))
		}
	}
	metrics.ObserveSourceRun(src.ID, status)
	logger.Info("source processed",
		zap.String("status", status),
		zap.Int("found", sr.Found),
		zap.Int("validated", sr.Validated),
		zap.Int("saved", sr.Saved),
		zap.Int("failed", sr.Failed),
	)
	return sr, nil
}

func (r *Runner) handleCandidate(
	ctx context.Context,
	runID string,
	src crawler.Source,
	c crawler.Candidate,
	sr *SourceReport,
) error {
	if !r.deps.Classifier.IsGenuineOpeningNotice(c.Title) {
		metrics.ObserveCandidate(src.ID, "rejected")
		r.logger.Debug("candidate rejected", zap.String("source_id", src.ID), zap.String("title", c.Title))
		return nil
	}
	sr.Validated++
	if sr.Validated > 1 && r.cfg.PostingDelay > 0 {
		r.deps.Pauser.Pause(ctx, r.cfg.PostingDelay)
		if ctx.Err() != nil {
			return fmt.Errorf("discover %s: %w", src.ID, ctx.Err())
		}
	}

	postingCtx, span := tracer.Start(ctx, "pipeline.posting", trace.WithAttributes(
		attribute.String("source_id", src.ID),
		attribute.String("url", c.URL),
	))
	err := r.processPosting(postingCtx, src, c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "posting failed")
	}
	span.End()
	if err == nil {
		sr.Saved++
		metrics.ObserveCandidate(src.ID, "saved")
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("discover %s: %w", src.ID, ctx.Err())
	}
	sr.Failed++
	metrics.ObserveCandidate(src.ID, "failed")
	return r.settle(ctx, runID, src.ID, c.URL, err)
}

func (r *Runner) processPosting(ctx context.Context, src crawler.Source, c crawler.Candidate) error {
	externalID, canonical, err := r.deps.Hasher.ExternalID(c.URL)
	if err != nil {
		return fail(StageIdentify, "invalid posting url", err)
	}
	posting := crawler.ContestPosting{
		SourceID:   src.ID,
		ExternalID: externalID,
		Title:      c.Title,
		URL:        canonical,
		RawMetadata: map[string]any{
			"listing_url":  src.ListingURL,
			"listing_page": c.Page,
		},
	}

	documentURL, err := r.deps.Resolver.Resolve(ctx, canonical, src.RenderMode)
	if err != nil {
		reason := "document resolution failed"
		var invalid *resolver.InvalidError
		if errors.As(err, &invalid) {
			reason = invalid.Reason
		}
		if r.cfg.PersistUndocumented && ctx.Err() == nil {
			posting.Status = crawler.PostingStatusUndocumented
			if _, perr := r.deps.Store.UpsertPosting(ctx, posting); perr != nil {
				return fail(StagePersist, "persist undocumented posting", perr)
			}
		}
		return fail(StageResolve, reason, err)
	}
	posting.DocumentURL = documentURL

	plan, err := r.extractDocument(ctx, src.ID, externalID, documentURL)
	if err != nil {
		return err
	}
	posting.RawMetadata["confidence"] = string(plan.Confidence)

	id, err := r.deps.Store.SavePosting(ctx, posting, plan)
	if err != nil {
		return fail(StagePersist, "save posting", err)
	}
	r.logger.Info("posting saved",
		zap.String("source_id", src.ID),
		zap.Int64("posting_id", id),
		zap.String("url", canonical),
		zap.Int("nodes", len(plan.Nodes)),
		zap.String("confidence", string(plan.Confidence)),
	)
	posting.ID = id
	r.publish(ctx, posting, plan)
	return nil
}

// extractDocument downloads a document and turns it into a node plan.
func (r *Runner) extractDocument(ctx context.Context, sourceID, externalID, documentURL string) (syllabus.Plan, error) {
	page, err := r.deps.Fetcher.Fetch(ctx, crawler.FetchRequest{URL: documentURL, Mode: crawler.RenderStatic})
	if err != nil {
		return syllabus.Plan{}, fail(StageDownload, "download document", err)
	}
	contentType := resolver.ContentType(page)
	r.archive(ctx, sourceID, externalID, documentURL, contentType, page.Body)

	text, err := r.deps.Text.ExtractText(ctx, page.Body, contentType)
	if err != nil {
		return syllabus.Plan{}, fail(StageText, "extract document text", err)
	}

	h, err := r.deps.Extractor.Extract(ctx, text)
	if err != nil {
		reason := "extraction service failed"
		var malformed *extractor.MalformedError
		if errors.As(err, &malformed) {
			reason = "malformed extraction"
		}
		return syllabus.Plan{}, fail(StageExtract, reason, err)
	}
	return syllabus.Build(h, r.cfg.Sentinel), nil
}

// archive keeps a copy of the downloaded document. Failures only cost the copy.
func (r *Runner) archive(ctx context.Context, sourceID, externalID, documentURL, contentType string, body []byte) {
	if r.deps.Archive == nil {
		return
	}
	ext := resolver.ExtensionFor(crawler.MediaType(contentType))
	if ext == "" {
		ext = resolver.DocumentExtension(documentURL)
	}
	name := path.Join(strings.Trim(r.cfg.ArchivePrefix, "/"), sourceID, externalID+ext)
	uri, err := r.deps.Archive.PutObject(ctx, name, contentType, bytes.NewReader(body))
	if err != nil {
		r.logger.Warn("archive document failed", zap.String("url", documentURL), zap.Error(err))
		return
	}
	r.logger.Debug("document archived", zap.String("url", documentURL), zap.String("uri", uri))
}

func (r *Runner) publish(ctx context.Context, posting crawler.ContestPosting, plan syllabus.Plan) {
	if r.cfg.Topic == "" || r.deps.Publisher == nil {
		return
	}
	counts := plan.Counts()
	payload := map[string]any{
		"posting_id":    posting.ID,
		"source_id":     posting.SourceID,
		"external_id":   posting.ExternalID,
		"url":           posting.URL,
		"document_url":  posting.DocumentURL,
		"confidence":    string(plan.Confidence),
		"subjects":      counts.Subjects,
		"topics":        counts.Topics,
		"subtopics":     counts.Subtopics,
		"sub_subtopics": counts.SubSubtopics,
		"timestamp":     r.deps.Clock.Now().Format(time.RFC3339),
	}
	id, err := r.deps.Publisher.Publish(ctx, r.cfg.Topic, payload)
	if err != nil {
		r.logger.Warn("publish extraction event failed", zap.Int64("posting_id", posting.ID), zap.Error(err))
		return
	}
	r.logger.Debug("extraction event published", zap.Int64("posting_id", posting.ID), zap.String("message_id", id))
}

// ExtractPosting re-runs hierarchy extraction for a stored posting. A posting
// without a document URL is resolved first.
func (r *Runner) ExtractPosting(ctx context.Context, postingID int64) (ExtractionReport, error) {
	defer r.Reset()
	report := ExtractionReport{PostingID: postingID}
	runID, err := r.begin(ctx)
	if err != nil {
		return report, err
	}
	posting, err := r.deps.Store.GetPosting(ctx, postingID)
	if err != nil {
		return report, fmt.Errorf("load posting %d: %w", postingID, err)
	}

	plan, err := r.extractPosting(ctx, &posting)
	if err != nil {
		if ctx.Err() != nil {
			return report, fmt.Errorf("extract posting %d: %w", postingID, ctx.Err())
		}
		var f *Failure
		if errors.As(err, &f) {
			report.Reason = f.Reason
		} else {
			report.Reason = err.Error()
		}
		metrics.ObserveCandidate(posting.SourceID, "failed")
		if serr := r.settle(ctx, runID, posting.SourceID, posting.URL, err); serr != nil {
			return report, serr
		}
		return report, nil
	}

	report.Success = true
	report.Counts = plan.Counts()
	report.Confidence = plan.Confidence
	metrics.ObserveCandidate(posting.SourceID, "saved")
	r.publish(ctx, posting, plan)
	return report, nil
}

// sourceMode is the render mode of a registered source. Postings of sources that
// left the registry use the resolver default.
func (r *Runner) sourceMode(sourceID string) crawler.RenderMode {
	src, err := r.deps.Sources.Get(sourceID)
	if err != nil {
		return ""
	}
	return src.RenderMode
}

func (r *Runner) extractPosting(ctx context.Context, posting *crawler.ContestPosting) (syllabus.Plan, error) {
	resolved := false
	if posting.DocumentURL == "" {
		documentURL, err := r.deps.Resolver.Resolve(ctx, posting.URL, r.sourceMode(posting.SourceID))
		if err != nil {
			reason := "document resolution failed"
			var invalid *resolver.InvalidError
			if errors.As(err, &invalid) {
				reason = invalid.Reason
			}
			return syllabus.Plan{}, fail(StageResolve, reason, err)
		}
		posting.DocumentURL = documentURL
		resolved = true
	}

	plan, err := r.extractDocument(ctx, posting.SourceID, posting.ExternalID, posting.DocumentURL)
	if err != nil {
		return plan, err
	}
	if resolved {
		// The posting row gains its document URL in the same transaction as the nodes.
		if _, err := r.deps.Store.SavePosting(ctx, *posting, plan); err != nil {
			return plan, fail(StagePersist, "save posting", err)
		}
		return plan, nil
	}
	if err := r.deps.Store.ReplaceSyllabus(ctx, posting.ID, plan); err != nil {
		return plan, fail(StagePersist, "replace syllabus", err)
	}
	return plan, nil
}

// settle routes a stage failure to the review queue. A queue write error is fatal.
func (r *Runner) settle(ctx context.Context, runID, sourceID, url string, err error) error {
	var f *Failure
	if !errors.As(err, &f) {
		f = fail(StageUnknown, "unexpected error", err)
	}
	id, idErr := r.deps.IDs.NewID()
	if idErr != nil {
		return fmt.Errorf("allocate review id: %w", idErr)
	}
	entry := crawler.ReviewEntry{
		ID:        id,
		RunID:     runID,
		SourceID:  sourceID,
		URL:       url,
		Stage:     string(f.Stage),
		Reason:    f.Error(),
		CreatedAt: r.deps.Clock.Now(),
	}
	r.logger.Warn("routed to review queue",
		zap.String("source_id", sourceID),
		zap.String("url", url),
		zap.String("stage", entry.Stage),
		zap.String("reason", f.Reason),
		zap.Error(f.Err),
	)
	if ce := r.logger.Check(zap.DebugLevel, "failure stack"); ce != nil {
		ce.Write(zap.ByteString("stack", f.Stack))
	}
	if err := r.deps.Reviews.Enqueue(ctx, entry); err != nil {
		return fmt.Errorf("write review entry: %w", err)
	}
	metrics.ObserveReview(entry.Stage)
	return nil
}
