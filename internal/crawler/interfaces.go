package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher retrieves a page for the given request.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (Page, error)
}

// HeadFetcher issues metadata-only requests.
type HeadFetcher interface {
	Head(ctx context.Context, url string) (Page, error)
}

// PageFetcher is what the listing adapter and document resolver need from the fetch layer.
type PageFetcher interface {
	Fetcher
	HeadFetcher
}

// HeadlessDetector decides whether a static response should be re-rendered headless.
type HeadlessDetector interface {
	ShouldPromote(page Page) bool
}

// BlockDetector fingerprints bot-block and CAPTCHA pages. It returns the matched fingerprint.
type BlockDetector interface {
	Detect(page Page) (string, bool)
}

// StructuredExtractor is the external structured-extraction (LLM) service.
type StructuredExtractor interface {
	ExtractJSON(ctx context.Context, systemInstruction, userPrompt string) ([]byte, error)
}

// TextExtractor turns a downloaded document into plain text.
type TextExtractor interface {
	ExtractText(ctx context.Context, data []byte, contentType string) (string, error)
}

// ValidatorStore persists cache validators per listing URL between runs.
type ValidatorStore interface {
	GetValidators(ctx context.Context, url string) (CacheValidators, error)
	PutValidators(ctx context.Context, url string, validators CacheValidators) error
}

// ReviewQueue is the append-only failure log.
type ReviewQueue interface {
	Enqueue(ctx context.Context, entry ReviewEntry) error
	ListReviews(ctx context.Context, filter ReviewFilter) ([]ReviewEntry, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run and review entry IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// HostLimiter paces requests to the same host.
type HostLimiter interface {
	Wait(ctx context.Context, url string) error
}

// Pauser waits between requests.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}
