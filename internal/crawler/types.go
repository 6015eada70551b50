// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// RenderMode selects how a page is retrieved.
type RenderMode string

// Render modes understood by the fetch layer.
const (
	RenderStatic   RenderMode = "static"
	RenderHeadless RenderMode = "headless"
	// RenderAuto fetches statically and promotes to headless when the page looks like an SPA shell.
	RenderAuto RenderMode = "auto"
)

// Valid reports whether the mode is one of the known render modes.
func (m RenderMode) Valid() bool {
	switch m {
	case RenderStatic, RenderHeadless, RenderAuto:
		return true
	default:
		return false
	}
}

// Source is one exam-organizer site. It is immutable once loaded.
type Source struct {
	ID                  string     `yaml:"id" json:"id"`
	Name                string     `yaml:"name" json:"name"`
	ListingURL          string     `yaml:"listing_url" json:"listing_url"`
	LinkPatterns        []string   `yaml:"link_patterns" json:"link_patterns"`
	IncludeKeywords     []string   `yaml:"include_keywords" json:"include_keywords"`
	ExcludeKeywords     []string   `yaml:"exclude_keywords" json:"exclude_keywords"`
	RenderMode          RenderMode `yaml:"render_mode" json:"render_mode"`
	ExactText           string     `yaml:"exact_text" json:"exact_text"`
	RequireURLSubstring string     `yaml:"require_url_substring" json:"require_url_substring"`
	ExtractNameFromDOM  bool       `yaml:"extract_name_from_dom" json:"extract_name_from_dom"`
	NameSelector        string     `yaml:"name_selector" json:"name_selector"`
	PageSize            int        `yaml:"page_size" json:"page_size"`
	MaxPages            int        `yaml:"max_pages" json:"max_pages"`
	FeedURL             string     `yaml:"feed_url" json:"feed_url"`

	// Matchers is populated by the source registry from LinkPatterns.
	Matchers []LinkMatcher `yaml:"-" json:"-"`
}

// Candidate is one listing item that may be a contest posting.
type Candidate struct {
	Title string
	URL   string
	Page  int
}

// CacheValidators are the conditional-request validators returned by a server.
type CacheValidators struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

// Empty reports whether neither validator is present.
func (v CacheValidators) Empty() bool {
	return v.ETag == "" && v.LastModified == ""
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL        string
	Mode       RenderMode
	Validators CacheValidators
	Headers    http.Header
}

// Page is a fetched document or rendered page.
type Page struct {
	URL          string
	FinalURL     string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Validators   CacheValidators
	Duration     time.Duration
	UsedHeadless bool
}

// ContentType returns the media type of the response without parameters.
func (p Page) ContentType() string {
	if p.Headers == nil {
		return ""
	}
	return MediaType(p.Headers.Get("Content-Type"))
}

// ContestPosting is a discovered exam announcement.
type ContestPosting struct {
	ID          int64          `json:"id"`
	SourceID    string         `json:"source_id"`
	ExternalID  string         `json:"external_id"`
	Title       string         `json:"title"`
	URL         string         `json:"url"`
	DocumentURL string         `json:"document_url,omitempty"`
	Status      string         `json:"status,omitempty"`
	RawMetadata map[string]any `json:"raw_metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Posting status values.
const (
	PostingStatusDiscovered   = "discovered"
	PostingStatusUndocumented = "undocumented"
	PostingStatusExtracted    = "extracted"
)

// Level is the depth of a syllabus node.
type Level int

// Syllabus levels, Subject being the root.
const (
	LevelSubject Level = iota + 1
	LevelTopic
	LevelSubtopic
	LevelSubSubtopic
)

func (l Level) String() string {
	switch l {
	case LevelSubject:
		return "subject"
	case LevelTopic:
		return "topic"
	case LevelSubtopic:
		return "subtopic"
	case LevelSubSubtopic:
		return "sub_subtopic"
	default:
		return "unknown"
	}
}

// SyllabusNode is one persisted level of a posting's hierarchy.
type SyllabusNode struct {
	ID          int64  `json:"id"`
	PostingID   int64  `json:"posting_id"`
	ParentID    *int64 `json:"parent_id,omitempty"`
	Level       Level  `json:"level"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
	Ordinal     int    `json:"ordinal"`
}

// Confidence is the extraction service's self-reported certainty.
type Confidence string

// Confidence values accepted from the extraction service.
const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Valid reports whether c is a known confidence value.
func (c Confidence) Valid() bool {
	return c == ConfidenceLow || c == ConfidenceMedium || c == ConfidenceHigh
}

// Hierarchy is the validated output of the hierarchy extractor.
type Hierarchy struct {
	Subjects   []Subject  `json:"subjects"`
	Confidence Confidence `json:"confidence"`
}

// Subject is the first syllabus level.
type Subject struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Topics      []Topic `json:"topics,omitempty"`
}

// Topic is the second syllabus level.
type Topic struct {
	Ordinal     int        `json:"ordinal"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Subtopics   []Subtopic `json:"subtopics,omitempty"`
}

// Subtopic is the third syllabus level.
type Subtopic struct {
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	SubSubtopics []SubSubtopic `json:"subtopics,omitempty"`
}

// SubSubtopic is the fourth and last syllabus level.
type SubSubtopic struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ReviewEntry records a pipeline failure for manual triage.
type ReviewEntry struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id,omitempty"`
	SourceID  string    `json:"source_id"`
	URL       string    `json:"url"`
	Stage     string    `json:"stage"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// ReviewFilter narrows a review queue listing.
type ReviewFilter struct {
	SourceID string
	Stage    string
	Since    time.Time
	Limit    int
}
