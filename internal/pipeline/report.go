package pipeline

import (
	"time"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
	"github.com/JakeFAU/edital-crawler/internal/syllabus"
)

// SourceReport aggregates one source's discovery.
type SourceReport struct {
	SourceID    string `json:"source_id"`
	Found       int    `json:"found"`
	Validated   int    `json:"validated"`
	Saved       int    `json:"saved"`
	Failed      int    `json:"failed"`
	NotModified bool   `json:"not_modified,omitempty"`
}

// RunReport aggregates a full run over every configured source.
type RunReport struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Sources    []SourceReport `json:"sources"`
	Canceled   bool           `json:"canceled,omitempty"`
}

// Totals sums the per-source counters.
func (r RunReport) Totals() SourceReport {
	var t SourceReport
	for _, s := range r.Sources {
		t.Found += s.Found
		t.Validated += s.Validated
		t.Saved += s.Saved
		t.Failed += s.Failed
	}
	return t
}

// ExtractionReport is the outcome of re-extracting one posting's hierarchy.
type ExtractionReport struct {
	PostingID  int64              `json:"posting_id"`
	Success    bool               `json:"success"`
	Reason     string             `json:"reason,omitempty"`
	Counts     syllabus.Counts    `json:"counts"`
	Confidence crawler.Confidence `json:"confidence,omitempty"`
}
