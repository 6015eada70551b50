// Package document turns downloaded announcement files into plain text,
// keeping only the pages that carry the syllabus.
package document

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
	"github.com/JakeFAU/edital-crawler/internal/slug"
)

// ErrUnsupported is returned for document types with no text extractor.
var ErrUnsupported = errors.New("unsupported document type")

// ErrEmpty is returned when a document yields no text, e.g. a scanned PDF.
var ErrEmpty = errors.New("document has no extractable text")

// DefaultMaxPages bounds how many pages are handed to the hierarchy extractor.
const DefaultMaxPages = 30

// DefaultMarkers open the syllabus section of Brazilian exam notices.
var DefaultMarkers = []string{
	"conteudo programatico",
	"conteudos programaticos",
	"objetos de avaliacao",
	"objeto de avaliacao",
	"programa das provas",
	"programas das provas",
	"conhecimentos basicos",
	"conhecimentos gerais",
	"conhecimentos especificos",
	"syllabus",
}

// Config tunes an Extractor.
type Config struct {
	MaxPages int
	Markers  []string
}

// Extractor implements crawler.TextExtractor.
type Extractor struct {
	maxPages int
	markers  []string
	logger   *zap.Logger
}

// New builds an Extractor.
func New(cfg Config, logger *zap.Logger) *Extractor {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	markers := cfg.Markers
	if len(markers) == 0 {
		markers = DefaultMarkers
	}
	folded := make([]string, 0, len(markers))
	for _, m := range markers {
		if w := slug.Words(m); w != "" {
			folded = append(folded, w)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{maxPages: cfg.MaxPages, markers: folded, logger: logger}
}

// ExtractText returns the relevant text of data, dispatching on the media type.
func (e *Extractor) ExtractText(ctx context.Context, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var (
		pages []string
		err   error
	)
	switch ct := crawler.MediaType(contentType); {
	case ct == "application/pdf" || ct == "application/x-pdf":
		pages, err = pdfPages(data)
	case ct == "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		pages, err = docxPages(data)
	case ct == "application/vnd.oasis.opendocument.text":
		pages, err = odtPages(data)
	case strings.Contains(ct, "html"):
		pages, err = htmlPages(data)
	case ct == "text/plain":
		pages = []string{string(data)}
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupported, ct)
	}
	if err != nil {
		return "", err
	}

	selected := SelectPages(pages, e.markers, e.maxPages)
	var b strings.Builder
	for _, i := range selected {
		text := strings.TrimSpace(pages[i])
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}
	if b.Len() == 0 {
		return "", ErrEmpty
	}
	e.logger.Debug("document text extracted",
		zap.Int("pages", len(pages)),
		zap.Int("selected", len(selected)),
		zap.Int("chars", b.Len()),
	)
	return b.String(), nil
}

const (
	// headingWords is the longest line still read as a section heading.
	headingWords = 12
	// headingWeight ranks a heading above a marker quoted inside running text.
	headingWeight = 3
	// clusterGap is how many unmarked pages may separate two pages of the same section.
	clusterGap = 3
)

// SelectPages returns the indexes of the pages to keep: up to maxPages starting at the
// densest cluster of syllabus markers, or the leading pages when no page has one.
// Ties go to the later cluster, since notices quote the annex title early on and print
// the annex itself at the end.
func SelectPages(pages []string, markers []string, maxPages int) []int {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	scores := make([]int, len(pages))
	for i, page := range pages {
		scores[i] = pageScore(page, markers)
	}
	start := max(densestCluster(scores), 0)
	end := min(len(pages), start+maxPages)
	out := make([]int, 0, max(end-start, 0))
	for i := start; i < end; i++ {
		out = append(out, i)
	}
	return out
}

// pageScore counts marker hits line by line. Short lines weigh as headings.
func pageScore(text string, markers []string) int {
	score := 0
	for _, line := range strings.Split(text, "\n") {
		folded := slug.Words(line)
		if folded == "" {
			continue
		}
		words := " " + folded + " "
		hits := 0
		for _, m := range markers {
			hits += strings.Count(words, " "+m+" ")
		}
		if hits == 0 {
			continue
		}
		if len(strings.Fields(folded)) <= headingWords {
			hits *= headingWeight
		}
		score += hits
	}
	return score
}

// densestCluster returns the first page of the highest scoring run of marked pages,
// or -1 when no page is marked.
func densestCluster(scores []int) int {
	best, bestScore := -1, 0
	start, total, last := -1, 0, -1
	flush := func() {
		if start >= 0 && total >= bestScore {
			best, bestScore = start, total
		}
	}
	for i, s := range scores {
		if s == 0 {
			continue
		}
		if start < 0 || i-last > clusterGap {
			flush()
			start, total = i, 0
		}
		total += s
		last = i
	}
	flush()
	return best
}

var _ crawler.TextExtractor = (*Extractor)(nil)
