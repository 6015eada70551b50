// Package extractor turns announcement text into a validated syllabus hierarchy.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
	"github.com/JakeFAU/edital-crawler/internal/metrics"
)

// DefaultMaxChars bounds the document text sent to the service.
const DefaultMaxChars = 15000

// MalformedError is returned when the service response does not have the expected shape.
type MalformedError struct {
	Reason string
	Raw    string
}

func (e *MalformedError) Error() string {
	return "malformed extraction response: " + e.Reason
}

// ErrEmptyInput is returned for blank document text.
var ErrEmptyInput = errors.New("document text is empty")

// Config tunes an Extractor.
type Config struct {
	MaxChars int
}

// Extractor builds the prompt, calls the service and validates the response.
type Extractor struct {
	service  crawler.StructuredExtractor
	maxChars int
	logger   *zap.Logger
}

// New builds an Extractor.
func New(service crawler.StructuredExtractor, cfg Config, logger *zap.Logger) *Extractor {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{service: service, maxChars: cfg.MaxChars, logger: logger}
}

// Extract returns the hierarchy found in documentText. A response without
// subjects is valid; any malformed response is a *MalformedError.
func (e *Extractor) Extract(ctx context.Context, documentText string) (crawler.Hierarchy, error) {
	text := strings.TrimSpace(documentText)
	if text == "" {
		return crawler.Hierarchy{}, ErrEmptyInput
	}
	text = Truncate(text, e.maxChars)

	start := time.Now()
	raw, err := e.service.ExtractJSON(ctx, systemInstruction, userPromptPrefix+text)
	if err != nil {
		return crawler.Hierarchy{}, fmt.Errorf("extraction service: %w", err)
	}
	h, err := Parse(raw)
	if err != nil {
		metrics.ObserveExtraction("malformed", time.Since(start))
		return crawler.Hierarchy{}, err
	}
	metrics.ObserveExtraction(string(h.Confidence), time.Since(start))
	e.logger.Debug("hierarchy extracted",
		zap.Int("subjects", len(h.Subjects)),
		zap.String("confidence", string(h.Confidence)),
		zap.Int("input_chars", len([]rune(text))),
	)
	return h, nil
}

// Truncate returns at most maxChars runes of s.
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i]
		}
		n++
	}
	return s
}

// cleanJSON strips a surrounding markdown code fence.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

type rawHierarchy struct {
	Subjects   *[]rawSubject `json:"subjects"`
	Confidence string        `json:"confidence"`
}

type rawSubject struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Topics      []rawTopic `json:"topics"`
}

type rawTopic struct {
	Ordinal     *int          `json:"ordinal"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Subtopics   []rawSubtopic `json:"subtopics"`
}

type rawSubtopic struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Subtopics   []rawSubSubtopic `json:"subtopics"`
}

type rawSubSubtopic struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Subtopics   json.RawMessage `json:"subtopics"`
}

// Parse validates a service response into a Hierarchy.
func Parse(raw []byte) (crawler.Hierarchy, error) {
	body := cleanJSON(string(raw))
	malformed := func(format string, args ...any) error {
		return &MalformedError{Reason: fmt.Sprintf(format, args...), Raw: body}
	}
	if !strings.HasPrefix(body, "{") {
		return crawler.Hierarchy{}, malformed("response is not a JSON object")
	}

	dec := json.NewDecoder(strings.NewReader(body))
	var r rawHierarchy
	if err := dec.Decode(&r); err != nil {
		return crawler.Hierarchy{}, malformed("decode: %v", err)
	}
	if dec.More() {
		return crawler.Hierarchy{}, malformed("trailing data after JSON object")
	}
	if r.Subjects == nil {
		return crawler.Hierarchy{}, malformed("missing subjects array")
	}
	confidence := crawler.Confidence(strings.ToLower(strings.TrimSpace(r.Confidence)))
	if !confidence.Valid() {
		return crawler.Hierarchy{}, malformed("invalid confidence %q", r.Confidence)
	}

	h := crawler.Hierarchy{Subjects: make([]crawler.Subject, 0, len(*r.Subjects)), Confidence: confidence}
	for i, rs := range *r.Subjects {
		name := strings.TrimSpace(rs.Name)
		if name == "" {
			return crawler.Hierarchy{}, malformed("subject %d has no name", i)
		}
		subject := crawler.Subject{Name: name, Description: strings.TrimSpace(rs.Description)}
		for j, rt := range rs.Topics {
			topic, err := convertTopic(rt, j)
			if err != nil {
				return crawler.Hierarchy{}, malformed("subject %q: %v", name, err)
			}
			subject.Topics = append(subject.Topics, topic)
		}
		h.Subjects = append(h.Subjects, subject)
	}
	return h, nil
}

func convertTopic(rt rawTopic, index int) (crawler.Topic, error) {
	title := strings.TrimSpace(rt.Title)
	if title == "" {
		return crawler.Topic{}, fmt.Errorf("topic %d has no title", index)
	}
	ordinal := index + 1
	if rt.Ordinal != nil {
		if *rt.Ordinal < 0 {
			return crawler.Topic{}, fmt.Errorf("topic %q has negative ordinal", title)
		}
		ordinal = *rt.Ordinal
	}
	topic := crawler.Topic{Ordinal: ordinal, Title: title, Description: strings.TrimSpace(rt.Description)}
	for k, rst := range rt.Subtopics {
		name := strings.TrimSpace(rst.Name)
		if name == "" {
			return crawler.Topic{}, fmt.Errorf("topic %q: subtopic %d has no name", title, k)
		}
		sub := crawler.Subtopic{Name: name, Description: strings.TrimSpace(rst.Description)}
		for m, rss := range rst.Subtopics {
			leaf := strings.TrimSpace(rss.Name)
			if leaf == "" {
				return crawler.Topic{}, fmt.Errorf("subtopic %q: sub-subtopic %d has no name", name, m)
			}
			if nested := bytes.TrimSpace(rss.Subtopics); len(nested) > 0 && string(nested) != "null" && string(nested) != "[]" {
				return crawler.Topic{}, fmt.Errorf("sub-subtopic %q nests deeper than four levels", leaf)
			}
			sub.SubSubtopics = append(sub.SubSubtopics, crawler.SubSubtopic{
				Name:        leaf,
				Description: strings.TrimSpace(rss.Description),
			})
		}
		topic.Subtopics = append(topic.Subtopics, sub)
	}
	return topic, nil
}
