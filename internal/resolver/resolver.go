// Package resolver finds the official announcement document behind a posting page.
package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
	"github.com/JakeFAU/edital-crawler/internal/slug"
)

const (
	// ReasonNoDocument is the invalid reason when a page links to no document.
	ReasonNoDocument = "no document found"
	// DefaultMaxHops allows one intermediary page between the posting and its document.
	DefaultMaxHops = 1
)

// InvalidError reports a posting page that does not lead to a usable document.
type InvalidError struct {
	URL    string
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid posting %s: %s", e.URL, e.Reason)
}

// documentTypes maps document extensions to the media types accepted for them.
var documentTypes = map[string][]string{
	".pdf":  {"application/pdf", "application/x-pdf"},
	".doc":  {"application/msword"},
	".docx": {"application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
	".odt":  {"application/vnd.oasis.opendocument.text"},
	".rtf":  {"application/rtf", "text/rtf"},
}

// Generic binary types some servers send for every download; the body is sniffed instead.
var opaqueTypes = map[string]struct{}{
	"application/octet-stream":   {},
	"application/force-download": {},
	"binary/octet-stream":        {},
	"application/download":       {},
}

// Config tunes a Resolver.
type Config struct {
	// MaxHops is how many intermediary pages may be followed after the posting page.
	// Zero means DefaultMaxHops.
	MaxHops int
	// Mode renders posting pages when the caller does not name the source's mode.
	Mode crawler.RenderMode
}

// Resolver resolves posting pages to document URLs.
type Resolver struct {
	fetcher crawler.PageFetcher
	cfg     Config
	logger  *zap.Logger
}

// New builds a Resolver.
func New(fetcher crawler.PageFetcher, cfg Config, logger *zap.Logger) *Resolver {
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = DefaultMaxHops
	}
	if cfg.Mode == "" {
		cfg.Mode = crawler.RenderStatic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{fetcher: fetcher, cfg: cfg, logger: logger}
}

// Resolve returns the document URL for pageURL. Pages are fetched with mode, the render
// mode of the posting's source; an empty mode uses the configured default. Invalid
// outcomes are *InvalidError; other errors are fetch failures.
func (r *Resolver) Resolve(ctx context.Context, pageURL string, mode crawler.RenderMode) (string, error) {
	if mode == "" {
		mode = r.cfg.Mode
	}
	return r.resolve(ctx, pageURL, mode, 0)
}

func (r *Resolver) resolve(ctx context.Context, target string, mode crawler.RenderMode, hop int) (string, error) {
	if ext := DocumentExtension(target); ext != "" {
		ok, err := r.confirm(ctx, target, ext)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", &InvalidError{URL: target, Reason: "content type does not match " + ext}
		}
		return target, nil
	}

	page, err := r.fetcher.Fetch(ctx, crawler.FetchRequest{URL: target, Mode: mode})
	if err != nil {
		return "", fmt.Errorf("fetch posting page: %w", err)
	}
	final := page.FinalURL
	if final == "" {
		final = target
	}
	if isDocumentType(page.ContentType()) {
		return final, nil
	}

	links, err := scanLinks(page.Body, final)
	if err != nil {
		return "", err
	}
	choice, ok := pick(links, hop < r.cfg.MaxHops)
	if !ok {
		return "", &InvalidError{URL: target, Reason: ReasonNoDocument}
	}
	r.logger.Debug("document candidate",
		zap.String("url", target),
		zap.String("candidate", choice.url),
		zap.Int("rank", int(choice.rank)),
	)
	next := hop
	if !choice.document {
		next++
	}
	return r.resolve(ctx, choice.url, mode, next)
}

// confirm checks a document URL's content type with a HEAD request. Servers
// that reject HEAD get a GET whose body is sniffed.
func (r *Resolver) confirm(ctx context.Context, target, ext string) (bool, error) {
	page, err := r.fetcher.Head(ctx, target)
	switch code := crawler.StatusCode(err); {
	case err == nil:
		ct := page.ContentType()
		if _, opaque := opaqueTypes[ct]; !opaque {
			return matchesExtension(ct, ext), nil
		}
	case code == http.StatusMethodNotAllowed || code == http.StatusNotImplemented:
		r.logger.Debug("HEAD rejected, falling back to GET", zap.String("url", target), zap.Int("status", code))
	default:
		return false, fmt.Errorf("check document: %w", err)
	}

	page, err = r.fetcher.Fetch(ctx, crawler.FetchRequest{URL: target, Mode: crawler.RenderStatic})
	if err != nil {
		return false, fmt.Errorf("check document: %w", err)
	}
	return matchesExtension(ContentType(page), ext), nil
}

// DocumentExtension returns the recognized document extension of rawURL's path, or "".
func DocumentExtension(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if _, ok := documentTypes[ext]; ok {
		return ext
	}
	return ""
}

// ExtensionFor returns the file extension for a document media type, or "".
func ExtensionFor(contentType string) string {
	for ext, types := range documentTypes {
		for _, t := range types {
			if t == contentType {
				return ext
			}
		}
	}
	return ""
}

func isDocumentType(ct string) bool {
	return ExtensionFor(ct) != ""
}

func matchesExtension(ct, ext string) bool {
	for _, t := range documentTypes[ext] {
		if t == ct {
			return true
		}
	}
	// .doc links frequently serve the newer format and vice versa.
	if ext == ".doc" || ext == ".docx" {
		return ct == documentTypes[".doc"][0] || ct == documentTypes[".docx"][0]
	}
	return false
}

// ContentType returns the media type of a downloaded document. Generic binary
// types are replaced by what the body looks like.
func ContentType(page crawler.Page) string {
	ct := page.ContentType()
	if _, opaque := opaqueTypes[ct]; opaque || ct == "" {
		return sniff(page.Body)
	}
	return ct
}

var magic = []struct {
	prefix []byte
	ct     string
}{
	{[]byte("%PDF-"), "application/pdf"},
	{[]byte("{\\rtf"), "application/rtf"},
	{[]byte{0xD0, 0xCF, 0x11, 0xE0}, "application/msword"},
}

func sniff(body []byte) string {
	for _, m := range magic {
		if bytes.HasPrefix(body, m.prefix) {
			return m.ct
		}
	}
	if bytes.HasPrefix(body, []byte("PK\x03\x04")) {
		if bytes.Contains(body[:min(len(body), 512)], []byte("opendocument.text")) {
			return documentTypes[".odt"][0]
		}
		return documentTypes[".docx"][0]
	}
	return http.DetectContentType(body)
}

// rank orders link candidates; lower is better.
type rank int

const (
	rankStrongDocument rank = iota + 1
	rankStrongPage
	rankDocument
	rankAccessibleDocument
)

type link struct {
	url      string
	text     string
	document bool
	rank     rank
}

var (
	noticeTerms     = []string{"edital", "notice"}
	openingTerms    = []string{"abertura", "opening"}
	accessibleTerms = []string{"acessivel", "accessible", "libras", "sign language", "audiodescricao"}
)

func scanLinks(body []byte, pageURL string) ([]link, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse posting page: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse posting url: %w", err)
	}
	self, _ := crawler.NormalizeURL(pageURL)

	var out []link
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		abs, ok := crawler.ResolveReference(base, a.AttrOr("href", ""))
		if !ok {
			return
		}
		if canonical, err := crawler.NormalizeURL(abs); err == nil && canonical == self {
			return
		}
		text := strings.Join(strings.Fields(a.Text()+" "+a.AttrOr("title", "")), " ")
		l := link{url: abs, text: text, document: DocumentExtension(abs) != ""}
		l.rank = classify(l)
		if l.rank == 0 {
			return
		}
		out = append(out, l)
	})
	return out, nil
}

func classify(l link) rank {
	words := " " + slug.Words(l.text) + " "
	hrefWords := " " + slug.Words(l.url) + " "
	accessible := hasAny(words, accessibleTerms) || hasAny(hrefWords, accessibleTerms)
	strong := !accessible && hasAny(words, noticeTerms) && hasAny(words, openingTerms)
	switch {
	case strong && l.document:
		return rankStrongDocument
	case strong:
		return rankStrongPage
	case l.document && !accessible:
		return rankDocument
	case l.document:
		return rankAccessibleDocument
	default:
		return 0
	}
}

// pick returns the best-ranked link, first in document order on ties.
// Non-document links are only eligible while another hop is allowed.
func pick(links []link, allowHop bool) (link, bool) {
	var best link
	for _, l := range links {
		if !l.document && !allowHop {
			continue
		}
		if best.rank == 0 || l.rank < best.rank {
			best = l
		}
	}
	return best, best.rank != 0
}

func hasAny(padded string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(padded, " "+t+" ") {
			return true
		}
	}
	return false
}

// IsInvalid reports whether err is an invalid-posting outcome.
func IsInvalid(err error) bool {
	var invalid *InvalidError
	return errors.As(err, &invalid)
}
