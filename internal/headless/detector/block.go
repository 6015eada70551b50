package detector

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
)

// DefaultBlockKeywords are lowercase markers that only appear on bot-protection interstitials.
// Markers that vendors also inject into normally served pages (challenge-platform beacons,
// CAPTCHA widget class names) do not belong here.
var DefaultBlockKeywords = []string{
	"cf-browser-verification",
	"attention required! | cloudflare",
	"just a moment...",
	"checking your browser before accessing",
	"_incapsula_resource",
	"request unsuccessful. incapsula",
	"are you a robot",
	"verify you are human",
	"unusual traffic from your computer",
	"verifique se você é humano",
	"acesso negado pelo firewall",
}

// DefaultBlockSelectors match elements that only bot walls render.
var DefaultBlockSelectors = []string{
	"#challenge-form",
	"#cf-wrapper",
	"#px-captcha",
}

// DefaultCaptchaSelectors match CAPTCHA widgets. A widget is a block only on a thin page:
// contact and search forms carry the same widget next to real content.
var DefaultCaptchaSelectors = []string{
	"div.g-recaptcha",
	"div.h-captcha",
	"iframe[src*='captcha']",
}

const (
	// scanLimit bounds how much of a page the scan reads.
	scanLimit = 256 << 10
	// thinTextRunes and thinAnchors bound a page that has nothing besides the widget.
	thinTextRunes = 400
	thinAnchors   = 3
)

// Block fingerprints bot-block and CAPTCHA pages.
type Block struct {
	keywords  [][]byte
	selectors []string
	captchas  []string
}

// NewBlock builds a detector. Empty lists fall back to the defaults.
func NewBlock(keywords, selectors []string) *Block {
	if len(keywords) == 0 {
		keywords = DefaultBlockKeywords
	}
	if len(selectors) == 0 {
		selectors = DefaultBlockSelectors
	}
	lowered := make([][]byte, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lowered = append(lowered, []byte(strings.ToLower(kw)))
	}
	return &Block{keywords: lowered, selectors: selectors, captchas: DefaultCaptchaSelectors}
}

// Detect returns the first fingerprint found in the page. Non-HTML bodies are never blocked.
func (b *Block) Detect(page crawler.Page) (string, bool) {
	if b == nil || len(page.Body) == 0 {
		return "", false
	}
	if ct := page.ContentType(); ct != "" && !strings.Contains(ct, "html") && ct != "text/plain" {
		return "", false
	}
	body := page.Body
	if len(body) > scanLimit {
		body = body[:scanLimit]
	}
	lower := bytes.ToLower(body)
	for _, kw := range b.keywords {
		if bytes.Contains(lower, kw) {
			return string(kw), true
		}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", false
	}
	for _, sel := range b.selectors {
		if doc.Find(sel).Length() > 0 {
			return sel, true
		}
	}
	for _, sel := range b.captchas {
		if doc.Find(sel).Length() > 0 && thinPage(doc) {
			return sel, true
		}
	}
	return "", false
}

// thinPage reports whether the page has almost no readable content or links.
func thinPage(doc *goquery.Document) bool {
	if doc.Find("a[href]").Length() >= thinAnchors {
		return false
	}
	content := doc.Find("body").Clone()
	content.Find("script, style, noscript, form").Remove()
	text := strings.Join(strings.Fields(content.Text()), " ")
	return utf8.RuneCountInString(text) < thinTextRunes
}
