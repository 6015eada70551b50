package listing

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
	"github.com/JakeFAU/edital-crawler/internal/slug"
)

const (
	minTitleRunes       = 10
	defaultNameSelector = "h1, h2, h3, h4, h5, h6, .title, .titulo, strong"
	maxHeadingAncestors = 6
)

// genericLabels are folded anchor texts that never name a posting.
var genericLabels = map[string]struct{}{}

func init() {
	for _, label := range []string{
		"apply now", "inscreva se", "inscreva se agora", "inscricoes", "see more", "ver mais", "veja mais",
		"saiba mais", "leia mais", "read more", "more info", "mais informacoes", "mais detalhes", "detalhes",
		"details", "clique aqui", "click here", "acessar", "acesse", "acesse aqui", "download", "baixar",
		"ver edital", "back", "voltar", "home", "inicio", "pagina inicial", "next", "next page", "previous",
		"previous page", "prev", "proxima", "proxima pagina", "anterior", "pagina anterior", "primeira",
		"primeira pagina", "ultima", "ultima pagina", "first", "last", "mostrar mais", "carregar mais",
		"load more", "todos os concursos", "todas as noticias", "all news",
	} {
		genericLabels[slug.Words(label)] = struct{}{}
	}
}

// filter applies a source's candidate rules.
type filter struct {
	src      crawler.Source
	matchers []crawler.LinkMatcher
	include  []string
	exclude  []string
	selector string
}

func newFilter(src crawler.Source) (*filter, error) {
	matchers, err := src.LinkMatchers()
	if err != nil {
		return nil, err
	}
	selector := src.NameSelector
	if selector == "" {
		selector = defaultNameSelector
	}
	return &filter{
		src:      src,
		matchers: matchers,
		include:  foldAll(src.IncludeKeywords),
		exclude:  foldAll(src.ExcludeKeywords),
		selector: selector,
	}, nil
}

// ExtractCandidates returns the candidate postings linked from a listing page, in document order.
// Duplicate URLs within the page are kept once.
func ExtractCandidates(body []byte, pageURL string, src crawler.Source) ([]crawler.Candidate, error) {
	f, err := newFilter(src)
	if err != nil {
		return nil, err
	}
	return f.extract(body, pageURL)
}

func (f *filter) extract(body []byte, pageURL string) ([]crawler.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := base.Parse(href); err == nil {
			base = b
		}
	}

	var out []crawler.Candidate
	seen := map[string]struct{}{}
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		abs, ok := crawler.ResolveReference(base, href)
		if !ok {
			return
		}
		text := anchorText(a)
		if !f.linkMatches(abs, text) {
			return
		}
		if f.src.ExactText != "" && !strings.EqualFold(text, strings.TrimSpace(f.src.ExactText)) {
			return
		}
		title := text
		if f.src.ExtractNameFromDOM {
			if name := nearestHeading(a, f.selector, text); name != "" {
				title = name
			}
		}
		if !f.keep(title, abs) {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, crawler.Candidate{Title: title, URL: abs})
	})
	return out, nil
}

func (f *filter) linkMatches(href, text string) bool {
	if need := strings.ToLower(f.src.RequireURLSubstring); need != "" && !strings.Contains(strings.ToLower(href), need) {
		return false
	}
	if len(f.matchers) == 0 {
		return true
	}
	for _, m := range f.matchers {
		if m.Match(href) || m.Match(text) {
			return true
		}
	}
	return false
}

// keep drops listing chrome and applies the source's keyword lists to a resolved title.
func (f *filter) keep(title, href string) bool {
	if utf8.RuneCountInString(title) < minTitleRunes {
		return false
	}
	words := slug.Words(title)
	if _, generic := genericLabels[words]; generic {
		return false
	}
	padded := " " + words + " "
	for _, kw := range f.exclude {
		if strings.Contains(padded, " "+kw+" ") {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	haystack := padded + slug.Words(href) + " "
	for _, kw := range f.include {
		if strings.Contains(haystack, " "+kw+" ") {
			return true
		}
	}
	return false
}

func anchorText(a *goquery.Selection) string {
	text := collapseSpace(a.Text())
	if text != "" {
		return text
	}
	for _, attr := range []string{"title", "aria-label"} {
		if v, ok := a.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return collapseSpace(v)
		}
	}
	return collapseSpace(a.Find("img[alt]").First().AttrOr("alt", ""))
}

// nearestHeading walks up from the anchor and returns the first heading found in
// the closest ancestor that has one.
func nearestHeading(a *goquery.Selection, selector, anchorText string) string {
	node := a
	for i := 0; i < maxHeadingAncestors; i++ {
		node = node.Parent()
		if node.Length() == 0 {
			return ""
		}
		var found string
		node.Find(selector).EachWithBreak(func(_ int, h *goquery.Selection) bool {
			text := collapseSpace(h.Text())
			if text == "" || strings.EqualFold(text, anchorText) || h.Closest("a").Length() > 0 {
				return true
			}
			found = text
			return false
		})
		if found != "" {
			return found
		}
	}
	return ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func foldAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if w := slug.Words(s); w != "" {
			out = append(out, w)
		}
	}
	return out
}
