package document

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// htmlPages returns the visible text of an HTML announcement as one page.
func htmlPages(data []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse html document: %w", err)
	}
	doc.Find("script, style, noscript, nav, header, footer").Remove()
	var lines []string
	doc.Find("body").Find("h1, h2, h3, h4, h5, h6, p, li, td, pre").Each(func(_ int, s *goquery.Selection) {
		if s.Find("p, li, td").Length() > 0 {
			return
		}
		if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
			lines = append(lines, text)
		}
	})
	if len(lines) == 0 {
		lines = append(lines, strings.Join(strings.Fields(doc.Find("body").Text()), " "))
	}
	return []string{strings.Join(lines, "\n")}, nil
}
