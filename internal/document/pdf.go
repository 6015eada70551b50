package document

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// pdfPages returns the plain text of every page. The pdf reader panics on some
// malformed files, so panics are turned into errors.
func pdfPages(data []byte) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("read pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	n := r.NumPage()
	pages = make([]string, 0, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("read pdf page %d: %w", i, err)
		}
		pages = append(pages, text)
	}
	return pages, nil
}
