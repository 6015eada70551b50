package document

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// docxPages splits a Word document on explicit page breaks.
func docxPages(data []byte) ([]string, error) {
	return zipXMLPages(data, "word/document.xml", "p", func(el xml.StartElement) bool {
		if el.Name.Local != "br" {
			return false
		}
		for _, a := range el.Attr {
			if a.Name.Local == "type" && a.Value == "page" {
				return true
			}
		}
		return false
	})
}

// odtPages returns an OpenDocument text as a single page.
func odtPages(data []byte) ([]string, error) {
	return zipXMLPages(data, "content.xml", "p", func(xml.StartElement) bool { return false })
}

// zipXMLPages streams the character data of one XML part of a zip container,
// starting a new line at every paragraph element and a new page where pageBreak says so.
func zipXMLPages(data []byte, part, paragraph string, pageBreak func(xml.StartElement) bool) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open document archive: %w", err)
	}
	var f *zip.File
	for _, candidate := range zr.File {
		if candidate.Name == part {
			f = candidate
			break
		}
	}
	if f == nil {
		return nil, fmt.Errorf("document archive has no %s", part)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", part, err)
	}
	defer rc.Close()

	var (
		pages []string
		page  strings.Builder
	)
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", part, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if pageBreak(t) {
				pages = append(pages, page.String())
				page.Reset()
			}
		case xml.EndElement:
			if t.Name.Local == paragraph {
				page.WriteByte('\n')
			}
		case xml.CharData:
			page.Write(t)
		}
	}
	pages = append(pages, page.String())
	return pages, nil
}
