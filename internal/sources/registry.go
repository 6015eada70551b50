// Package sources loads the registry of exam-organizer sites.
package sources

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
)

// file is the on-disk layout of the sources file.
type file struct {
	Sources []crawler.Source `yaml:"sources"`
}

// Registry is the ordered, immutable set of configured sources.
type Registry struct {
	sources []crawler.Source
	byID    map[string]int
}

// Load reads and validates a sources file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}
	reg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// Parse decodes and validates sources from YAML.
func Parse(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse sources: %w", err)
	}
	return New(f.Sources)
}

// New validates srcs and compiles their link patterns. Order is preserved.
func New(srcs []crawler.Source) (*Registry, error) {
	reg := &Registry{
		sources: make([]crawler.Source, 0, len(srcs)),
		byID:    make(map[string]int, len(srcs)),
	}
	var errs []error
	for i, src := range srcs {
		src, err := prepare(src)
		if err != nil {
			errs = append(errs, fmt.Errorf("source #%d (%s): %w", i, src.ID, err))
			continue
		}
		if _, dup := reg.byID[src.ID]; dup {
			errs = append(errs, fmt.Errorf("source #%d: duplicate id %q", i, src.ID))
			continue
		}
		reg.byID[src.ID] = len(reg.sources)
		reg.sources = append(reg.sources, src)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return reg, nil
}

func prepare(src crawler.Source) (crawler.Source, error) {
	src.ID = strings.TrimSpace(src.ID)
	if src.ID == "" {
		return src, errors.New("id is required")
	}
	if err := requireAbsolute(src.ListingURL); err != nil {
		return src, fmt.Errorf("listing_url: %w", err)
	}
	if src.FeedURL != "" {
		if err := requireAbsolute(src.FeedURL); err != nil {
			return src, fmt.Errorf("feed_url: %w", err)
		}
	}
	if src.RenderMode == "" {
		src.RenderMode = crawler.RenderStatic
	}
	if !src.RenderMode.Valid() {
		return src, fmt.Errorf("unknown render_mode %q", src.RenderMode)
	}
	if src.PageSize < 0 || src.MaxPages < 0 {
		return src, errors.New("page_size and max_pages must not be negative")
	}
	if src.Name == "" {
		src.Name = src.ID
	}
	matchers, err := crawler.CompileLinkPatterns(src.LinkPatterns)
	if err != nil {
		return src, err
	}
	src.Matchers = matchers
	return src, nil
}

func requireAbsolute(raw string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an absolute http(s) url", raw)
	}
	return nil
}

// All returns the sources in configuration order.
func (r *Registry) All() []crawler.Source {
	return append([]crawler.Source(nil), r.sources...)
}

// Get returns the source with the given id.
func (r *Registry) Get(id string) (crawler.Source, error) {
	i, ok := r.byID[id]
	if !ok {
		return crawler.Source{}, fmt.Errorf("source %q: %w", id, crawler.ErrNotFound)
	}
	return r.sources[i], nil
}

// Len returns the number of sources.
func (r *Registry) Len() int {
	return len(r.sources)
}
