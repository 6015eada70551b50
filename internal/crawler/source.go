package crawler

import (
	"fmt"
	"regexp"
	"strings"
)

// LinkMatcher is a compiled link pattern. Exactly one of Substring or Regexp is set.
type LinkMatcher struct {
	Substring string
	Regexp    *regexp.Regexp
}

// Match reports whether the value satisfies the matcher.
func (m LinkMatcher) Match(value string) bool {
	if m.Regexp != nil {
		return m.Regexp.MatchString(value)
	}
	return m.Substring != "" && containsFold(value, m.Substring)
}

// CompileLinkPatterns turns configured patterns into matchers. Patterns prefixed
// with "re:" are case-insensitive regular expressions, anything else a substring.
func CompileLinkPatterns(patterns []string) ([]LinkMatcher, error) {
	out := make([]LinkMatcher, 0, len(patterns))
	for _, raw := range patterns {
		p := strings.TrimSpace(raw)
		if p == "" {
			continue
		}
		if expr, ok := strings.CutPrefix(p, "re:"); ok {
			re, err := regexp.Compile("(?i)" + expr)
			if err != nil {
				return nil, fmt.Errorf("compile link pattern %q: %w", raw, err)
			}
			out = append(out, LinkMatcher{Regexp: re})
			continue
		}
		out = append(out, LinkMatcher{Substring: p})
	}
	return out, nil
}

// LinkMatchers returns the compiled matchers, compiling LinkPatterns when the
// source was not loaded through the registry.
func (s Source) LinkMatchers() ([]LinkMatcher, error) {
	if len(s.Matchers) > 0 || len(s.LinkPatterns) == 0 {
		return s.Matchers, nil
	}
	return CompileLinkPatterns(s.LinkPatterns)
}

// Mode returns the render mode, defaulting to static.
func (s Source) Mode() RenderMode {
	if s.RenderMode == "" {
		return RenderStatic
	}
	return s.RenderMode
}
