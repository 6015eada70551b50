package listing

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Pattern is one way of building the URL of listing page N.
type Pattern int

// Pagination patterns, in the order they are probed.
const (
	PatternQueryPage Pattern = iota // ?page=N
	PatternQueryP                   // ?p=N
	PatternPathPage                 // /page/N
	PatternOffset                   // ?offset=N*pageSize
)

// Patterns lists every pattern in probe order.
var Patterns = []Pattern{PatternQueryPage, PatternQueryP, PatternPathPage, PatternOffset}

func (p Pattern) String() string {
	switch p {
	case PatternQueryPage:
		return "page"
	case PatternQueryP:
		return "p"
	case PatternPathPage:
		return "path"
	case PatternOffset:
		return "offset"
	default:
		return "unknown"
	}
}

// BuildPageURL returns the URL of page n of the listing at base. Page 0 is base itself.
func BuildPageURL(base string, n int, pattern Pattern, pageSize int) (string, error) {
	if n < 0 {
		return "", fmt.Errorf("page must be >= 0, got %d", n)
	}
	if n == 0 {
		return base, nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse listing url: %w", err)
	}
	switch pattern {
	case PatternQueryPage:
		setQuery(u, "page", n)
	case PatternQueryP:
		setQuery(u, "p", n)
	case PatternPathPage:
		u.Path = strings.TrimSuffix(u.Path, "/") + "/page/" + strconv.Itoa(n)
		u.RawPath = ""
	case PatternOffset:
		if pageSize <= 0 {
			return "", fmt.Errorf("offset pagination needs a positive page size")
		}
		setQuery(u, "offset", n*pageSize)
	default:
		return "", fmt.Errorf("unknown pagination pattern %d", pattern)
	}
	return u.String(), nil
}

func setQuery(u *url.URL, key string, value int) {
	q := u.Query()
	q.Set(key, strconv.Itoa(value))
	u.RawQuery = q.Encode()
}
