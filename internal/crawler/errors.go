package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotModified is returned by conditional fetches when the server reports no change.
	ErrNotModified = errors.New("not modified")
	// ErrBlocked is matched by every BlockedError.
	ErrBlocked = errors.New("blocked by bot protection")
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
)

// HTTPError reports a non-2xx response.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// Retryable reports whether the status is worth another attempt.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// BlockedError reports a page fingerprinted as a bot-block or CAPTCHA interstitial.
type BlockedError struct {
	URL         string
	Fingerprint string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked page at %s (matched %q)", e.URL, e.Fingerprint)
}

// Is lets errors.Is(err, ErrBlocked) match.
func (e *BlockedError) Is(target error) bool {
	return target == ErrBlocked
}

// StatusCode extracts the HTTP status from err, or 0 when err is not an HTTPError.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}
