package headless

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
)

// ErrDisabled is returned by Noop for every fetch.
var ErrDisabled = errors.New("headless rendering is disabled")

// Noop stands in for the renderer when headless rendering is turned off.
// Sources configured for headless mode then fail loudly instead of being fetched statically.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails with ErrDisabled.
func (Noop) Fetch(_ context.Context, request crawler.FetchRequest) (crawler.Page, error) {
	return crawler.Page{}, fmt.Errorf("%w: %s", ErrDisabled, request.URL)
}
