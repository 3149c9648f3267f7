package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// ErrHeadlessDisabled is returned by Noop.
var ErrHeadlessDisabled = errors.New("headless fetcher not configured")

// Noop stands in for the browser when headless rendering is disabled.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Navigate always fails with ErrHeadlessDisabled.
func (Noop) Navigate(_ context.Context, pageURL string, _ crawler.NavigateOptions) (crawler.Page, error) {
	return nil, &crawler.FetchError{URL: pageURL, Err: ErrHeadlessDisabled}
}
