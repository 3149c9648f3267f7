package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Admission and lifecycle errors. None of these are retried.
var (
	ErrTargetNotFound   = errors.New("crawl target not found")
	ErrTargetNotActive  = errors.New("crawl target is not active")
	ErrInvalidSelectors = errors.New("invalid selector map")
	ErrInvalidTarget    = errors.New("invalid crawl target")
	ErrAlreadyRunning   = errors.New("crawler already running")
	ErrNotFound         = errors.New("record not found")
)

// FetchError wraps a transient page-fetch failure.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewStatusError builds a FetchError for a non-2xx response.
func NewStatusError(url string, status int) *FetchError {
	return &FetchError{
		URL:        url,
		StatusCode: status,
		Err:        errors.New(http.StatusText(status)),
	}
}

// StatusCodeOf returns the HTTP status carried by err, or 0.
func StatusCodeOf(err error) int {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.StatusCode
	}
	return 0
}

// IsRetryable reports whether err belongs to the transient class.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, ErrTargetNotFound),
		errors.Is(err, ErrTargetNotActive),
		errors.Is(err, ErrInvalidSelectors),
		errors.Is(err, ErrInvalidTarget),
		errors.Is(err, ErrAlreadyRunning):
		return false
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		// 4xx other than throttling will not change on retry.
		if fetchErr.StatusCode >= 400 && fetchErr.StatusCode < 500 &&
			fetchErr.StatusCode != http.StatusTooManyRequests &&
			fetchErr.StatusCode != http.StatusRequestTimeout {
			return false
		}
	}
	return true
}
