package port

import (
	"errors"
	"fmt"
	"time"
)

// Transient fetch failures. Retried by the collector with backoff.
var (
	ErrNetwork           = errors.New("network error")
	ErrRateLimited       = errors.New("rate limited")
	ErrMalformedResponse = errors.New("malformed response")
)

var (
	// ErrDataQuality marks a single quote that was dropped (bad prices, stale, unknown pair).
	ErrDataQuality = errors.New("data quality")
	// ErrInternal marks an unexpected detector or store fault; the cycle is skipped.
	ErrInternal = errors.New("internal error")
)

// FetchError is the error returned by PriceAdapter.Fetch.
type FetchError struct {
	Exchange   string
	Kind       error // one of ErrNetwork, ErrRateLimited, ErrMalformedResponse
	RetryAfter time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Exchange, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Exchange, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewFetchError wraps err as a fetch failure of the given kind.
func NewFetchError(exchange string, kind, err error) *FetchError {
	return &FetchError{Exchange: exchange, Kind: kind, Err: err}
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrMalformedResponse)
}

// RetryAfter extracts a server-provided retry hint, zero when absent.
func RetryAfter(err error) time.Duration {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.RetryAfter
	}
	return 0
}
