package market

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	// Lookup errors
	ErrNotFound = errors.New("not found")

	// Upstream provider errors (network, parse, unknown symbol)
	ErrUpstream    = errors.New("upstream error")
	ErrRateLimited = fmt.Errorf("%w: rate limited", ErrUpstream)

	// Store errors (unreachable database, failed query or transaction)
	ErrStore = errors.New("store error")

	// All fallback paths exhausted
	ErrUnavailable = errors.New("unavailable")

	// Validation errors
	ErrInvalidBar = errors.New("invalid price bar")
)

// NotFoundError builds a not-found error for a ticker
func NotFoundError(ticker string) error {
	return fmt.Errorf("ticker %s: %w", ticker, ErrNotFound)
}

// UnavailableError builds an exhaustion error carrying the last cause
func UnavailableError(what string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", what, ErrUnavailable)
	}
	return fmt.Errorf("%s: %w: %w", what, ErrUnavailable, cause)
}
