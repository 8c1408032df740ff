package notion

import (
	"errors"
	"fmt"
	"time"
)

// APIError is a non-2xx response from the remote store.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration // Populated on rate-limit responses when the store provides it
}

func (e *APIError) Error() string {
	return fmt.Sprintf("notion api status %d (%s): %s", e.StatusCode, e.Code, truncate(e.Message, 200))
}

// TransientError indicates a network-level or server-side failure worth
// a short retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %s", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether err is a rate-limit response. Rate-limit
// errors warrant a long backoff before the same request is retried.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 429
}

// RetryAfter returns the store-advertised wait for a rate-limit error,
// or zero when none was provided.
func RetryAfter(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}

// IsTransient reports whether err is retryable with a short backoff.
func IsTransient(err error) bool {
	var tErr *TransientError
	if errors.As(err, &tErr) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode >= 500
}

// IsNotFound reports whether err is a 404 from the store.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
