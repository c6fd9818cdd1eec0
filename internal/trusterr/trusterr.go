// Package trusterr defines the error taxonomy shared by the trust engine.
//
// Every component wraps its failures in one of these sentinels so that the
// HTTP layer can map them without string matching. Insufficient data is not
// part of the taxonomy: a missing baseline is a nil value, not an error.
package trusterr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUpstreamStore = errors.New("upstream store error")
	ErrNotFound      = errors.New("not found")
)

// Invalid wraps ErrInvalidInput with a field-level message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Store wraps a backing-store failure so callers can treat it as retryable.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrUpstreamStore, op, err)
}

// HTTPStatus maps an error to the response code and machine-readable code
// used by the gin handlers.
func HTTPStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrUpstreamStore):
		return http.StatusServiceUnavailable, "store_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// RetryAfterSeconds is the Retry-After hint sent with store failures.
const RetryAfterSeconds = "5"

// Retryable reports whether the caller may retry the failed operation.
func Retryable(err error) bool {
	return errors.Is(err, ErrUpstreamStore)
}
