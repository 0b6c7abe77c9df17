// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package classify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMissingAPIKey is returned when a classifier is built without credentials.
	ErrMissingAPIKey = errors.New("reasoning service API key is not configured")

	// ErrMalformedReply indicates the service answered but not in the requested format.
	ErrMalformedReply = errors.New("malformed reply from reasoning service")
)

// APIError is a non-200 response from the reasoning service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("reasoning service returned %d: %s", e.StatusCode, e.Message)
}

// IsAuthError reports whether err is a credential rejection. Auth errors are
// never retried and abort a search run.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
	}
	return false
}

// IsRateLimited reports whether err is an HTTP 429 response.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// IsTransient reports whether err is worth retrying: transport failures,
// timeouts, rate limiting, and server errors. Malformed replies, auth
// failures, other 4xx responses, and caller cancellation are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrMalformedReply) || errors.Is(err, ErrMissingAPIKey) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	return true
}
