// Package zotero provides an HTTP client for the Zotero Web API v3 with
// rate limiting, retry on throttling, error classification, pagination,
// attachment file endpoints, and the streaming API.
package zotero

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, zotero.ErrForbidden) to check.
var (
	ErrBadRequest         = errors.New("zotero: bad request")
	ErrUnauthorized       = errors.New("zotero: unauthorized")
	ErrForbidden          = errors.New("zotero: forbidden")
	ErrNotFound           = errors.New("zotero: not found")
	ErrConflict           = errors.New("zotero: conflict")
	ErrPreconditionFailed = errors.New("zotero: precondition failed")
	ErrTooLarge           = errors.New("zotero: request entity too large")
	ErrThrottled          = errors.New("zotero: throttled")
	ErrServerError        = errors.New("zotero: server error")
)

// Error kinds raised by the authorization, discovery and save layers.
var (
	// ErrNotAuthorized means no credential is stored and authorization was
	// not permitted for the call.
	ErrNotAuthorized = errors.New("zotero: not authorized")

	// ErrAuthorizationCancelled means the user closed the authorization
	// surface before completing it.
	ErrAuthorizationCancelled = errors.New("zotero: authorization cancelled")

	// ErrAuthorizationRejected means the server issued a key without the
	// required permissions, or returned something that could not be used.
	ErrAuthorizationRejected = errors.New("zotero: authorization rejected")

	// ErrValidation means a request was rejected locally before any
	// network call.
	ErrValidation = errors.New("zotero: validation failed")

	// ErrMalformedResponse means the server answered but its body could not
	// be parsed. Distinct from *APIError, which means the call itself failed.
	ErrMalformedResponse = errors.New("zotero: malformed response")

	// ErrPartialDiscovery marks a single library whose collections or tags
	// could not be fully fetched. Logged, never returned from discovery.
	ErrPartialDiscovery = errors.New("zotero: partial discovery failure")
)

// APIError is a transport failure: a non-2xx response with its status code
// and body. It wraps a status sentinel for errors.Is().
type APIError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zotero: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// StatusCode extracts the HTTP status from err, or 0 if err is not an
// *APIError.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}

	return 0
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a dedicated sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusPreconditionFailed:
		return ErrPreconditionFailed
	case http.StatusRequestEntityTooLarge:
		return ErrTooLarge
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the server asked us to come back later.
// Other 5xx codes are not retried: a POST may already have been applied.
func isRetryable(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}
