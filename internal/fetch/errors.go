// Package fetch re-checks remote threads over HTTP. It implements the
// scheduler's Fetcher: one rate-limited GET of the thread's JSON with retry,
// exponential backoff and error classification, followed by a count of the
// posts newer than the caller's seen marker.
package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, fetch.ErrNotFound) to check.
var (
	ErrBadRequest  = errors.New("fetch: bad request")
	ErrForbidden   = errors.New("fetch: forbidden")
	ErrNotFound    = errors.New("fetch: not found")
	ErrGone        = errors.New("fetch: thread gone")
	ErrThrottled   = errors.New("fetch: throttled")
	ErrServerError = errors.New("fetch: server error")

	ErrUnknownSource = errors.New("fetch: unknown source")
	ErrMalformed     = errors.New("fetch: malformed thread document")
)

// HTTPError wraps a sentinel error with the HTTP status code, the URL and
// a prefix of the response body for debugging.
type HTTPError struct {
	StatusCode int
	URL        string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("fetch: HTTP %d from %s: %s", e.StatusCode, e.URL, e.Message)
	}

	return fmt.Sprintf("fetch: HTTP %d from %s", e.StatusCode, e.URL)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusGone:
		return ErrGone
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// isGone reports whether err means the thread no longer exists.
func isGone(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrGone)
}
