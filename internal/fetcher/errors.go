package fetcher

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTimeout is returned when a single attempt exceeds its deadline.
	ErrTimeout = errors.New("request timeout")
	// ErrSizeLimitExceeded is returned when a body is larger than the configured ceiling.
	ErrSizeLimitExceeded = errors.New("response size limit exceeded")
)

// HTTPError reports a non-2xx upstream status.
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	status := e.Status
	if status == "" {
		status = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, status)
}

// IsClientError reports whether the status is in the 4xx range.
func (e *HTTPError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}
