package resilience

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError reports a non-success HTTP response from a remote server.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// NewStatusError builds a StatusError for the given response code and URL.
func NewStatusError(statusCode int, url string) *StatusError {
	return &StatusError{StatusCode: statusCode, URL: url}
}

// StatusCode returns the HTTP status carried anywhere in err's chain, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// IsRateLimited reports whether err carries an HTTP 429.
func IsRateLimited(err error) bool {
	return StatusCode(err) == http.StatusTooManyRequests
}
