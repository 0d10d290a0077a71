package embedding

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnsupportedMedia means the service rejected the content itself.
	ErrUnsupportedMedia = errors.New("unsupported media")

	// ErrCapacity means the service is overloaded and asked us to back off.
	ErrCapacity = errors.New("inference capacity exhausted")

	// ErrUpstream covers every other non-2xx response.
	ErrUpstream = errors.New("inference upstream error")
)

// StatusError carries the HTTP status and a trimmed response body.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
	kind       error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d for %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *StatusError) Unwrap() error { return e.kind }

// statusKind maps a response status onto the package sentinels.
func statusKind(code int) error {
	switch code {
	case http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		return ErrUnsupportedMedia
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return ErrCapacity
	default:
		return ErrUpstream
	}
}
