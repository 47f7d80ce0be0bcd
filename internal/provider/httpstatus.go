// Package provider holds the client setup and error mapping shared by the
// remote embedding, generation and storage backends.
package provider

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"healthai/internal/domain"
)

// RateLimitError is returned when a backend throttles a request. It unwraps
// to domain.ErrRateLimited and carries the server's Retry-After hint.
type RateLimitError struct {
	Backend    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: %v (retry after %s)", e.Backend, domain.ErrRateLimited, e.RetryAfter)
	}
	return fmt.Sprintf("%s: %v", e.Backend, domain.ErrRateLimited)
}

func (e *RateLimitError) Unwrap() error { return domain.ErrRateLimited }

// RetryAfterDelay exposes the hint to retry policies.
func (e *RateLimitError) RetryAfterDelay() time.Duration { return e.RetryAfter }

// MapHTTPStatus classifies a non-2xx response. unavailable is the sentinel
// for the calling layer (backend, index or generation).
func MapHTTPStatus(backend string, resp *http.Response, body []byte, unavailable error) error {
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return &RateLimitError{Backend: backend, RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"))}
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s returned %s: %s", domain.ErrInvalidInput, backend, resp.Status, truncate(body))
	default:
		return fmt.Errorf("%w: %s returned %s: %s", unavailable, backend, resp.Status, truncate(body))
	}
}

// ParseRetryAfter reads a Retry-After header given in seconds.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncate(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
