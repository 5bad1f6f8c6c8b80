package services

import (
	"fmt"
	"time"
)

// RateLimitedError signals an HTTP 429 from the Spotify API. RetryAfter is
// taken from the Retry-After response header. Callers must reschedule the
// operation after the delay rather than retrying immediately.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("spotify rate limit hit, retry after %s", e.RetryAfter)
}

// APIError is any Spotify response outside the modeled set (not 2xx, not
// 401, not 429). It is fatal for the current call and is never retried by
// the client.
type APIError struct {
	Status   int
	Endpoint string
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("spotify API error: status %d on %s: %s", e.Status, e.Endpoint, e.Body)
}
