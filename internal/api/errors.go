package api

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthorized    = errors.New("realtime credentials rejected")
	ErrQueueNotFound   = errors.New("realtime queue not found")
	ErrCatchupRequired = errors.New("realtime cursor too old, catch-up required")
	ErrRateLimited     = errors.New("rate limited by realtime API")
	ErrNotConfigured   = errors.New("realtime endpoint not configured")
)

// StatusError is returned for unexpected HTTP statuses.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Unwrap maps auth statuses onto ErrUnauthorized so callers can use errors.Is.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrQueueNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	return nil
}

// IsAuth reports whether err is a terminal credential failure.
func IsAuth(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsResourceLoss reports whether err means the server-side queue must be recreated.
func IsResourceLoss(err error) bool {
	return errors.Is(err, ErrQueueNotFound) || errors.Is(err, ErrCatchupRequired)
}
