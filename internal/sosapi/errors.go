package sosapi

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

var (
	// ErrUnauthorized indicates a missing or invalid credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict indicates a duplicate help offer.
	ErrConflict = errors.New("conflict")
	// ErrForbidden indicates the caller does not own the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound indicates a stale, resolved, or missing alert.
	ErrNotFound = errors.New("not found")
)

var retryAfterPattern = regexp.MustCompile(`(?i)(\d+)\s*minutes?`)

// RateLimitedError reports a server-enforced cooldown rejection.
// Params: raw server message and optional parsed retry-after minutes.
// Returns: error carrying cooldown metadata for the controller.
type RateLimitedError struct {
	Message           string
	RetryAfterMinutes *int
}

// Error renders the rate-limit message.
// Params: none.
// Returns: user-facing message string.
func (e *RateLimitedError) Error() string {
	if e.Message == "" {
		return "rate limited"
	}
	return e.Message
}

// NetworkError reports a transport failure with no usable response.
// Params: failed operation name and wrapped transport error.
// Returns: error chain preserving the cause.
type NetworkError struct {
	Op  string
	Err error
}

// Error renders the transport failure.
// Params: none.
// Returns: operation-prefixed message.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

// Unwrap exposes the transport cause.
// Params: none.
// Returns: wrapped error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ParseRetryAfterMinutes extracts a minute count from a free-text
// rate-limit message.
// Params: raw server message.
// Returns: minute count and true, or zero and false when the message
// carries no parseable minute count.
func ParseRetryAfterMinutes(message string) (int, bool) {
	match := retryAfterPattern.FindStringSubmatch(message)
	if match == nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(match[1])
	if err != nil || minutes <= 0 {
		return 0, false
	}
	return minutes, true
}

// newRateLimitedError builds a rate-limit error from the 429 message.
// Params: raw server message.
// Returns: error with retry-after minutes when the message parses.
func newRateLimitedError(message string) *RateLimitedError {
	rateErr := &RateLimitedError{Message: message}
	if minutes, ok := ParseRetryAfterMinutes(message); ok {
		rateErr.RetryAfterMinutes = &minutes
	}
	return rateErr
}
