package jsonrpc

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError represents an error that maps to a distinct HTTP status code
// when it is rejected at the transport layer.
type StatusError struct {
	// StatusCode is the HTTP status code associated with the error.
	StatusCode int
	// Message describes the failure.
	Message string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("status %d", e.StatusCode)
}

// NewUnauthorizedError constructs an error mapped to HTTP 401.
func NewUnauthorizedError(message string) *StatusError {
	return &StatusError{StatusCode: http.StatusUnauthorized, Message: message}
}

// NewRateLimitedError constructs an error mapped to HTTP 429.
func NewRateLimitedError(message string) *StatusError {
	return &StatusError{StatusCode: http.StatusTooManyRequests, Message: message}
}

// NewSessionNotFoundError constructs an error mapped to HTTP 404.
func NewSessionNotFoundError(sessionID string) *StatusError {
	return &StatusError{StatusCode: http.StatusNotFound, Message: fmt.Sprintf("session '%s' not found", sessionID)}
}

// StatusOf returns the HTTP status carried by err, or 0 when err carries none.
func StatusOf(err error) int {
	var target *StatusError
	if errors.As(err, &target) {
		return target.StatusCode
	}
	return 0
}

// IsUnauthorized returns true if err is or wraps a StatusError with code 401.
func IsUnauthorized(err error) bool {
	return StatusOf(err) == http.StatusUnauthorized
}
