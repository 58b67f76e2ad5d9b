// Package resilience provides error classification, retry with backoff,
// a circuit breaker and rate limiting for calls to external providers.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrCircuitOpen is returned without calling the provider while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrorClass represents the category of error for retry decisions.
type ErrorClass int

const (
	// Examples: network timeout, rate limiting, 5xx responses.
	ErrorClassTransient ErrorClass = iota

	// Examples: invalid request, bad credentials, unknown model.
	ErrorClassPermanent
)

// String returns the string representation of ErrorClass.
func (e ErrorClass) String() string {
	switch e {
	case ErrorClassTransient:
		return "transient"
	case ErrorClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps an error with its classification and retry guidance.
type ClassifiedError struct {
	Original   error
	Class      ErrorClass
	RetryAfter time.Duration
}

func (c *ClassifiedError) Error() string {
	if c.Original == nil {
		return fmt.Sprintf("classified error: class=%s", c.Class)
	}
	return fmt.Sprintf("%s: %v", c.Class, c.Original)
}

// Unwrap returns the original error for errors.Is/As.
func (c *ClassifiedError) Unwrap() error {
	return c.Original
}

// IsTransient returns true if the error is temporary and should be retried.
func (c *ClassifiedError) IsTransient() bool {
	return c.Class == ErrorClassTransient
}

var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"reset by peer",
	"broken pipe",
	"network is unreachable",
	"no such host",
	"temporary failure",
	"dial tcp",
	"eof",
	"timeout",
	"timed out",
	"deadline exceeded",
	"too many requests",
	"rate limit",
	"status code: 429",
	"status code: 500",
	"status code: 502",
	"status code: 503",
	"status code: 504",
	"unavailable",
}

// ClassifyError analyzes an error and determines its class.
// Context cancellation is permanent: the caller gave up.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCircuitOpen) {
		return &ClassifiedError{Class: ErrorClassPermanent, Original: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClassifiedError{Class: ErrorClassTransient, Original: err, RetryAfter: 3 * time.Second}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &ClassifiedError{Class: ErrorClassTransient, Original: err, RetryAfter: 2 * time.Second}
	}

	errMsg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(errMsg, pattern) {
			return &ClassifiedError{Class: ErrorClassTransient, Original: err, RetryAfter: time.Second}
		}
	}

	// Unknown errors are not retried.
	return &ClassifiedError{Class: ErrorClassPermanent, Original: err}
}

// ShouldRetry returns true if the error warrants a retry attempt.
func ShouldRetry(err error) bool {
	classified := ClassifyError(err)
	return classified != nil && classified.IsTransient()
}
