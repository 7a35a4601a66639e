// Package retry decides which failed transfer calls are safe and useful to
// repeat, and how long to wait between attempts.
package retry

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"syscall"
	"time"
)

// API error reasons that indicate a transient server-side condition.
var retryableReasons = map[string]bool{
	"rateLimitExceeded":  true,
	"backendError":       true,
	"internalError":      true,
	"badGateway":         true,
	"serviceUnavailable": true,
}

// Statuses treated as transient when the response body carries no
// structured error reason.
var retryableStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
}

// ErrorEntry is one entry of a structured API error body.
type ErrorEntry struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// APIError is the JSON error body returned by the service.
type APIError struct {
	StatusCode int
	Errors     []ErrorEntry
}

func (e *APIError) Error() string {
	if len(e.Errors) > 0 {
		return e.Errors[0].Message
	}
	return http.StatusText(e.StatusCode)
}

// ParseAPIError decodes the structured error body of a failed call. It
// returns an APIError with no entries when the body is not structured,
// so status-based classification still applies.
func ParseAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode}
	var envelope struct {
		Error struct {
			Errors []ErrorEntry `json:"errors"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		apiErr.Errors = envelope.Error.Errors
	}
	return apiErr
}

// ShouldRetry reports whether a failed call may be repeated. Structured
// errors are classified by the reason of their first entry only,
// unstructured ones by status code, and connection resets are always
// transient.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if len(apiErr.Errors) > 0 {
			return retryableReasons[apiErr.Errors[0].Reason]
		}
		return retryableStatuses[apiErr.StatusCode]
	}

	return isConnectionReset(err)
}

func isConnectionReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET)
}

// Policy controls the attempt budget and backoff of retried calls.
type Policy struct {
	// InitialWait is the backoff before the first retry, excluding jitter.
	InitialWait time.Duration

	// MaxWait caps the exponential backoff, excluding jitter.
	MaxWait time.Duration

	// Multiplier grows the backoff between consecutive retries.
	Multiplier float64

	// MaxRetries limits the number of retries; 0 means no count limit.
	MaxRetries int

	// MaxElapsed limits the total time spent across attempts; 0 means no
	// deadline.
	MaxElapsed time.Duration

	// ShouldRetry classifies errors. Nil falls back to the package-level
	// ShouldRetry.
	ShouldRetry func(error) bool
}

// DefaultPolicy returns the policy used when the caller does not tune
// retries: exponential backoff from 1s to 64s with a 10 minute deadline.
func DefaultPolicy() Policy {
	return Policy{
		InitialWait: time.Second,
		MaxWait:     64 * time.Second,
		Multiplier:  2,
		MaxElapsed:  600 * time.Second,
		ShouldRetry: ShouldRetry,
	}
}

// NextWait returns the backoff before the next retry given the previous
// base backoff, plus the new base for the call after. Jitter of up to one
// second is added on top of the exponential base.
func (p Policy) NextWait(lastBase time.Duration) (wait, nextBase time.Duration) {
	base := lastBase
	if base <= 0 {
		base = p.InitialWait
	} else {
		base = time.Duration(float64(base) * p.Multiplier)
	}
	if base > p.MaxWait {
		base = p.MaxWait
	}

	jitter := time.Duration(rand.Intn(1001)) * time.Millisecond
	return base + jitter, base
}

// Do runs call until it succeeds, the error is classified permanent, or
// the attempt or elapsed budget runs out. The last error is returned.
func (p Policy) Do(ctx context.Context, call func() error) error {
	classify := p.ShouldRetry
	if classify == nil {
		classify = ShouldRetry
	}

	started := time.Now()
	var base time.Duration
	for attempt := 0; ; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		if !classify(err) {
			return err
		}
		if p.MaxRetries > 0 && attempt >= p.MaxRetries {
			return err
		}
		if p.MaxElapsed > 0 && time.Since(started) > p.MaxElapsed {
			return err
		}

		var wait time.Duration
		wait, base = p.NextWait(base)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
