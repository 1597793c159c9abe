package services

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrConfiguration     = errors.New("configuration error")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrTimeout           = errors.New("timeout")
	ErrTransient         = errors.New("transient failure")
	ErrRateLimited       = errors.New("rate limited")
	ErrBrokerUnavailable = errors.New("broker unavailable")
	ErrPublishNack       = errors.New("publish not acknowledged")
	ErrCircuitOpen       = errors.New("circuit open")
	ErrConflict          = errors.New("state conflict")
	ErrUserBusy          = errors.New("user concurrency exhausted")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later retry classification. The marker
// should be one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether an error should re-enter the queue instead of
// terminating the job. Terminal markers are the closed set below; anything
// unclassified is treated as retryable so transient infrastructure faults do
// not silently kill shares.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrForbidden):
		return false
	default:
		return true
	}
}

// RateLimitError carries the provider-declared wait alongside the rate-limit marker.
type RateLimitError struct {
	Platform   string
	RetryAfter time.Duration
	Cause      error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited: platform %s: retry after %s", e.Platform, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited: platform %s", e.Platform)
}

func (e *RateLimitError) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return ErrRateLimited
}

// Is lets errors.Is(err, ErrRateLimited) match regardless of the wrapped cause.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// AsRateLimit extracts a RateLimitError from an error chain.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
