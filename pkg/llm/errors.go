// Package llm provides the Anthropic client and the executor for the LLM
// effect category: one HTTPS call per effect, cancellation by reply tag, and
// structured error classification for retry decisions.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// ErrorType categorises an LLM failure for retry logic.
type ErrorType int8

const (
	// ErrorTypeRateLimit represents rate limiting (429, quota exceeded).
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient represents transient failures (5xx, EOF, reset, timeout).
	ErrorTypeTransient
	// ErrorTypeEmptyResponse represents HTTP 200 with no content.
	ErrorTypeEmptyResponse
	// ErrorTypeAuth represents authentication failures (401/403, bad API key).
	ErrorTypeAuth
	// ErrorTypeBadPrompt represents malformed requests (too long, bad format).
	ErrorTypeBadPrompt
	// ErrorTypeCancelled represents a call aborted by a superseding message.
	ErrorTypeCancelled
	// ErrorTypeUnknown is the default for unclassified errors.
	ErrorTypeUnknown
)

func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeCancelled:
		return "cancelled"
	case ErrorTypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Retryable reports whether a failure of this type is worth retrying.
func (et ErrorType) Retryable() bool {
	switch et {
	case ErrorTypeRateLimit, ErrorTypeTransient, ErrorTypeEmptyResponse:
		return true
	default:
		return false
	}
}

// Error is a classified LLM failure.
type Error struct {
	Type       ErrorType
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Type, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a classified error without a cause.
func NewError(t ErrorType, msg string) *Error {
	return &Error{Type: t, Message: msg}
}

// NewErrorWithCause builds a classified error wrapping the underlying one.
func NewErrorWithCause(t ErrorType, cause error, msg string) *Error {
	return &Error{Type: t, Message: msg, Cause: cause}
}

// NewErrorWithStatus builds a classified error carrying the HTTP status.
func NewErrorWithStatus(t ErrorType, status int, msg string) *Error {
	return &Error{Type: t, StatusCode: status, Message: msg}
}

// ClassifyError maps SDK and network errors to structured error types.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	if errors.Is(err, context.Canceled) {
		return NewErrorWithCause(ErrorTypeCancelled, err, "request cancelled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewErrorWithCause(ErrorTypeTransient, err, "request timeout")
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401:
			return &Error{Type: ErrorTypeAuth, StatusCode: 401, Message: "authentication failed - check API key", Cause: err}
		case apiErr.StatusCode == 403:
			return &Error{Type: ErrorTypeAuth, StatusCode: 403, Message: "permission denied - check API access", Cause: err}
		case apiErr.StatusCode == 429:
			return &Error{Type: ErrorTypeRateLimit, StatusCode: 429, Message: "rate limit exceeded", Cause: err}
		case apiErr.StatusCode >= 500:
			return &Error{Type: ErrorTypeTransient, StatusCode: apiErr.StatusCode, Message: "server error", Cause: err}
		case apiErr.StatusCode >= 400:
			return &Error{Type: ErrorTypeBadPrompt, StatusCode: apiErr.StatusCode, Message: "bad request - check prompt format", Cause: err}
		}
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "timeout"),
		strings.Contains(lower, "connection"),
		strings.Contains(lower, "network"),
		strings.Contains(lower, "temporary"),
		strings.Contains(err.Error(), "EOF"),
		strings.Contains(lower, "reset"):
		return NewErrorWithCause(ErrorTypeTransient, err, "network or connection error")
	case strings.Contains(lower, "rate"), strings.Contains(lower, "quota"), strings.Contains(lower, "overloaded"):
		return NewErrorWithCause(ErrorTypeRateLimit, err, "rate limiting detected")
	case strings.Contains(lower, "unauthorized"), strings.Contains(lower, "api key"):
		return NewErrorWithCause(ErrorTypeAuth, err, "authentication error")
	case strings.Contains(lower, "invalid"), strings.Contains(lower, "malformed"), strings.Contains(lower, "too large"):
		return NewErrorWithCause(ErrorTypeBadPrompt, err, "prompt or request error")
	}

	return NewErrorWithCause(ErrorTypeUnknown, err, "unclassified error")
}
