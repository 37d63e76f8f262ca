package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType represents categories of generation errors for retry logic.
type ErrorType int8

const (
	// Retryable error types.

	// ErrorTypeRateLimit represents rate limiting errors (429, quota exceeded).
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient represents transient errors (5xx, EOF, connection reset, timeout).
	ErrorTypeTransient
	// ErrorTypeEmptyResponse represents a successful call without content.
	ErrorTypeEmptyResponse

	// Non-retryable error types.

	// ErrorTypeAuth represents authentication errors (401/403, bad API key).
	ErrorTypeAuth
	// ErrorTypeBadPrompt represents malformed request errors (too long, unknown model).
	ErrorTypeBadPrompt
	// ErrorTypeUnknown represents default for unclassified errors.
	ErrorTypeUnknown
)

// String returns the string representation of the error type.
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
	case ErrorTypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Error is a classified generation error.
type Error struct {
	Err        error
	Message    string
	Type       ErrorType
	StatusCode int
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("LLM error (%s): %s", e.Type, e.Message)
	}
	return fmt.Sprintf("LLM error (%s): %v", e.Type, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates a classified error without an underlying cause.
func NewError(t ErrorType, msg string) *Error {
	return &Error{Type: t, Message: msg}
}

// WrapError classifies err with an explicit type.
func WrapError(t ErrorType, status int, err error) *Error {
	return &Error{Type: t, StatusCode: status, Err: err}
}

// FromStatus classifies an HTTP status code.
func FromStatus(status int, err error) *Error {
	var t ErrorType
	switch {
	case status == http.StatusTooManyRequests:
		t = ErrorTypeRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		t = ErrorTypeAuth
	case status == http.StatusRequestTimeout || status >= 500:
		t = ErrorTypeTransient
	case status >= 400:
		t = ErrorTypeBadPrompt
	default:
		t = ErrorTypeUnknown
	}
	return WrapError(t, status, err)
}

// Classify returns err as an *Error, inferring the type from the message when needed.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return WrapError(ErrorTypeTransient, 0, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota"):
		return WrapError(ErrorTypeRateLimit, 0, err)
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "api key"):
		return WrapError(ErrorTypeAuth, 0, err)
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") || strings.Contains(msg, "eof") ||
		strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "504"):
		return WrapError(ErrorTypeTransient, 0, err)
	case strings.Contains(msg, "not found") || strings.Contains(msg, "400"):
		return WrapError(ErrorTypeBadPrompt, 0, err)
	}
	return WrapError(ErrorTypeUnknown, 0, err)
}

// IsRetryable reports whether a retry may succeed.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch Classify(err).Type {
	case ErrorTypeRateLimit, ErrorTypeTransient, ErrorTypeEmptyResponse:
		return true
	}
	return false
}
