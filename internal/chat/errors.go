package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/parleychat/parley/internal/llm"
)

// ErrorCode classifies run failures for callers.
type ErrorCode string

const (
	CodeValidation         ErrorCode = "VALIDATION_ERROR"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	CodeRateLimited        ErrorCode = "RATE_LIMITED"
	CodeNetwork            ErrorCode = "NETWORK_ERROR"
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	CodeConflict           ErrorCode = "CONFLICT"
)

// ServiceError is the error type surfaced by the chat service, both from
// synchronous calls and from terminal error events.
type ServiceError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Cause     error
}

func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// newError builds a non-retryable ServiceError.
func newError(code ErrorCode, format string, args ...interface{}) *ServiceError {
	return &ServiceError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// classifyProviderError maps a provider failure onto the service error
// taxonomy. Provider SDKs mostly surface string errors, so this leans on the
// same substring checks the retry layer uses.
func classifyProviderError(err error) *ServiceError {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}

	var rle *llm.RateLimitError
	if errors.As(err, &rle) {
		return &ServiceError{Code: CodeRateLimited, Message: rle.Message, Retryable: true, Cause: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "invalid api key") || strings.Contains(msg, "authentication"):
		return &ServiceError{Code: CodeUnauthorized, Message: "provider rejected credentials", Cause: err}
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") || strings.Contains(msg, "quota"):
		return &ServiceError{Code: CodeRateLimited, Message: "provider rate limit exceeded", Retryable: true, Cause: err}
	case strings.Contains(msg, "404") || strings.Contains(msg, "not found") ||
		strings.Contains(msg, "model_not_found"):
		return &ServiceError{Code: CodeNotFound, Message: "model or endpoint not found", Cause: err}
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "529") ||
		strings.Contains(msg, "overloaded") || strings.Contains(msg, "service unavailable") ||
		strings.Contains(msg, "internal server error"):
		return &ServiceError{Code: CodeServiceUnavailable, Message: "provider unavailable", Retryable: true, Cause: err}
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") || strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "eof"):
		return &ServiceError{Code: CodeNetwork, Message: "network failure talking to provider", Retryable: true, Cause: err}
	default:
		return &ServiceError{Code: CodeServiceUnavailable, Message: "provider request failed", Cause: err}
	}
}

// isCancellation reports whether an error is the result of our own context
// cancellation rather than a real failure.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
