package async

import (
	"context"
	"strings"

	"github.com/teranos/intake/errors"
)

// ErrorCode represents the classification of an error
type ErrorCode string

const (
	ErrorCodeNotFound        ErrorCode = "not_found"
	ErrorCodeParseError      ErrorCode = "parse_error"
	ErrorCodeNetworkError    ErrorCode = "network_error"
	ErrorCodeDatabaseError   ErrorCode = "database_error"
	ErrorCodeValidationError ErrorCode = "validation_error"
	ErrorCodeRateLimited     ErrorCode = "rate_limited"
	ErrorCodeAIError         ErrorCode = "ai_error"
	ErrorCodeTimeout         ErrorCode = "timeout"
	ErrorCodeCancelled       ErrorCode = "cancelled"
	ErrorCodeUnknown         ErrorCode = "unknown"
)

// ErrorContext is the structured view of a failure used in logs
type ErrorContext struct {
	Stage     string
	Code      ErrorCode
	Message   string
	Retryable bool
}

// ClassifyError categorizes an error by sentinel first, then by message
func ClassifyError(stage string, err error) ErrorContext {
	if err == nil {
		return ErrorContext{Stage: stage, Code: ErrorCodeUnknown, Message: "unknown error"}
	}

	ec := ErrorContext{Stage: stage, Message: err.Error()}

	switch {
	case errors.Is(err, context.Canceled):
		ec.Code = ErrorCodeCancelled
		return ec
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, errors.ErrTimeout):
		ec.Code = ErrorCodeTimeout
		ec.Retryable = true
		return ec
	case errors.IsNotFoundError(err):
		ec.Code = ErrorCodeNotFound
		return ec
	case errors.IsInvalidRequestError(err):
		ec.Code = ErrorCodeValidationError
		return ec
	case errors.IsServiceUnavailableError(err):
		ec.Code = ErrorCodeNetworkError
		ec.Retryable = true
		return ec
	}

	msg := strings.ToLower(ec.Message)
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota"):
		ec.Code = ErrorCodeRateLimited
		ec.Retryable = true
	case strings.Contains(msg, "no such file") || strings.Contains(msg, "not found"):
		ec.Code = ErrorCodeNotFound
	case strings.Contains(msg, "parse") || strings.Contains(msg, "unmarshal") || strings.Contains(msg, "invalid json"):
		ec.Code = ErrorCodeParseError
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline exceeded"):
		ec.Code = ErrorCodeTimeout
		ec.Retryable = true
	case strings.Contains(msg, "network") || strings.Contains(msg, "connection") || strings.Contains(msg, "dial tcp"):
		ec.Code = ErrorCodeNetworkError
		ec.Retryable = true
	case strings.Contains(msg, "database") || strings.Contains(msg, "sql"):
		ec.Code = ErrorCodeDatabaseError
		ec.Retryable = true
	case strings.Contains(msg, "validation") || strings.Contains(msg, "invalid"):
		ec.Code = ErrorCodeValidationError
	case strings.Contains(msg, "model") || strings.Contains(msg, "llm") || strings.Contains(msg, "oracle"):
		ec.Code = ErrorCodeAIError
		ec.Retryable = true
	default:
		ec.Code = ErrorCodeUnknown
		ec.Retryable = true
	}
	return ec
}
