package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the pipeline.
type ErrorCode string

// Pipeline error codes
const (
	ErrNotFound            ErrorCode = "NOT_FOUND"
	ErrSamplingUnavailable ErrorCode = "SAMPLING_UNAVAILABLE"
	ErrPartialFetch        ErrorCode = "PARTIAL_FETCH_FAILURE"
	ErrConfigInvalid       ErrorCode = "CONFIG_INVALID"
	ErrTransport           ErrorCode = "TRANSPORT"
	ErrInvalidNamespace    ErrorCode = "INVALID_NAMESPACE"
	ErrCancelled           ErrorCode = "CANCELLED"
	ErrInternalError       ErrorCode = "INTERNAL_ERROR"
)

// HTTP 层错误码
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrRateLimited    ErrorCode = "RATE_LIMITED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Entity    string    `json:"entity,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithEntity records the entity the error relates to.
func (e *Error) WithEntity(entity string) *Error {
	e.Entity = entity
	return e
}

// NewNotFoundError 根记录不存在
func NewNotFoundError(entity, uid string) *Error {
	return Errorf(ErrNotFound, "%s %q not found", entity, uid).WithEntity(entity)
}

// NewConfigError 配置非法
func NewConfigError(format string, args ...any) *Error {
	return Errorf(ErrConfigInvalid, format, args...)
}

// NewTransportError 数据源传输失败（可重试）
func NewTransportError(entity string, cause error) *Error {
	return NewError(ErrTransport, "data source call failed").
		WithEntity(entity).
		WithCause(cause).
		WithRetryable(true)
}

// AsError extracts *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether any error in the chain carries code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool {
	return IsErrorCode(err, ErrNotFound)
}
