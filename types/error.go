package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across hivetrain.
type ErrorCode string

// Scheduler error codes
const (
	ErrBatchFailed       ErrorCode = "BATCH_FAILED"
	ErrNumericInvalid    ErrorCode = "NUMERIC_INVALID"
	ErrApplyFailed       ErrorCode = "APPLY_FAILED"
	ErrSchedulerShutdown ErrorCode = "SCHEDULER_SHUTDOWN"
	ErrSchedulerIdle     ErrorCode = "SCHEDULER_NOT_STARTED"
	ErrStructuralInvalid ErrorCode = "STRUCTURAL_INVALID"
	ErrStepCancelled     ErrorCode = "STEP_CANCELLED"
)

// Runtime error codes
const (
	ErrConfigInvalid    ErrorCode = "CONFIG_INVALID"
	ErrCheckpointFailed ErrorCode = "CHECKPOINT_FAILED"
	ErrPublishFailed    ErrorCode = "PUBLISH_FAILED"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
	ErrTimeout          ErrorCode = "TIMEOUT"
)

// API error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrForbidden          ErrorCode = "FORBIDDEN"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrConflict           ErrorCode = "CONFLICT"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	NodePath  string    `json:"node_path,omitempty"`
	// HTTPStatus 仅供 API 层使用，0 表示按错误码映射
	HTTPStatus int   `json:"-"`
	Cause      error `json:"-"`
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

// ErrorCode lets *Error satisfy the Coded interface.
func (e *Error) ErrorCode() ErrorCode {
	return e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
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

// WithNodePath records the hierarchy node the error originated from.
func (e *Error) WithNodePath(path string) *Error {
	e.NodePath = path
	return e
}

// WithHTTPStatus overrides the status the API layer reports.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// Coded is implemented by domain errors that map onto an ErrorCode.
type Coded interface {
	error
	ErrorCode() ErrorCode
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	var c Coded
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return ""
}
