package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents a unified error code across councilflow.
type ErrorCode string

// Per-call error codes. These are always recovered locally: the failing model
// call is recorded on its own stage entry and the pipeline continues.
const (
	ErrTimeout ErrorCode = "TIMEOUT"
	ErrGateway ErrorCode = "GATEWAY_ERROR"
)

// Pipeline-fatal error codes. These abort the whole deliberation.
const (
	ErrInsufficientResponses ErrorCode = "INSUFFICIENT_RESPONSES"
	ErrUnauthorized          ErrorCode = "UNAUTHORIZED"
)

// Ambient error codes.
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrAuthentication ErrorCode = "AUTHENTICATION"
	ErrRateLimited    ErrorCode = "RATE_LIMITED"
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode     `json:"code"`
	Message    string        `json:"message"`
	HTTPStatus int           `json:"http_status,omitempty"`
	Retryable  bool          `json:"retryable"`
	Model      string        `json:"model,omitempty"`
	Elapsed    time.Duration `json:"elapsed,omitempty"`
	Cause      error         `json:"-"`
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

// NewTimeoutError creates a TIMEOUT error carrying the expired budget.
func NewTimeoutError(model string, budget time.Duration) *Error {
	return &Error{
		Code:    ErrTimeout,
		Message: fmt.Sprintf("model call exceeded %s budget", budget),
		Model:   model,
		Elapsed: budget,
	}
}

// NewGatewayError creates a GATEWAY_ERROR carrying the upstream HTTP status
// and response body text.
func NewGatewayError(model string, status int, body string) *Error {
	return &Error{
		Code:       ErrGateway,
		Message:    fmt.Sprintf("gateway returned %d: %s", status, body),
		HTTPStatus: status,
		Retryable:  status >= 500,
		Model:      model,
	}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithModel sets the model identifier the error originated from.
func (e *Error) WithModel(model string) *Error {
	e.Model = model
	return e
}

// IsFatal reports whether the error aborts a whole deliberation rather than
// a single model call.
func IsFatal(err error) bool {
	switch GetErrorCode(err) {
	case ErrInsufficientResponses, ErrUnauthorized:
		return true
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
