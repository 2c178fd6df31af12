package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Graph validation error codes. These are returned synchronously from
// graph validation, before any run record exists.
const (
	ErrMissingStarter ErrorCode = "MISSING_STARTER"
	ErrDanglingEdge   ErrorCode = "DANGLING_EDGE"
	ErrCycleDetected  ErrorCode = "CYCLE_DETECTED"
)

// Node execution error codes. These are recorded on the failing node's
// execution record and surfaced through the run record, never as errors
// escaping a run.
const (
	ErrUnknownNodeType ErrorCode = "UNKNOWN_NODE_TYPE"
	ErrNodeExecution   ErrorCode = "NODE_EXECUTION"
	ErrNetwork         ErrorCode = "NETWORK"
	ErrTimeout         ErrorCode = "TIMEOUT"
	ErrCancelled       ErrorCode = "CANCELLED"
)

// API surface error codes.
const (
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrAuthentication   ErrorCode = "AUTHENTICATION"
	ErrRateLimited      ErrorCode = "RATE_LIMITED"
	ErrRunNotFound      ErrorCode = "RUN_NOT_FOUND"
	ErrStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	NodeID     string    `json:"node_id,omitempty"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.NodeID != "" && e.Cause != nil:
		return fmt.Sprintf("[%s] node %s: %s: %v", e.Code, e.NodeID, e.Message, e.Cause)
	case e.NodeID != "":
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	default:
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
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

// WithNode tags the error with the id of the node it belongs to.
func (e *Error) WithNode(nodeID string) *Error {
	e.NodeID = nodeID
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

// AsError unwraps err looking for a *Error anywhere in the chain. It
// returns nil when err carries none.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// GetErrorCode extracts the error code from an error, unwrapping as needed.
// Returns "" when err carries no *Error.
func GetErrorCode(err error) ErrorCode {
	if e := AsError(err); e != nil {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e := AsError(err); e != nil {
		return e.Retryable
	}
	return false
}

// IsCancelled reports whether err represents run cancellation.
func IsCancelled(err error) bool { return IsCode(err, ErrCancelled) }

// IsTimeout reports whether err represents a timeout.
func IsTimeout(err error) bool { return IsCode(err, ErrTimeout) }

// IsValidation reports whether err is a pre-run graph validation failure.
func IsValidation(err error) bool {
	switch GetErrorCode(err) {
	case ErrMissingStarter, ErrDanglingEdge, ErrCycleDetected:
		return true
	}
	return false
}
