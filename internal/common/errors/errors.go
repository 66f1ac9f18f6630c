package errors

import (
	"errors"
	"fmt"
)

// ErrCode classifies application errors for propagation and HTTP mapping.
type ErrCode string

const (
	ErrCodeValidation       ErrCode = "VALIDATION"
	ErrCodeNotFound         ErrCode = "NOT_FOUND"
	ErrCodeInvalidState     ErrCode = "INVALID_STATE"
	ErrCodeDuplicate        ErrCode = "DUPLICATE"
	ErrCodeTolerance        ErrCode = "TOLERANCE"
	ErrCodeConcurrency      ErrCode = "CONCURRENCY"
	ErrCodeAlreadyExists    ErrCode = "ALREADY_EXISTS"
	ErrCodeAlreadyCancelled ErrCode = "ALREADY_CANCELLED"
	ErrCodeUnknownEvent     ErrCode = "UNKNOWN_EVENT"
	ErrCodeConflict         ErrCode = "CONFLICT"
	ErrCodeInternal         ErrCode = "INTERNAL"
)

// Error is a coded application error.
type Error struct {
	Code    ErrCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new coded error.
func New(code ErrCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new coded error with a formatted message.
func Newf(code ErrCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message, preserving the cause.
func Wrap(err error, code ErrCode, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// InvalidInput reports a malformed request field.
func InvalidInput(field, message string) *Error {
	return &Error{Code: ErrCodeValidation, Message: fmt.Sprintf("%s: %s", field, message)}
}

// Code extracts the application code from err, or ErrCodeInternal for
// uncoded errors. A nil err yields an empty code.
func Code(err error) ErrCode {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrCode) bool {
	return Code(err) == code
}

// IsRetryable reports whether the caller may retry the failed operation.
// Only concurrency races qualify.
func IsRetryable(err error) bool {
	return HasCode(err, ErrCodeConcurrency)
}
