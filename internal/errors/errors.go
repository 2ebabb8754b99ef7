// Package errors provides coded errors shared across the service. Every error
// returned from a repository or service carries a Code that the HTTP layer
// maps to a status and that callers can branch on without string matching.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code classifies an error for callers and the transport layer.
type Code string

const (
	ErrCodeNotFound           Code = "NOT_FOUND"
	ErrCodeAlreadyPending     Code = "ALREADY_PENDING"
	ErrCodeAlreadyProcessed   Code = "ALREADY_PROCESSED"
	ErrCodeInvalidTransition  Code = "INVALID_TRANSITION"
	ErrCodeNoApproverFound    Code = "NO_APPROVER_FOUND"
	ErrCodeNoEscalationTarget Code = "NO_ESCALATION_TARGET"
	ErrCodeUnimplemented      Code = "UNIMPLEMENTED"
	ErrCodeInvalidInput       Code = "INVALID_INPUT"
	ErrCodeConflict           Code = "CONFLICT"
	ErrCodeUnauthorized       Code = "UNAUTHORIZED"
	ErrCodeInternal           Code = "INTERNAL"
)

// Error is a coded error, optionally wrapping a cause.
type Error struct {
	ErrCode Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.ErrCode, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.ErrCode, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates a coded error.
func New(code Code, message string) error {
	return &Error{ErrCode: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{ErrCode: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message. Returns nil when err is nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{ErrCode: code, Message: message, Cause: err}
}

// NotFound reports a missing resource by kind and id.
func NotFound(resource, id string) error {
	return &Error{ErrCode: ErrCodeNotFound, Message: fmt.Sprintf("%s not found: %s", resource, id)}
}

// InvalidInput reports a validation failure on a named field.
func InvalidInput(field, message string) error {
	return &Error{ErrCode: ErrCodeInvalidInput, Message: fmt.Sprintf("%s: %s", field, message)}
}

// CodeOf extracts the code from an error chain, defaulting to INTERNAL.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.ErrCode
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps an error to the HTTP status the handler should write.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusForbidden
	case ErrCodeAlreadyPending, ErrCodeAlreadyProcessed, ErrCodeInvalidTransition, ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeNoApproverFound, ErrCodeNoEscalationTarget:
		return http.StatusUnprocessableEntity
	case ErrCodeUnimplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
