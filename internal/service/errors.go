package service

import (
	"errors"
	"fmt"
)

// Code classifies a service failure for callers. Validation and
// authorization codes are never retried; RATE_LIMITED is retryable after the
// window moves; STORE_UNAVAILABLE is retryable with backoff.
type Code string

const (
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeNotParticipant   Code = "NOT_PARTICIPANT"
	CodeForbidden        Code = "FORBIDDEN"
	CodeEmptyContent     Code = "EMPTY_CONTENT"
	CodeTooLong          Code = "TOO_LONG"
	CodeNotFound         Code = "NOT_FOUND"
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
	CodeInternal         Code = "INTERNAL"
)

// Error carries a code, a user-facing message and an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error without a cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error around a cause.
func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the service code from err, or CodeInternal for anything
// untyped.
func CodeOf(err error) Code {
	var sErr *Error
	if errors.As(err, &sErr) {
		return sErr.Code
	}
	return CodeInternal
}
