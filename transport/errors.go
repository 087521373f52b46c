package transport

import (
	"context"
	"errors"
	"fmt"
)

// Code classifies an RPC failure. Codes travel across every transport.
type Code string

const (
	CodeBadRequest        Code = "bad-request"
	CodeUnknownService    Code = "unknown-service"
	CodeUnknownProcedure  Code = "unknown-procedure"
	CodeTimeout           Code = "timeout"
	CodeUnavailable       Code = "unavailable"
	CodeResourceExhausted Code = "resource-exhausted"
	CodeApplication       Code = "application"
	CodeUnexpected        Code = "unexpected"
)

// String returns the wire form of the code.
func (c Code) String() string {
	return string(c)
}

// IsValid reports whether c is a known code.
func (c Code) IsValid() bool {
	switch c {
	case CodeBadRequest, CodeUnknownService, CodeUnknownProcedure, CodeTimeout,
		CodeUnavailable, CodeResourceExhausted, CodeApplication, CodeUnexpected:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether a call that failed with c may succeed if retried.
func IsRetryable(c Code) bool {
	switch c {
	case CodeTimeout, CodeUnavailable, CodeResourceExhausted:
		return true
	default:
		return false
	}
}

// Error is an RPC failure with a code.
type Error struct {
	Code    Code
	Message string
}

// Errorf creates an Error with a formatted message.
func Errorf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewError creates an Error from a code and a plain message. Unknown codes
// become CodeUnexpected.
func NewError(code Code, message string) *Error {
	if !code.IsValid() {
		code = CodeUnexpected
	}
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code carried by err. Context deadline errors are
// timeouts, cancellations are unavailable and anything else is unexpected.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	if errors.Is(err, context.Canceled) {
		return CodeUnavailable
	}
	return CodeUnexpected
}

// AsError converts err to an *Error, keeping its code when it has one.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: CodeOf(err), Message: err.Error()}
}
