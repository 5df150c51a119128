package vendors

import (
	"context"
	"errors"
	"fmt"
)

// Code classifies an expected vendor failure mode. Adapters never panic or
// return untyped errors for these; callers branch on the code.
type Code string

const (
	// CodeAuthFailed means the vendor rejected the session or credentials.
	// The orchestrator owns the single re-authenticate-and-retry policy.
	CodeAuthFailed Code = "AUTH_FAILED"
	// CodeTransient marks errors inside a vendor's known bad window. It
	// exists to suppress alerting noise; retry behavior is unchanged.
	CodeTransient Code = "TRANSIENT_VENDOR_ERROR"
	CodeHTTP      Code = "HTTP_ERROR"
	CodeParse     Code = "PARSE_ERROR"
	CodeTimeout   Code = "TIMEOUT"
)

// Error is a typed vendor failure.
type Error struct {
	Code    Code
	Status  int // HTTP status when relevant, otherwise 0
	Message string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf builds a typed vendor error.
func Errorf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// StatusError builds a typed vendor error carrying an HTTP status.
func StatusError(code Code, status int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Status: status, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the failure code from err. Context timeouts map to
// CodeTimeout; anything else untyped is treated as a generic HTTP error.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	return CodeHTTP
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	return CodeOf(err) == CodeAuthFailed
}
