package types

import (
	"errors"
	"fmt"
)

const (
	CodeValidation           = "VALIDATION"
	CodeOwnershipConflict    = "OWNERSHIP_CONFLICT"
	CodeNotFound             = "NOT_FOUND"
	CodeUnsupportedElement   = "UNSUPPORTED_ELEMENT"
	CodeUpstreamUnavailable  = "UPSTREAM_UNAVAILABLE"
	CodeUpstreamDisconnected = "UPSTREAM_DISCONNECTED"
	CodeRequestTimeout       = "REQUEST_TIMEOUT"
	CodeConnectTimeout       = "CONNECT_TIMEOUT"
	CodeToolFailure          = "TOOL_FAILURE"
	CodeCDPUnavailable       = "CDP_UNAVAILABLE"
)

// CodedError is a typed error that survives every hop: it is flattened to
// an error string plus code on the wire and rebuilt on the other side.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// NewError builds a *CodedError.
func NewError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// Errorf builds a *CodedError with a formatted message and no cause.
func Errorf(code, format string, args ...any) error {
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrorCode returns the code carried by err, or CodeToolFailure when err is
// not a *CodedError.
func ErrorCode(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeToolFailure
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	var coded *CodedError
	return errors.As(err, &coded) && coded.Code == code
}
