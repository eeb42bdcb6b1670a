// Package errs carries the client-facing outcome of a failed operation: a
// code that maps to an HTTP status and a message safe to show the user.
// Anything not built here is treated as internal and never shown.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is an application error code.
type Code string

const (
	InvalidArgument   Code = "invalid_argument"
	Unauthenticated   Code = "unauthenticated"
	NotFound          Code = "not_found"
	PermissionDenied  Code = "permission_denied"
	QuotaExceeded     Code = "quota_exceeded"
	ResourceExhausted Code = "resource_exhausted"
	Unavailable       Code = "unavailable"
	Internal          Code = "internal"
)

// GenericMessage is what clients see for internal failures.
const GenericMessage = "Internal Server Error"

var statusByCode = map[Code]int{
	InvalidArgument:   http.StatusBadRequest,
	Unauthenticated:   http.StatusUnauthorized,
	PermissionDenied:  http.StatusForbidden,
	QuotaExceeded:     http.StatusForbidden,
	NotFound:          http.StatusNotFound,
	ResourceExhausted: http.StatusTooManyRequests,
	Unavailable:       http.StatusServiceUnavailable,
}

// Error is a coded application error. Message is shown to clients unless
// Code is Internal; Err is for logs only.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New returns a coded error with a client-facing message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf is New with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and client-facing message to cause.
func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, Err: cause}
}

func find(err error) (*Error, bool) {
	var coded *Error
	if err == nil || !errors.As(err, &coded) || coded == nil || coded.Code == "" {
		return nil, false
	}
	return coded, true
}

// Is reports whether the outermost coded error in err's chain has code.
func Is(err error, code Code) bool {
	coded, ok := find(err)
	return ok && coded.Code == code
}

// CodeOf returns err's code, or Internal for nil and uncoded errors.
func CodeOf(err error) Code {
	if coded, ok := find(err); ok {
		return coded.Code
	}
	return Internal
}

// MessageOf returns the message a client may see. Internal and uncoded
// errors collapse to GenericMessage so provider and database failures are
// indistinguishable from the outside.
func MessageOf(err error) string {
	coded, ok := find(err)
	if !ok || coded.Code == Internal || coded.Message == "" {
		return GenericMessage
	}
	return coded.Message
}

// HTTPStatus maps an error code to an HTTP status; unknown codes are 500.
func HTTPStatus(code Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Status is HTTPStatus(CodeOf(err)).
func Status(err error) int {
	return HTTPStatus(CodeOf(err))
}
