package types

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Every error surfaced to the CLI wraps one of these
// so callers can use errors.Is and the CLI can report a stable code.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrPermissionDenied = errors.New("permission denied")
	ErrAlreadyExists    = errors.New("already exists")
	ErrTimeout          = errors.New("timeout")
	ErrParse            = errors.New("parse error")
)

// Error carries a human readable message and the kind it belongs to.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...interface{}) error {
	return newError(ErrNotFound, format, args...)
}

func InvalidArgumentf(format string, args ...interface{}) error {
	return newError(ErrInvalidArgument, format, args...)
}

func PermissionDeniedf(format string, args ...interface{}) error {
	return newError(ErrPermissionDenied, format, args...)
}

func AlreadyExistsf(format string, args ...interface{}) error {
	return newError(ErrAlreadyExists, format, args...)
}

func Timeoutf(format string, args ...interface{}) error {
	return newError(ErrTimeout, format, args...)
}

func ParseErrorf(format string, args ...interface{}) error {
	return newError(ErrParse, format, args...)
}

// Code maps an error to the short code written in CLI error objects.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrParse):
		return "parse_error"
	}
	return "internal"
}
