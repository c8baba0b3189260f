// Package domainerrors carries the stable failure codes shared by services,
// stores and handlers. Handlers map a code to a status; nothing below the
// handler layer knows about HTTP.
package domainerrors

import "errors"

type Code string

const (
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeValidation   Code = "validation_failed"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeRateLimited  Code = "rate_limited"
	CodeTimeout      Code = "timeout"

	// Infrastructure failures. Their messages never reach the client.
	CodeInternal           Code = "internal_error"
	CodeStorageFailure     Code = "storage_failure"
	CodeAggregationFailure Code = "aggregation_failure"
)

type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so errors.Is(err, New(code, ""))
// works as a code test.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches msg to err under code. When err already carries a code, such
// as not_found from a store lookup, that code wins over the one passed in.
func Wrap(err error, code Code, msg string) error {
	var coded *Error
	if errors.As(err, &coded) {
		code = coded.Code
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode reports whether any error in err's chain is an *Error with code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
