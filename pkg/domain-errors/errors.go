// Package domainerrors provides code-tagged errors so transport layers can map
// domain failures to wire statuses without string matching.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	// CodeInvalidConfiguration marks a request that asked for something the
	// rule configuration does not support (unknown attribute, rule not
	// enabled for the attribute). Always fatal to the current request.
	CodeInvalidConfiguration Code = "invalid_configuration"

	// CodeUnsupportedRule marks a directly requested rule with no
	// implementation (soundex).
	CodeUnsupportedRule Code = "unsupported_rule"

	// CodeNotFound marks a lookup that matched nothing.
	CodeNotFound Code = "not_found"

	// CodeConflict marks a registry state that contradicts the requested
	// mutation, e.g. inserting over an already resolved linkage row.
	CodeConflict Code = "conflict"

	// CodeBadRequest marks malformed caller input.
	CodeBadRequest Code = "bad_request"

	// CodeUnauthorized marks failed credential checks.
	CodeUnauthorized Code = "unauthorized"

	// CodeTimeout marks a cancelled or expired request context.
	CodeTimeout Code = "timeout"

	// CodeInternal marks everything else, including store failures.
	CodeInternal Code = "internal"
)

// Error carries a Code alongside a message and an optional cause.
type Error struct {
	code Code
	msg  string
	err  error
}

func New(code Code, msg string) *Error {
	return &Error{code: code, msg: msg}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{code: code, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{code: code, msg: msg, err: err}
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) Code() Code { return e.code }

// CodeOf extracts the code from err, walking the wrap chain.
// Returns CodeInternal for errors that carry no code.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.code == code
	}
	return false
}
