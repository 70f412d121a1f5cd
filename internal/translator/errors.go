package translator

import (
	"errors"
	"fmt"

	"github.com/roach88/quill/internal/expr"
)

// ErrorCode categorizes translation errors.
type ErrorCode string

const (
	// CodeUnsupported marks an operator or expression form the translator
	// cannot lower.
	CodeUnsupported ErrorCode = "UNSUPPORTED"

	// CodeModel marks a member path that does not resolve against the
	// domain model.
	CodeModel ErrorCode = "MODEL"

	// CodeArgument marks a malformed query: missing selectors, wrong
	// operand kinds, mismatched key arity.
	CodeArgument ErrorCode = "ARGUMENT"
)

// Error is returned for every translation failure. No partial plan is ever
// returned alongside it.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Node is the offending expression, when known.
	Node expr.Node

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Node != nil {
		s += " in " + expr.Format(e.Node)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

func hasCode(err error, code ErrorCode) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Code == code
	}
	return false
}

// IsUnsupported returns true if err is an unsupported-construct error.
func IsUnsupported(err error) bool { return hasCode(err, CodeUnsupported) }

// IsModelError returns true if err is a model resolution error.
func IsModelError(err error) bool { return hasCode(err, CodeModel) }

// IsArgumentError returns true if err is an argument error.
func IsArgumentError(err error) bool { return hasCode(err, CodeArgument) }

func unsupported(n expr.Node, format string, args ...any) *Error {
	return &Error{Code: CodeUnsupported, Message: fmt.Sprintf(format, args...), Node: n}
}

func argumentError(n expr.Node, format string, args ...any) *Error {
	return &Error{Code: CodeArgument, Message: fmt.Sprintf(format, args...), Node: n}
}

func modelError(n expr.Node, err error) *Error {
	return &Error{Code: CodeModel, Message: "member does not resolve", Node: n, Err: err}
}
