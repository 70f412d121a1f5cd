package materializer

import (
	"errors"
	"fmt"

	"github.com/roach88/quill/internal/evaluator"
)

// ErrorCode categorizes materialization errors.
type ErrorCode string

const (
	// CodeCardinality indicates Single or SingleOrDefault saw more than one
	// row.
	CodeCardinality ErrorCode = "CARDINALITY"

	// CodeEmptySequence indicates First, Single, Min, Max or Average ran over
	// no rows.
	CodeEmptySequence ErrorCode = "EMPTY_SEQUENCE"
)

// Error is a runtime error raised while turning rows into a result. It is
// distinct from translation errors: the plan was valid, the data was not.
type Error struct {
	Code    ErrorCode
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func hasCode(err error, code ErrorCode) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Code == code
	}
	return false
}

// IsCardinality returns true if err reports more than one row where at most
// one was allowed.
func IsCardinality(err error) bool { return hasCode(err, CodeCardinality) }

// IsEmptySequence returns true if err reports an empty source. That
// includes a nested Min, Max or Average over no elements, which fails while
// the plan runs.
func IsEmptySequence(err error) bool {
	return hasCode(err, CodeEmptySequence) || errors.Is(err, evaluator.ErrNoElements)
}
