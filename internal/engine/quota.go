package engine

import (
	"errors"
	"fmt"
)

// RowQuota tracks the rows produced by one execution and enforces a budget.
//
// Each execution has its own RowQuota. It is charged after every provider
// is evaluated, so the check runs before a large intermediate result feeds
// the next provider.
//
// A limit of zero or less disables the budget.
type RowQuota struct {
	maxRows int
	current int
}

// NewRowQuota creates a quota with the given limit.
//
// Typical default: DefaultMaxRows (configurable via engine.WithMaxRows()).
func NewRowQuota(maxRows int) *RowQuota {
	return &RowQuota{maxRows: maxRows}
}

// Charge adds n rows and validates against the limit.
//
// Returns RowsExceededError if the budget is exceeded.
func (q *RowQuota) Charge(n int) error {
	q.current += n
	if q.maxRows > 0 && q.current > q.maxRows {
		return &RowsExceededError{Rows: q.current, Limit: q.maxRows}
	}
	return nil
}

// Current returns the rows charged so far.
func (q *RowQuota) Current() int {
	return q.current
}

// MaxRows returns the budget.
func (q *RowQuota) MaxRows() int {
	return q.maxRows
}

// RowsExceededError is returned when an execution exceeds its row budget.
type RowsExceededError struct {
	Rows  int // Rows produced when the budget ran out
	Limit int // Maximum allowed rows
}

// Error implements the error interface.
func (e *RowsExceededError) Error() string {
	return fmt.Sprintf("exceeded row budget: %d rows > %d limit", e.Rows, e.Limit)
}

// IsRowsExceededError returns true if the error is a RowsExceededError.
// Uses errors.As to handle wrapped errors.
func IsRowsExceededError(err error) bool {
	var se *RowsExceededError
	return errors.As(err, &se)
}
