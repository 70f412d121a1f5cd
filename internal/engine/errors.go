package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected while executing a plan.
//
// Runtime errors include:
//   - Quota exceeded: the execution produced more rows than its budget
//   - Cardinality: a single-row Apply saw more than one right row
//   - Storage: the storage failed to scan an index
//   - Unsupported provider: the plan holds a provider the engine cannot run
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Provider names the provider being evaluated, when known.
	Provider string

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeQuotaExceeded indicates the execution exceeded its row budget.
	ErrCodeQuotaExceeded RuntimeErrorCode = "QUOTA_EXCEEDED"

	// ErrCodeCardinality indicates a single-row Apply saw several rows.
	ErrCodeCardinality RuntimeErrorCode = "CARDINALITY"

	// ErrCodeStorage indicates the storage failed.
	ErrCodeStorage RuntimeErrorCode = "STORAGE"

	// ErrCodeUnsupported indicates a provider the engine cannot evaluate.
	ErrCodeUnsupported RuntimeErrorCode = "UNSUPPORTED_PROVIDER"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	s := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Provider != "" {
		s += " (provider=" + e.Provider + ")"
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error { return e.Err }

// IsQuotaError returns true if the error is a row budget error.
// Matches both RuntimeError with ErrCodeQuotaExceeded and RowsExceededError.
// Uses errors.As to handle wrapped errors.
func IsQuotaError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) && re.Code == ErrCodeQuotaExceeded {
		return true
	}
	var se *RowsExceededError
	return errors.As(err, &se)
}

// IsCardinalityError returns true if a single-row Apply saw several rows.
func IsCardinalityError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeCardinality
	}
	return false
}

// IsStorageError returns true if the storage failed.
func IsStorageError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeStorage
	}
	return false
}

// NewQuotaError creates a RuntimeError for an exceeded row budget.
func NewQuotaError(provider string, rows, maxRows int) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeQuotaExceeded,
		Message:  fmt.Sprintf("execution exceeded row budget (%d > %d)", rows, maxRows),
		Provider: provider,
		Err:      &RowsExceededError{Rows: rows, Limit: maxRows},
	}
}
