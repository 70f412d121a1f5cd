package schema

import (
	"errors"
	"fmt"

	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Load error codes (E001-E099), shared with the CLI's exit reporting.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build or schema unification failed
	ErrCodeNoTypes     = "E007" // Model declares no types
	ErrCodeInvalidType = "E104" // Unknown value type name
)

// CompileError represents a model declaration error with source position.
type CompileError struct {
	Code    string
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	prefix := e.Code
	if e.Field != "" {
		prefix += ": " + e.Field
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), prefix, e.Message)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// IsCompileError returns true if err is a CompileError.
func IsCompileError(err error) bool {
	var ce *CompileError
	return errors.As(err, &ce)
}

// formatCUEError extracts position info from CUE errors.
//
// A CUE error list may hold several errors, and disjunction failures often
// carry no position of their own. The first error with a position in the
// model source is reported; positions inside the embedded schema are only
// a fallback.
func formatCUEError(code string, err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &CompileError{Code: code, Message: err.Error()}
	}

	var fallback *CompileError
	for _, e := range errs {
		for _, pos := range cueerrors.Positions(e) {
			if !pos.IsValid() {
				continue
			}
			if pos.Filename() != schemaFilename {
				return &CompileError{Code: code, Message: e.Error(), Pos: pos}
			}
			if fallback == nil {
				fallback = &CompileError{Code: code, Message: e.Error(), Pos: pos}
			}
		}
	}
	if fallback != nil {
		return fallback
	}
	return &CompileError{Code: code, Message: errs[0].Error()}
}
