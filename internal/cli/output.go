package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/quill/internal/engine"
	"github.com/roach88/quill/internal/linq"
	"github.com/roach88/quill/internal/materializer"
	"github.com/roach88/quill/internal/model"
	"github.com/roach88/quill/internal/schema"
	"github.com/roach88/quill/internal/store"
	"github.com/roach88/quill/internal/translator"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Query, validation or scenario failure
	ExitCommandError = 2 // Command error (invalid paths, bad config, model mismatch)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// ErrorCode returns the category code reported for err in CLI output:
// PARSE, a translator or runtime code, a model code, or E001.
func ErrorCode(err error) string {
	var (
		pe *linq.ParseError
		te *translator.Error
		re *engine.RuntimeError
		me *materializer.Error
		ce *schema.CompileError
		ve model.ValidationErrors
	)
	switch {
	case errors.As(err, &pe):
		return "PARSE"
	case errors.As(err, &te):
		return string(te.Code)
	case materializer.IsEmptySequence(err):
		return string(materializer.CodeEmptySequence)
	case errors.As(err, &re):
		return string(re.Code)
	case errors.As(err, &me):
		return string(me.Code)
	case errors.As(err, &ce):
		return ce.Code
	case errors.As(err, &ve) && len(ve) > 0:
		return ve[0].Code
	case errors.Is(err, store.ErrModelMismatch):
		return "MODEL_MISMATCH"
	}
	return schema.ErrCodeGeneric
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "PARSE", "CARDINALITY", "E001", ...
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err and returns an ExitError carrying exitCode.
func (f *OutputFormatter) Fail(exitCode int, err error) error {
	code := ErrorCode(err)
	if outErr := f.Error(code, err.Error(), nil); outErr != nil {
		return outErr
	}
	return WrapExitError(exitCode, code, err)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
