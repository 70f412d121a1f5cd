package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/quill/internal/model"
	"github.com/roach88/quill/internal/schema"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool     `json:"valid"`
	Path       string   `json:"path"`
	Entities   []string `json:"entities"`
	Structures []string `json:"structures"`
	Layout     string   `json:"layout,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [model]",
		Short: "Validate a CUE domain model",
		Long: `Load a CUE domain model and check it against the model schema and the
model builder's rules: keys, reference targets, paired entity sets and
structure cycles.

The model path defaults to --model or the config's model. With --verbose the
resolved row layout of every type is printed.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	cfg, _, err := opts.settings(cmd)
	if err != nil {
		return err
	}
	path, err := resolveModel(opts, cfg, args)
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			_ = formatter.Error(schema.ErrCodeNotFound, exitErr.Message, nil)
		}
		return err
	}

	if files, err := schema.FindCUEFiles(path); err == nil {
		formatter.VerboseLog("Found %d CUE file(s) in %s", len(files), path)
	}

	m, err := schema.LoadDir(path)
	if err != nil {
		return outputValidateError(formatter, err)
	}

	result := ValidationResult{Valid: true, Path: path, Entities: []string{}, Structures: []string{}}
	for _, t := range m.Types() {
		if t.IsEntity() {
			result.Entities = append(result.Entities, t.Name)
		} else {
			result.Structures = append(result.Structures, t.Name)
		}
	}
	if opts.Verbose {
		result.Layout = m.Describe()
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "✓ Model valid: %d entities, %d structures\n", len(result.Entities), len(result.Structures))
	if len(result.Entities) > 0 {
		fmt.Fprintf(w, "  Entities: %s\n", strings.Join(result.Entities, ", "))
	}
	if len(result.Structures) > 0 {
		fmt.Fprintf(w, "  Structures: %s\n", strings.Join(result.Structures, ", "))
	}
	if result.Layout != "" {
		fmt.Fprintln(w)
		fmt.Fprint(w, result.Layout)
	}
	return nil
}

// outputValidateError reports a model load failure. Schema errors carry a
// source position when CUE knows one.
func outputValidateError(formatter *OutputFormatter, err error) error {
	code := ErrorCode(err)
	var details map[string]any
	var (
		ce *schema.CompileError
		ve model.ValidationErrors
	)
	switch {
	case errors.As(err, &ce):
		details = map[string]any{"field": ce.Field}
		if ce.Pos.IsValid() {
			details["file"] = ce.Pos.Filename()
			details["line"] = ce.Pos.Line()
		}
	case errors.As(err, &ve):
		problems := make([]string, len(ve))
		for i, e := range ve {
			problems[i] = e.Error()
		}
		details = map[string]any{"problems": problems}
	}

	if formatter.Format == "json" {
		if outErr := formatter.Error(code, err.Error(), details); outErr != nil {
			return outErr
		}
	} else {
		fmt.Fprintf(formatter.Writer, "✗ Model invalid\n")
		fmt.Fprintf(formatter.Writer, "  [%s] %s\n", code, err.Error())
	}
	return WrapExitError(ExitFailure, "validation failed", err)
}
