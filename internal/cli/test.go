package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/roach88/quill/internal/compiler"
	"github.com/roach88/quill/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern on the scenario name)
	Golden string // golden file directory; golden comparison is skipped when empty
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run query scenarios",
		Long: `Run YAML query scenarios against in-memory stores.

Each scenario names a CUE model, fixture rows and queries with expected
results, errors and plan shapes. Scenarios run in parallel; scenarios on the
same model share one plan cache. With --golden, each scenario's plans and
outputs are compared with <golden>/<scenario>.golden.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, malformed scenarios, etc.)

Examples:
  quill test ./scenarios
  quill test ./scenarios --filter "people*"
  quill test ./scenarios --golden ./golden --update
  quill test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.Golden, "golden", "", "golden file directory")

	return cmd
}

func runTests(opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	cfg, logger, err := opts.settings(cmd)
	if err != nil {
		return err
	}

	// Validate directories
	if _, err := os.Stat(scenariosDir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", scenariosDir))
	}
	if opts.Update && opts.Golden == "" {
		return NewExitError(ExitCommandError, "--update requires --golden")
	}

	scenarios, err := harness.LoadScenarios(scenariosDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenarios", err)
	}
	scenarios, err = filterScenarios(scenarios, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid filter pattern", err)
	}

	if len(scenarios) == 0 {
		if opts.Format == "json" {
			return newFormatter(opts.RootOptions, cmd).Success(TestResult{Scenarios: []ScenarioResult{}})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	hopts := []harness.Option{
		harness.WithLogger(logger),
		harness.WithParallel(cfg.Parallel),
		harness.WithMaxRows(cfg.MaxRows),
		harness.WithCacheSize(cfg.CacheSize),
		harness.WithCompilerOptions(compiler.WithPlanValidation()),
	}
	if !cfg.Optimize {
		hopts = append(hopts, harness.WithCompilerOptions(compiler.WithoutOptimizer()))
	}
	h := harness.New(hopts...)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	results, err := h.RunAll(ctx, scenarios)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to run scenarios", err)
	}

	summary := TestResult{Scenarios: make([]ScenarioResult, 0, len(results)), Total: len(results)}
	for _, r := range results {
		if opts.Golden != "" {
			if err := checkGolden(r, opts.Golden, opts.Update); err != nil {
				r.AddError(err.Error())
			}
		}
		sr := scenarioResult(r)
		summary.Scenarios = append(summary.Scenarios, sr)
		if sr.Pass {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}

	if opts.Format == "json" {
		if err := newFormatter(opts.RootOptions, cmd).Success(summary); err != nil {
			return err
		}
	} else {
		writeTestText(cmd.OutOrStdout(), summary, opts.Update)
	}

	if summary.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", summary.Failed, summary.Total))
	}
	return nil
}

func filterScenarios(scenarios []*harness.Scenario, pattern string) ([]*harness.Scenario, error) {
	if pattern == "" {
		return scenarios, nil
	}
	var out []*harness.Scenario
	for _, s := range scenarios {
		matched, err := filepath.Match(pattern, s.Name)
		if err != nil {
			return nil, err
		}
		if matched {
			out = append(out, s)
		}
	}
	return out, nil
}

// scenarioResult flattens scenario and query failures into one list.
func scenarioResult(r *harness.Result) ScenarioResult {
	sr := ScenarioResult{Name: r.Scenario, Pass: r.Pass}
	sr.Errors = append(sr.Errors, r.Errors...)
	for _, q := range r.Queries {
		for _, f := range q.Failures {
			sr.Errors = append(sr.Errors, q.Name+": "+f)
		}
	}
	return sr
}

// checkGolden compares the result's snapshot with <dir>/<scenario>.golden,
// or writes it when update is set.
func checkGolden(r *harness.Result, dir string, update bool) error {
	data, err := harness.Snapshot(r)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, r.Scenario+".golden")

	if update {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create golden directory: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write golden file: %w", err)
		}
		return nil
	}

	want, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("golden file missing: %s (run with --update to create)", path)
		}
		return fmt.Errorf("failed to read golden file: %w", err)
	}
	if !bytes.Equal(want, data) {
		return fmt.Errorf("golden file mismatch: %s (run with --update to regenerate)", path)
	}
	return nil
}

func writeTestText(w io.Writer, summary TestResult, updated bool) {
	pass := color.New(color.FgGreen).Sprint("✓")
	fail := color.New(color.FgRed).Sprint("✗")
	for _, s := range summary.Scenarios {
		if !s.Pass {
			fmt.Fprintf(w, "%s %s\n", fail, s.Name)
			for _, e := range s.Errors {
				fmt.Fprintf(w, "  %s\n", e)
			}
			continue
		}
		if updated {
			fmt.Fprintf(w, "%s %s (golden updated)\n", pass, s.Name)
		} else {
			fmt.Fprintf(w, "%s %s\n", pass, s.Name)
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", summary.Passed, summary.Failed, summary.Total)
}
