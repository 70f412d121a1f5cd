package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/quill/internal/engine"
	"github.com/roach88/quill/internal/harness"
	"github.com/roach88/quill/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string   // SQLite file; the config's database or in-memory when empty
	Fixtures string   // YAML file of rows per entity, loaded before the query
	Vars     []string // captured variables, name=value
}

// RunResult is the outcome of one query execution.
type RunResult struct {
	Query         string `json:"query"`
	Kind          string `json:"kind"`
	TranslationID string `json:"translation_id"`
	Result        any    `json:"result"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <query>",
		Short: "Execute a query against SQLite",
		Long: `Compile a query and execute it against a SQLite database.

The database is migrated for the model on first use (one table per entity)
and rejected if it was created for a different model. Fixture rows are
inserted before the query runs; rows whose key already exists are skipped.

Example:
  quill run -m model.cue --db ./people.db 'Person.where(p, p.Age > 30).select(p, p.Name)'
  quill run -m model.cue --fixtures rows.yaml --var city=Oslo 'Person.where(p, p.Address.City == city).count()'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default: config database or in-memory)")
	cmd.Flags().StringVar(&opts.Fixtures, "fixtures", "", "YAML file of rows per entity to insert first")
	cmd.Flags().StringArrayVar(&opts.Vars, "var", nil, "captured variable as name=value, value read as YAML (repeatable)")

	return cmd
}

func runQuery(opts *RunOptions, query string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	s, err := openSession(opts.RootOptions, cmd, opts.Vars, true)
	if err != nil {
		return err
	}
	logger := s.logger

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, cancelling query", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	path := opts.Database
	if path == "" {
		path = s.cfg.Database
	}
	if path == "" {
		path = ":memory:"
	}
	logger.Debug("opening database", "path", path)
	st, err := store.Open(path, store.WithLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()
	if err := st.Migrate(ctx, s.model); err != nil {
		_ = formatter.Error(ErrorCode(err), err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to migrate database", err)
	}

	if opts.Fixtures != "" {
		if err := loadFixtures(ctx, st, s, opts.Fixtures); err != nil {
			return WrapExitError(ExitCommandError, "failed to load fixtures", err)
		}
		formatter.VerboseLog("Loaded fixtures from %s", opts.Fixtures)
	}

	pq, err := s.compile(query)
	if err != nil {
		return formatter.Fail(ExitFailure, err)
	}
	eng := engine.New(st, engine.WithMaxRows(s.cfg.MaxRows), engine.WithLogger(logger))
	out, err := eng.Execute(ctx, pq)
	if err != nil {
		return formatter.Fail(ExitFailure, err)
	}

	result := RunResult{
		Query:         query,
		Kind:          pq.Query.Kind.String(),
		TranslationID: pq.TranslationID,
		Result:        harness.Render(out),
	}
	if opts.Format == "json" {
		return formatter.Success(result)
	}

	data, err := yaml.Marshal(result.Result)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to render result", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

// loadFixtures reads a YAML map of entity name to rows, laid out like
// scenario fixtures, and inserts them.
func loadFixtures(ctx context.Context, st *store.Store, s *session, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fixtures map[string][]map[string]any
	if err := yaml.Unmarshal(data, &fixtures); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	rows, err := harness.FixtureRows(s.model, fixtures)
	if err != nil {
		return err
	}
	return st.Load(ctx, s.model, rows)
}
