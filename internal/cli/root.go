package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/quill/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // config file; quill.yaml in the working directory when empty
	Model   string // CUE model file or directory; overrides the config's model

	cfg    *config.Config
	logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the quill CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "quill",
		Short: "quill - object query translation",
		Long: `Translate object queries over a CUE domain model into relational plans,
inspect the plans, and run them against SQLite or fixture data.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			_, _, err := opts.settings(cmd)
			return err
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "config file (default ./quill.yaml)")
	cmd.PersistentFlags().StringVarP(&opts.Model, "model", "m", "", "CUE model file or directory")

	// Add subcommands
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewExplainCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// settings loads the configuration once per invocation. Verbose raises the
// log level to debug.
func (o *RootOptions) settings(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	if o.cfg != nil {
		return o.cfg, o.logger, nil
	}
	cfg, err := config.Load(o.Config)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}
	if o.Model != "" {
		cfg.Model = o.Model
	}
	o.cfg = cfg
	o.logger = cfg.Logger(cmd.ErrOrStderr())
	return o.cfg, o.logger, nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
