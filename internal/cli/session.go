package cli

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/quill/internal/compiler"
	"github.com/roach88/quill/internal/config"
	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/linq"
	"github.com/roach88/quill/internal/model"
	"github.com/roach88/quill/internal/schema"
	"github.com/roach88/quill/internal/value"
)

// session is the state shared by the query commands: settings, the loaded
// model, a compiler and a parser with its variable cells.
type session struct {
	cfg      *config.Config
	logger   *slog.Logger
	model    *model.Model
	compiler *compiler.Compiler
	parser   *linq.Parser
	cells    map[string]*expr.Cell
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// resolveModel returns the model path from the argument, the --model flag
// or the config, in that order.
func resolveModel(opts *RootOptions, cfg *config.Config, args []string) (string, error) {
	path := cfg.Model
	if len(args) > 0 && args[0] != "" {
		path = args[0]
	}
	if path == "" {
		return "", NewExitError(ExitCommandError, "no model given: pass --model or set model in quill.yaml")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", NewExitError(ExitCommandError, fmt.Sprintf("model not found: %s", path))
	}
	return path, nil
}

// openSession loads the model and prepares a compiler and parser. vars are
// name=value pairs whose values are read as YAML.
func openSession(opts *RootOptions, cmd *cobra.Command, vars []string, optimize bool) (*session, error) {
	cfg, logger, err := opts.settings(cmd)
	if err != nil {
		return nil, err
	}
	path, err := resolveModel(opts, cfg, nil)
	if err != nil {
		return nil, err
	}
	m, err := schema.LoadDir(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load model", err)
	}

	copts := []compiler.Option{
		compiler.WithLogger(logger),
		compiler.WithCacheSize(cfg.CacheSize),
		compiler.WithRegisterer(prometheus.NewRegistry()),
	}
	if !optimize || !cfg.Optimize {
		copts = append(copts, compiler.WithoutOptimizer())
	}
	c, err := compiler.New(m, copts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create compiler", err)
	}

	values, err := parseVars(vars)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	cells := make(map[string]*expr.Cell, len(values))
	popts := make([]linq.ParserOption, 0, len(values))
	for _, name := range names {
		cells[name] = expr.NewCell(values[name])
		popts = append(popts, linq.WithVariable(name, cells[name]))
	}
	p, err := linq.NewParser(m, popts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create parser", err)
	}

	return &session{cfg: cfg, logger: logger, model: m, compiler: c, parser: p, cells: cells}, nil
}

// compile parses and compiles one query.
func (s *session) compile(query string) (*compiler.ParameterizedQuery, error) {
	node, err := s.parser.Parse(query)
	if err != nil {
		return nil, err
	}
	return s.compiler.Compile(node)
}

// parseVars splits name=value pairs and decodes each value as YAML, so 30
// is an integer, "30" a string and [1, 2] a list. Later pairs win.
func parseVars(vars []string) (map[string]any, error) {
	out := make(map[string]any, len(vars))
	for _, pair := range vars {
		name, raw, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid variable %q: want name=value", pair))
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("invalid value for variable %s", name), err)
		}
		if _, ok := v.(map[string]any); ok {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("variable %s must be a scalar or a list", name))
		}
		if list, ok := v.([]any); ok {
			for i := range list {
				list[i] = value.Normalize(list[i])
			}
		}
		out[name] = value.Normalize(v)
	}
	return out, nil
}
