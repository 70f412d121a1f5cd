package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/quill/internal/compiler"
	"github.com/roach88/quill/internal/evaluator"
	"github.com/roach88/quill/internal/materializer"
	"github.com/roach88/quill/internal/model"
	"github.com/roach88/quill/internal/rse"
)

// Storage reads the rows of an index in index order. Rows are laid out by
// the index's columns.
type Storage interface {
	Scan(ctx context.Context, index *model.IndexInfo) ([]rse.Tuple, error)
}

// DefaultMaxRows is the default row budget of one execution.
// This prevents runaway correlated plans from consuming unbounded memory.
const DefaultMaxRows = 1_000_000

// Engine executes plans against a Storage.
//
// Thread-safety: Engine holds no per-execution state; Execute is safe from
// any goroutine.
type Engine struct {
	storage Storage
	logger  *slog.Logger
	maxRows int
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithMaxRows sets the row budget per execution.
//
// Default: 1,000,000 rows (DefaultMaxRows). Zero disables the budget.
func WithMaxRows(n int) Option {
	return func(e *Engine) {
		e.maxRows = n
	}
}

// WithLogger sets the logger for execution events.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an Engine reading from s.
func New(s Storage, opts ...Option) *Engine {
	e := &Engine{
		storage: s,
		logger:  slog.Default(),
		maxRows: DefaultMaxRows,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs a compiled query and materializes its result.
func (e *Engine) Execute(ctx context.Context, pq *compiler.ParameterizedQuery) (any, error) {
	q := pq.Query
	run := e.newRun(pq.Values)
	rows, err := run.eval(ctx, q.Plan, run.root)
	if err != nil {
		e.logger.Debug("execution failed", "translation_id", pq.TranslationID, "error", err)
		return nil, err
	}
	out, err := q.Materializer(ctx, rse.RowsOf(rows), &materializer.Env{Params: pq.Values, Subqueries: run})
	if err != nil {
		return nil, err
	}
	e.logger.Debug("query executed",
		"translation_id", pq.TranslationID,
		"kind", q.Kind.String(),
		"rows", len(rows),
		"charged", run.quota.Current(),
	)
	return out, nil
}

// Rows evaluates a provider tree with the given parameter values and
// returns its tuples. It is used for plan inspection and tests.
func (e *Engine) Rows(ctx context.Context, p rse.Provider, params []any) ([]rse.Tuple, error) {
	run := e.newRun(params)
	return run.eval(ctx, p, run.root)
}

func (e *Engine) newRun(params []any) *run {
	return &run{
		engine: e,
		quota:  NewRowQuota(e.maxRows),
		root:   &evaluator.RowEnv{Params: params},
	}
}

// run is one execution. It implements materializer.SubqueryExecutor so
// that nested subqueries share the execution's row budget.
type run struct {
	engine *Engine
	quota  *RowQuota
	root   *evaluator.RowEnv
}

// ExecuteSubquery implements materializer.SubqueryExecutor.
func (r *run) ExecuteSubquery(ctx context.Context, rel rse.Provider, env *evaluator.RowEnv) (rse.Rows, error) {
	rows, err := r.eval(ctx, rel, env)
	if err != nil {
		return nil, err
	}
	return rse.RowsOf(rows), nil
}

// eval evaluates p with env supplying parameters and bound correlations.
func (r *run) eval(ctx context.Context, p rse.Provider, env *evaluator.RowEnv) ([]rse.Tuple, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	rows, err := r.evalProvider(ctx, p, env)
	if err != nil {
		return nil, err
	}
	if err := r.quota.Charge(len(rows)); err != nil {
		return nil, NewQuotaError(p.Kind().String(), r.quota.Current(), r.quota.MaxRows())
	}
	return rows, nil
}
