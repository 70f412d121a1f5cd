package harness

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/quill/internal/compiler"
	"github.com/roach88/quill/internal/engine"
	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/linq"
	"github.com/roach88/quill/internal/model"
	"github.com/roach88/quill/internal/rse"
	"github.com/roach88/quill/internal/schema"
	"github.com/roach88/quill/internal/store"
	"github.com/roach88/quill/internal/value"
)

// DefaultParallel is the worker count of RunAll.
const DefaultParallel = 4

// Harness runs scenarios. Compilers are created once per model path and
// shared by every scenario using that model.
//
// Thread-safety: Run and RunAll are safe for concurrent use.
type Harness struct {
	logger    *slog.Logger
	parallel  int
	maxRows   int
	cacheSize int
	reg       prometheus.Registerer
	compile   []compiler.Option

	mu        sync.Mutex
	compilers map[string]*compiler.Compiler
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger passed to compilers, stores and engines.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// WithParallel sets the number of scenarios RunAll executes at once.
func WithParallel(n int) Option {
	return func(h *Harness) { h.parallel = n }
}

// WithMaxRows sets the engine row budget per query.
func WithMaxRows(n int) Option {
	return func(h *Harness) { h.maxRows = n }
}

// WithCacheSize bounds each compiler's plan cache.
func WithCacheSize(n int) Option {
	return func(h *Harness) { h.cacheSize = n }
}

// WithRegisterer registers compiler metrics, labelled by model path.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(h *Harness) { h.reg = reg }
}

// WithCompilerOptions appends options to every compiler the harness
// creates.
func WithCompilerOptions(opts ...compiler.Option) Option {
	return func(h *Harness) { h.compile = append(h.compile, opts...) }
}

// New creates a Harness.
func New(opts ...Option) *Harness {
	h := &Harness{
		logger:    slog.Default(),
		parallel:  DefaultParallel,
		maxRows:   engine.DefaultMaxRows,
		compilers: make(map[string]*compiler.Compiler),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// compilerFor returns the shared compiler of a model path, loading the
// model on first use.
func (h *Harness) compilerFor(path string) (*compiler.Compiler, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.compilers[path]; ok {
		return c, nil
	}
	m, err := schema.LoadDir(path)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	opts := []compiler.Option{compiler.WithLogger(h.logger), compiler.WithCacheSize(h.cacheSize)}
	if h.reg != nil {
		opts = append(opts, compiler.WithRegisterer(prometheus.WrapRegistererWith(prometheus.Labels{"model": path}, h.reg)))
	}
	c, err := compiler.New(m, append(opts, h.compile...)...)
	if err != nil {
		return nil, err
	}
	h.compilers[path] = c
	return c, nil
}

// Run executes one scenario in a fresh in-memory store.
//
// Execution flow:
// 1. Load (or reuse) the model's compiler
// 2. Create the store and load the fixtures
// 3. Parse, compile and execute every query in order
// 4. Check each query's expectations
//
// Query failures are reported in the result; the returned error is reserved
// for problems that prevent the scenario from running at all.
func (h *Harness) Run(ctx context.Context, s *Scenario) (*Result, error) {
	c, err := h.compilerFor(s.Model)
	if err != nil {
		return nil, err
	}
	m := c.Model()

	st, err := store.Open(":memory:", store.WithLogger(h.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx, m); err != nil {
		return nil, err
	}
	rows, err := FixtureRows(m, s.Fixtures)
	if err != nil {
		return nil, fmt.Errorf("fixtures: %w", err)
	}
	if err := st.Load(ctx, m, rows); err != nil {
		return nil, fmt.Errorf("fixtures: %w", err)
	}

	cells := make(map[string]*expr.Cell, len(s.Vars))
	popts := make([]linq.ParserOption, 0, len(s.Vars))
	for name := range s.Vars {
		cells[name] = expr.NewCell(nil)
		popts = append(popts, linq.WithVariable(name, cells[name]))
	}
	parser, err := linq.NewParser(m, popts...)
	if err != nil {
		return nil, err
	}
	eng := engine.New(st, engine.WithMaxRows(h.maxRows), engine.WithLogger(h.logger))

	result := NewResult(s.Name)
	for _, q := range s.Queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for name, v := range s.Vars {
			cells[name].Set(value.Normalize(v))
		}
		for name, v := range q.Vars {
			cells[name].Set(value.Normalize(v))
		}
		o := h.runQuery(ctx, parser, c, eng, q)
		qr := QueryResult{Name: q.Name, Output: o.output, Cached: o.cached, Pass: true}
		if o.plan != nil {
			qr.Plan = rse.Describe(o.plan)
		}
		if o.err != nil {
			qr.Error = o.err.Error()
		}
		for _, f := range checkExpect(q.Expect, o) {
			qr.Failures = append(qr.Failures, f.Error())
			qr.Pass = false
		}
		result.AddQuery(qr)
	}

	h.logger.Info("scenario finished", "scenario", s.Name, "pass", result.Pass, "queries", len(result.Queries))
	return result, nil
}

func (h *Harness) runQuery(ctx context.Context, p *linq.Parser, c *compiler.Compiler, eng *engine.Engine, q QueryCase) outcome {
	node, err := p.Parse(q.Query)
	if err != nil {
		return outcome{err: err}
	}
	pq, err := c.Compile(node)
	if err != nil {
		return outcome{err: err}
	}
	o := outcome{plan: pq.Query.Plan, cached: pq.Cached}
	out, err := eng.Execute(ctx, pq)
	if err != nil {
		o.err = err
		return o
	}
	o.output = Render(out)
	return o
}

// RunAll executes scenarios on a worker pool and returns their results in
// input order.
func (h *Harness) RunAll(ctx context.Context, scenarios []*Scenario) ([]*Result, error) {
	size := h.parallel
	if size <= 0 {
		size = 1
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("worker pool: %w", err)
	}
	defer pool.Release()

	results := make([]*Result, len(scenarios))
	errs := make([]error, len(scenarios))
	var wg sync.WaitGroup
	for i, s := range scenarios {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			results[i], errs[i] = h.Run(ctx, s)
		})
		if err != nil {
			wg.Done()
			errs[i] = fmt.Errorf("submit %s: %w", s.Name, err)
		}
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return results, fmt.Errorf("scenario %s: %w", scenarios[i].Name, err)
		}
	}
	return results, nil
}

// FixtureRows lays out fixture maps as primary index rows. The TypeId
// column is filled with the entity's type id; absent columns are null.
func FixtureRows(m *model.Model, fixtures map[string][]map[string]any) (map[string][][]any, error) {
	names := make([]string, 0, len(fixtures))
	for name := range fixtures {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string][][]any, len(fixtures))
	for _, name := range names {
		t, ok := m.Type(name)
		if !ok || !t.IsEntity() {
			return nil, fmt.Errorf("unknown entity %q", name)
		}
		index := make(map[string]int, len(t.Columns))
		for i, c := range t.Columns {
			index[c.Name] = i
		}
		rows := make([][]any, len(fixtures[name]))
		for r, fields := range fixtures[name] {
			row := make([]any, len(t.Columns))
			row[t.TypeIDIndex()] = int64(t.ID)
			for col, v := range fields {
				i, ok := index[col]
				if !ok || col == model.TypeIDColumn {
					return nil, fmt.Errorf("%s[%d]: unknown column %q", name, r, col)
				}
				row[i] = value.Normalize(v)
			}
			rows[r] = row
		}
		out[name] = rows
	}
	return out, nil
}
