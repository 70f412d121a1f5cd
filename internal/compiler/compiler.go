package compiler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/quill/internal/canon"
	"github.com/roach88/quill/internal/evaluator"
	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/materializer"
	"github.com/roach88/quill/internal/model"
	"github.com/roach88/quill/internal/optimizer"
	"github.com/roach88/quill/internal/plancache"
	"github.com/roach88/quill/internal/translator"
)

// Compiler compiles query expressions against one model. It is safe for
// concurrent use.
type Compiler struct {
	model    *model.Model
	modelID  string
	cache    *plancache.Cache[*TranslatedQuery]
	logger   *slog.Logger
	optimize bool
	validate bool
	ids      IDGenerator
	duration prometheus.Histogram
}

type config struct {
	logger    *slog.Logger
	cacheSize int
	reg       prometheus.Registerer
	optimize  bool
	validate  bool
	ids       IDGenerator
}

// Option configures a Compiler.
type Option func(*config)

// WithLogger sets the logger used for compile and translation events.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithCacheSize bounds the plan cache. Zero selects plancache.DefaultSize.
func WithCacheSize(n int) Option {
	return func(c *config) { c.cacheSize = n }
}

// WithRegisterer registers the compiler's and the plan cache's metrics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *config) { c.reg = reg }
}

// WithoutOptimizer skips redundant column removal. Plans compiled this way
// are keyed apart from optimized ones.
func WithoutOptimizer() Option {
	return func(c *config) { c.optimize = false }
}

// WithPlanValidation runs Validate on every freshly translated plan and
// fails the compile with ValidationErrors if it is broken.
func WithPlanValidation() Option {
	return func(c *config) { c.validate = true }
}

// WithIDGenerator replaces the UUIDv7 translation ids, typically with a
// deterministic sequence in tests.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *config) { c.ids = g }
}

// New creates a Compiler for m.
func New(m *model.Model, opts ...Option) (*Compiler, error) {
	cfg := config{logger: slog.Default(), optimize: true, ids: UUIDv7Generator{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	reg := cfg.reg
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	cache, err := plancache.New[*TranslatedQuery](cfg.cacheSize, plancache.WithMetrics(plancache.NewMetrics(reg)))
	if err != nil {
		return nil, err
	}
	modelID, err := canon.Hash(canon.DomainModel, m.Describe())
	if err != nil {
		return nil, err
	}
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "quill_translation_duration_seconds",
		Help:    "Time spent translating and optimizing a query on a plan cache miss",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	})
	reg.MustRegister(duration)
	return &Compiler{
		model:    m,
		modelID:  modelID,
		cache:    cache,
		logger:   cfg.logger,
		optimize: cfg.optimize,
		validate: cfg.validate,
		ids:      cfg.ids,
		duration: duration,
	}, nil
}

// Model returns the model the compiler translates against.
func (c *Compiler) Model() *model.Model { return c.model }

// CacheLen returns the number of cached plans.
func (c *Compiler) CacheLen() int { return c.cache.Len() }

// Compile extracts root's parameters and returns the cached or freshly
// translated plan with this execution's values. No plan is cached when
// translation fails.
func (c *Compiler) Compile(root expr.Node) (*ParameterizedQuery, error) {
	id := c.ids.Generate()
	x, err := evaluator.ExtractParameters(root)
	if err != nil {
		return nil, fmt.Errorf("extract parameters: %w", err)
	}
	values, err := x.Values()
	if err != nil {
		return nil, err
	}
	key, err := c.Key(x.Root)
	if err != nil {
		return nil, err
	}
	q, cached, err := c.cache.GetOrBuild(key, func() (*TranslatedQuery, error) {
		return c.build(id, key, x)
	})
	if err != nil {
		c.logger.Debug("compile failed", "translation_id", id, "error", err)
		return nil, err
	}
	c.logger.Debug("query compiled",
		"translation_id", id,
		"key", key[:12],
		"cached", cached,
		"params", len(values),
	)
	return &ParameterizedQuery{Query: q, Values: values, TranslationID: id, Cached: cached}, nil
}

// Key returns the plan cache key of an expression whose parameters were
// already extracted.
func (c *Compiler) Key(root expr.Node) (string, error) {
	shape, err := expr.Shape(root)
	if err != nil {
		return "", fmt.Errorf("plan key: %w", err)
	}
	return canon.Hash(canon.DomainPlan, map[string]any{
		"model":    c.modelID,
		"optimize": c.optimize,
		"shape":    shape,
	})
}

func (c *Compiler) build(id, key string, x *evaluator.Extraction) (*TranslatedQuery, error) {
	start := time.Now()
	res, err := translator.Translate(c.model, x.Root, translator.WithLogger(c.logger.With("translation_id", id)))
	if err != nil {
		return nil, err
	}
	proj := res.Projector
	if c.optimize {
		if proj, err = optimizer.RemoveRedundantColumns(proj); err != nil {
			return nil, fmt.Errorf("remove redundant columns: %w", err)
		}
	}
	mat, err := materializer.Compile(proj, res.Kind, materializer.WithAggregate(res.Aggregate, res.Type))
	if err != nil {
		return nil, err
	}
	params := make([]Param, len(x.Bindings))
	for i, b := range x.Bindings {
		params[i] = Param{Slot: b.Slot, Name: b.Name, Type: b.T}
	}
	q := &TranslatedQuery{
		Key:          key,
		Kind:         res.Kind,
		Aggregate:    res.Aggregate,
		Type:         res.Type,
		Plan:         proj.DataSource,
		Item:         proj.Item,
		Params:       params,
		Materializer: mat,
	}
	if c.validate {
		if errs := Validate(q); len(errs) > 0 {
			return nil, ValidationErrors(errs)
		}
	}
	c.duration.Observe(time.Since(start).Seconds())
	return q, nil
}
