package compiler

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/linq"
	"github.com/roach88/quill/internal/rse"
	"github.com/roach88/quill/internal/testutil"
	"github.com/roach88/quill/internal/translator"
)

func newCompiler(t *testing.T, opts ...Option) *Compiler {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	c, err := New(testutil.SampleModel(), opts...)
	require.NoError(t, err)
	return c
}

func olderThan(b *linq.Builder, cell *expr.Cell) expr.Node {
	return b.From("Person").
		Where(func(p linq.Expr) linq.Expr { return p.Get("Age").Gt(b.Capture("minAge", cell)) }).
		Select(func(p linq.Expr) linq.Expr { return p.Get("Name") }).
		Node()
}

func TestCompile_ReusesPlanAcrossValues(t *testing.T) {
	c := newCompiler(t, WithIDGenerator(testutil.NewSequentialIDGenerator("tr")))
	b := linq.New(c.Model())
	cell := expr.NewCell(int64(30))
	q := olderThan(b, cell)
	require.NoError(t, b.Err())

	first, err := c.Compile(q)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, []any{int64(30)}, first.Values)
	assert.Equal(t, "tr-1", first.TranslationID)
	require.Len(t, first.Query.Params, 1)
	assert.Equal(t, "minAge", first.Query.Params[0].Name)

	cell.Set(int64(40))
	second, err := c.Compile(q)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Same(t, first.Query, second.Query)
	assert.Equal(t, []any{int64(40)}, second.Values)
	assert.Equal(t, "tr-2", second.TranslationID)
	assert.Equal(t, 1, c.CacheLen())
}

func TestCompile_LiteralsArePartOfTheKey(t *testing.T) {
	c := newCompiler(t)
	b := linq.New(c.Model())
	by := func(age int64) expr.Node {
		return b.From("Person").Where(func(p linq.Expr) linq.Expr { return p.Get("Age").Gt(age) }).Node()
	}
	a, err := c.Compile(by(30))
	require.NoError(t, err)
	z, err := c.Compile(by(40))
	require.NoError(t, err)
	assert.NotEqual(t, a.Query.Key, z.Query.Key)
	assert.Empty(t, a.Values)
}

func TestCompile_KeyIgnoresParameterIdentity(t *testing.T) {
	c := newCompiler(t)
	b := linq.New(c.Model())
	first := olderThan(b, expr.NewCell(int64(1)))
	second := olderThan(b, expr.NewCell(int64(2)))

	k1, err := c.Key(first)
	require.NoError(t, err)
	k2, err := c.Key(second)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)
}

func TestCompile_OptimizesPlan(t *testing.T) {
	b := linq.New(testutil.SampleModel())
	q := b.From("Person").Select(func(p linq.Expr) linq.Expr { return p.Get("Name") }).Node()

	opt, err := newCompiler(t).Compile(q)
	require.NoError(t, err)
	raw, err := newCompiler(t, WithoutOptimizer()).Compile(q)
	require.NoError(t, err)

	assert.Equal(t, 1, opt.Query.Plan.Width())
	assert.Equal(t, 9, raw.Query.Plan.Width())
	assert.NotEqual(t, opt.Query.Key, raw.Query.Key)
	assert.Equal(t, translator.ResultSequence, opt.Query.Kind)
	assert.True(t, rse.Validate(opt.Query.Plan).Valid)
}

func TestCompile_FailuresAreNotCached(t *testing.T) {
	c := newCompiler(t)
	q := &expr.Source{Entity: "Invoice", T: expr.QueryableOf(expr.EntityType("Invoice"))}

	for i := 0; i < 2; i++ {
		_, err := c.Compile(q)
		require.Error(t, err)
		assert.True(t, translator.IsModelError(err), "got %v", err)
		assert.Equal(t, 0, c.CacheLen())
	}
}

func TestCompile_RegistersMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newCompiler(t, WithRegisterer(reg))
	b := linq.New(c.Model())
	_, err := c.Compile(b.From("Pet").Node())
	require.NoError(t, err)

	n, err := promtest.GatherAndCount(reg, "quill_plan_cache_misses_total", "quill_translation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCompile_Concurrent(t *testing.T) {
	c := newCompiler(t)
	b := linq.New(c.Model())
	cells := make([]*expr.Cell, 16)
	queries := make([]expr.Node, len(cells))
	for i := range cells {
		cells[i] = expr.NewCell(int64(i))
		queries[i] = olderThan(b, cells[i])
	}

	var wg sync.WaitGroup
	got := make([]*ParameterizedQuery, len(queries))
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q expr.Node) {
			defer wg.Done()
			pq, err := c.Compile(q)
			assert.NoError(t, err)
			got[i] = pq
		}(i, q)
	}
	wg.Wait()

	assert.Equal(t, 1, c.CacheLen())
	for i, pq := range got {
		require.NotNil(t, pq)
		assert.Same(t, got[0].Query, pq.Query)
		assert.Equal(t, []any{int64(i)}, pq.Values)
	}
}
