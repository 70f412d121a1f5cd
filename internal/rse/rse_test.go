package rse

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quill/internal/evaluator"
	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/testutil"
)

func personIndex(t *testing.T) *Index {
	t.Helper()
	m := testutil.SampleModel()
	return NewIndex(m.MustType("Person").PrimaryIndex)
}

func col(i int, typ *expr.Type) *expr.Column { return &expr.Column{Index: i, T: typ} }

func TestHeaders(t *testing.T) {
	m := testutil.SampleModel()
	person := personIndex(t)
	company := NewIndex(m.MustType("Company").PrimaryIndex)

	assert.Equal(t, 9, person.Width())
	assert.Equal(t, "Name", person.Header().Columns[2].Name)

	alias := NewAlias(company, "a0")
	assert.Equal(t, "a0.Name", alias.Header().Columns[2].Name)

	join := NewJoin(person, alias, []JoinPair{{Left: 8, Right: 0}}, true)
	assert.Equal(t, KindLeftJoin, join.Kind())
	assert.Equal(t, 13, join.Width())
	assert.True(t, join.Header().Columns[9].Type.Nullable)
	assert.False(t, join.Header().Columns[0].Type.Nullable)

	sel := NewSelect(join, []int{2, 11})
	assert.Equal(t, []string{"Name", "a0.Name"}, []string{sel.Header().Columns[0].Name, sel.Header().Columns[1].Name})

	calc := NewCalculate(person, []CalculatedColumn{{Name: "c0", Type: expr.Int, Expr: col(3, expr.Int)}})
	assert.Equal(t, 10, calc.Width())

	agg := NewAggregate(person, []int{3}, []AggregateColumn{
		{Func: Sum, Column: 4},
		{Func: Count, Column: -1},
		{Func: Avg, Column: 3},
	})
	require.Equal(t, 4, agg.Width())
	assert.Equal(t, expr.TypeDecimal, agg.Header().Columns[1].Type.Kind)
	assert.Equal(t, expr.TypeInt, agg.Header().Columns[2].Type.Kind)
	assert.Equal(t, expr.TypeFloat, agg.Header().Columns[3].Type.Kind)
	assert.Equal(t, "Sum0", agg.Aggregates[0].Name)

	ex := NewExistence(person, "")
	assert.Equal(t, 1, ex.Width())
	assert.Equal(t, "exists", ex.Header().Columns[0].Name)

	ap := NewApply(person, company, &expr.Correlation{ID: 1}, true, SequenceFirst)
	assert.Equal(t, 13, ap.Width())
	assert.True(t, ap.Header().Columns[12].Type.Nullable)
}

func TestNewSetOp(t *testing.T) {
	person := personIndex(t)
	left := NewSelect(person, []int{2})
	right := NewSelect(person, []int{5})

	u, err := NewSetOp(KindUnion, left, right)
	require.NoError(t, err)
	assert.Equal(t, KindUnion, u.Kind())
	assert.Equal(t, 1, u.Width())

	_, err = NewSetOp(KindConcat, left, person)
	assert.ErrorIs(t, err, ErrWidthMismatch)

	_, err = NewSetOp(KindFilter, left, right)
	assert.Error(t, err)
}

func TestWithSources(t *testing.T) {
	person := personIndex(t)
	f := NewFilter(person, expr.NewBinary(expr.OpGt, col(3, expr.Int), expr.Const(30)))
	narrowed := NewSelect(person, []int{0, 3})

	rebuilt := WithSources(f, narrowed)
	assert.Equal(t, 2, rebuilt.Width())
	assert.Same(t, narrowed, rebuilt.Sources()[0])
	assert.Same(t, f.Predicate, rebuilt.(*Filter).Predicate)
}

func TestRewriteExprs(t *testing.T) {
	person := personIndex(t)
	f := NewFilter(person, expr.NewBinary(expr.OpGt, col(3, expr.Int), expr.Const(30)))
	take := NewTake(f, expr.Const(5))

	out, err := RewriteExprs(take, func(n expr.Node) (expr.Node, error) {
		return expr.ShiftColumns(n, 1), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Take 5\n  Filter (#4 > 30)\n    Index PK_Person\n", Describe(out))
	assert.Equal(t, "Filter (#3 > 30)", Label(f), "input is not mutated")
}

func TestLimitRows(t *testing.T) {
	person := personIndex(t)
	env := &evaluator.RowEnv{Params: []any{int64(2)}}

	take := NewTake(person, &expr.QueryParam{Slot: 0, T: expr.Int})
	n, err := take.Rows(env)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	skip := NewSkip(person, expr.Const(int64(-3)))
	n, err = skip.Rows(env)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "negative counts clamp to zero")

	rebuilt := WithSources(take, person).(*Take)
	n, err = rebuilt.Rows(&evaluator.RowEnv{Params: []any{int64(7)}})
	require.NoError(t, err)
	assert.Equal(t, 7, n, "a rebuilt provider compiles its own count")

	_, err = take.Rows(&evaluator.RowEnv{})
	assert.ErrorIs(t, err, evaluator.ErrUnboundParameter)
}

func TestOuterReferences(t *testing.T) {
	person := personIndex(t)
	corr := &expr.Correlation{ID: 1}
	other := &expr.Correlation{ID: 2}
	pred := expr.And(
		expr.Eq(col(7, expr.Int), &expr.OuterColumn{Corr: corr, Index: 0, T: expr.Int}),
		expr.Eq(col(2, expr.String), &expr.OuterColumn{Corr: other, Index: 4, T: expr.String}),
		expr.Eq(col(3, expr.Int), &expr.OuterColumn{Corr: corr, Index: 3, T: expr.Int}),
	)
	p := NewTake(NewFilter(person, pred), &expr.OuterColumn{Corr: corr, Index: 3, T: expr.Int})

	assert.Equal(t, []int{0, 3}, OuterReferences(p, corr))
	assert.Equal(t, []int{4}, OuterReferences(p, other))
	assert.Empty(t, OuterReferences(person, corr))
}

func TestValidate(t *testing.T) {
	person := personIndex(t)
	corr := &expr.Correlation{ID: 1}

	t.Run("valid plan", func(t *testing.T) {
		inner := NewFilter(person, expr.Eq(col(7, expr.Int), &expr.OuterColumn{Corr: corr, Index: 0, T: expr.Int}))
		p := NewApply(person, NewAggregate(inner, nil, []AggregateColumn{{Func: Count, Column: -1}}), corr, false, SequenceSingle)
		res := Validate(p)
		assert.True(t, res.Valid, res.Violations)
	})

	t.Run("column out of range", func(t *testing.T) {
		p := NewSort(NewSelect(person, []int{0, 1}), []Order{{Column: 5}})
		res := Validate(p)
		require.False(t, res.Valid)
		assert.Contains(t, res.Violations[0], "column 5 out of range")
	})

	t.Run("unbound correlation", func(t *testing.T) {
		p := NewFilter(person, expr.Eq(col(0, expr.Int), &expr.OuterColumn{Corr: corr, Index: 0, T: expr.Int}))
		assert.False(t, Validate(p).Valid)
		assert.True(t, Validate(p, corr).Valid)
	})

	t.Run("untranslated lambda parameter", func(t *testing.T) {
		param := &expr.Parameter{Name: "p", T: expr.EntityType("Person")}
		p := NewFilter(person, &expr.Member{Object: param, Name: "Age", T: expr.Int})
		res := Validate(p)
		require.False(t, res.Valid)
		assert.Contains(t, res.Violations[0], "untranslated p")
	})
}

func TestCountAndFind(t *testing.T) {
	person := personIndex(t)
	p := NewSelect(NewFilter(NewFilter(person, expr.Const(true)), expr.Const(false)), []int{0})
	assert.Equal(t, 2, CountKind(p, KindFilter))
	assert.Same(t, person, Find(p, KindIndex))
	assert.Nil(t, Find(p, KindJoin))
}

func TestRows(t *testing.T) {
	rows := RowsOf([]Tuple{{int64(1)}, {int64(2)}})
	got, err := Collect(rows)
	require.NoError(t, err)
	assert.Equal(t, []Tuple{{int64(1)}, {int64(2)}}, got)
	assert.False(t, rows.Next())
}

func TestDescribe_Golden(t *testing.T) {
	m := testutil.SampleModel()
	person := personIndex(t)
	company := NewAlias(NewIndex(m.MustType("Company").PrimaryIndex), "a0")
	corr := &expr.Correlation{ID: 1}

	join := NewJoin(person, company, []JoinPair{{Left: 8, Right: 0}}, false)
	filtered := NewFilter(join, expr.NewBinary(expr.OpGt, col(3, expr.Int), expr.Const(30)))
	pets := NewFilter(NewIndex(m.MustType("Pet").PrimaryIndex),
		expr.Eq(col(4, expr.Int), &expr.OuterColumn{Corr: corr, Index: 0, T: expr.Int}))
	counted := NewApply(filtered, NewAggregate(pets, nil, []AggregateColumn{{Func: Count, Column: -1}}), corr, false, SequenceSingle)
	sorted := NewSort(counted, []Order{{Column: 2}, {Column: 3, Descending: true}})
	plan := NewTake(NewSelect(sorted, []int{2, 11, 13}), &expr.QueryParam{Slot: 0, Name: "n", T: expr.Int})

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "describe_plan", []byte(Describe(plan)))
}
