package materializer

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quill/internal/evaluator"
	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/linq"
	"github.com/roach88/quill/internal/rse"
	"github.com/roach88/quill/internal/testutil"
	"github.com/roach88/quill/internal/translator"
	"github.com/roach88/quill/internal/value"
)

func compile(t *testing.T, root expr.Node) Materializer {
	t.Helper()
	res, err := translator.Translate(testutil.SampleModel(), root,
		translator.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	m, err := ForResult(res)
	require.NoError(t, err)
	return m
}

func people(n int) rse.Rows {
	rows := testutil.SampleRows()["Person"][:n]
	out := make([]rse.Tuple, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return rse.RowsOf(out)
}

func TestSingle_Cardinality(t *testing.T) {
	b := linq.New(testutil.SampleModel())
	single := compile(t, b.From("Person").Single().Node())
	orDefault := compile(t, b.From("Person").SingleOrDefault().Node())
	ctx := context.Background()

	_, err := single(ctx, people(2), nil)
	require.Error(t, err)
	assert.True(t, IsCardinality(err))

	got, err := single(ctx, people(1), nil)
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.(*value.Entity).Fields["Name"])

	_, err = single(ctx, people(0), nil)
	assert.True(t, IsEmptySequence(err))

	got, err = orDefault(ctx, people(0), nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = orDefault(ctx, people(2), nil)
	assert.True(t, IsCardinality(err))
}

func TestFirst(t *testing.T) {
	b := linq.New(testutil.SampleModel())
	first := compile(t, b.From("Person").First().Node())
	ctx := context.Background()

	got, err := first(ctx, people(1), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(41), got.(*value.Entity).Fields["Age"])

	_, err = first(ctx, people(0), nil)
	assert.True(t, IsEmptySequence(err))
	assert.Contains(t, err.Error(), "EMPTY_SEQUENCE")
}

func TestEntityFields(t *testing.T) {
	b := linq.New(testutil.SampleModel())
	seq := compile(t, b.From("Person").Node())
	got, err := seq(context.Background(), people(2), nil)
	require.NoError(t, err)
	all := got.([]any)
	require.Len(t, all, 2)

	ann := all[0].(*value.Entity)
	assert.Equal(t, "Person", ann.Type)
	assert.Equal(t, value.Key{Type: "Person", Values: []any{int64(1)}}, ann.Key)
	assert.Equal(t, int64(1), ann.Fields["Id"])
	assert.Nil(t, ann.Fields["Manager"])
	assert.Equal(t, value.Key{Type: "Company", Values: []any{int64(10)}}, ann.Fields["Company"])
	addr := ann.Fields["Address"].(*value.Structure)
	assert.Equal(t, "Oslo", addr.Fields["City"])
	assert.NotContains(t, ann.Fields, "Pets")

	bob := all[1].(*value.Entity)
	assert.Equal(t, value.Key{Type: "Person", Values: []any{int64(1)}}, bob.Fields["Manager"])
}

func TestEmptyRowsYieldEmptySlice(t *testing.T) {
	b := linq.New(testutil.SampleModel())
	seq := compile(t, b.From("Person").Node())
	got, err := seq(context.Background(), people(0), nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestScalarAggregates(t *testing.T) {
	b := linq.New(testutil.SampleModel())
	salary := func(p linq.Expr) linq.Expr { return p.Get("Salary") }
	ctx := context.Background()
	empty := func() rse.Rows { return rse.RowsOf([]rse.Tuple{{nil}}) }

	sum := compile(t, b.From("Person").Sum(salary).Node())
	got, err := sum(ctx, empty(), nil)
	require.NoError(t, err)
	assert.True(t, decimal.Zero.Equal(got.(decimal.Decimal)))

	got, err = sum(ctx, rse.RowsOf([]rse.Tuple{{decimal.RequireFromString("12.5")}}), nil)
	require.NoError(t, err)
	assert.Equal(t, "12.5", got.(decimal.Decimal).String())

	for name, node := range map[string]expr.Node{
		"min":     b.From("Person").Min(salary).Node(),
		"max":     b.From("Person").Max(salary).Node(),
		"average": b.From("Person").Average(salary).Node(),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := compile(t, node)(ctx, empty(), nil)
			require.Error(t, err)
			assert.True(t, IsEmptySequence(err))
		})
	}

	count := compile(t, b.From("Person").Count().Node())
	got, err = count(ctx, rse.RowsOf([]rse.Tuple{{int64(4)}}), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got)
}

func TestRecordAndParams(t *testing.T) {
	item := expr.NewAnonymous([]string{"Name", "Limit"}, []expr.Node{
		&expr.Column{Index: 2, T: expr.String},
		&expr.QueryParam{Slot: 0, T: expr.Int},
	})
	m, err := Compile(translator.ItemProjector{Item: item}, translator.ResultSequence)
	require.NoError(t, err)

	got, err := m(context.Background(), people(1), &Env{Params: []any{int64(7)}})
	require.NoError(t, err)
	rec := got.([]any)[0].(*value.Record)
	assert.Equal(t, "{Name: Ann, Limit: 7}", rec.String())
}

// petsByOwner answers subqueries over Pet rows, filtering on the owner id
// bound to corr.
type petsByOwner struct {
	corr  *expr.Correlation
	calls int
}

func (p *petsByOwner) ExecuteSubquery(_ context.Context, _ rse.Provider, env *evaluator.RowEnv) (rse.Rows, error) {
	p.calls++
	owner, err := env.Outer(p.corr, 0)
	if err != nil {
		return nil, err
	}
	var out []rse.Tuple
	for _, r := range testutil.SampleRows()["Pet"] {
		if value.Equal(r[4], owner) {
			out = append(out, r)
		}
	}
	return rse.RowsOf(out), nil
}

func TestGroupingUsesSubqueryExecutor(t *testing.T) {
	m := testutil.SampleModel()
	corr := &expr.Correlation{ID: 1}
	pets := rse.NewIndex(m.MustType("Pet").PrimaryIndex)
	item := &expr.GroupingItem{
		Key: &expr.Column{Index: 2, T: expr.String},
		Elements: &expr.SubQuery{
			Relation: pets,
			Projector: expr.NewAnonymous([]string{"Pet", "Owner"}, []expr.Node{
				&expr.Column{Index: 2, T: expr.String},
				&expr.Outer{Corr: corr, Item: &expr.Column{Index: 2, T: expr.String}, T: expr.String},
			}),
			Corr: corr,
		},
	}
	mat, err := Compile(translator.ItemProjector{Item: item, DataSource: rse.NewIndex(m.MustType("Person").PrimaryIndex)}, translator.ResultSequence)
	require.NoError(t, err)

	exec := &petsByOwner{corr: corr}
	got, err := mat(context.Background(), people(2), &Env{Subqueries: exec})
	require.NoError(t, err)
	assert.Equal(t, 2, exec.calls)

	groups := got.([]any)
	ann := groups[0].(*value.Grouping)
	assert.Equal(t, "Ann", ann.Key)
	require.Len(t, ann.Items, 2)
	assert.Equal(t, "{Pet: Rex, Owner: Ann}", ann.Items[0].(*value.Record).String())
	assert.Empty(t, groups[1].(*value.Grouping).Items)

	_, err = mat(context.Background(), people(1), nil)
	assert.ErrorIs(t, err, ErrNoExecutor)
}

func TestCompile_RejectsCompositeInsideScalar(t *testing.T) {
	m := testutil.SampleModel()
	info := m.MustType("Person")
	item := expr.NewBinary(expr.OpEq, &expr.KeyItem{Info: info, Columns: []int{0}, T: expr.KeyType("Person")}, expr.Const(int64(1)))
	_, err := Compile(translator.ItemProjector{Item: item}, translator.ResultSequence)
	require.Error(t, err)
}
