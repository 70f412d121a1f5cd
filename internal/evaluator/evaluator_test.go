package evaluator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/value"
)

func member(obj expr.Node, name string, t *expr.Type) *expr.Member {
	return &expr.Member{Object: obj, Name: name, T: t}
}

func TestCanBeEvaluated(t *testing.T) {
	p := &expr.Parameter{Name: "p", T: expr.EntityType("Person")}
	minAge := &expr.Captured{Name: "minAge", Cell: expr.NewCell(30), T: expr.Int}
	src := &expr.Source{Entity: "Person", T: expr.QueryableOf(expr.EntityType("Person"))}

	tests := []struct {
		name string
		node expr.Node
		want bool
	}{
		{"literal", expr.Const(1), true},
		{"literal arithmetic", expr.NewBinary(expr.OpAdd, expr.Const(1), expr.Const(2)), true},
		{"captured", minAge, true},
		{"path", member(p, "Age", expr.Int), false},
		{"mixed", expr.NewBinary(expr.OpGt, member(p, "Age", expr.Int), minAge), false},
		{"queryable source", src, false},
		{"query operator", expr.NewCall(expr.Queryable, expr.MethodCount, expr.Int, nil, src), false},
		{"captured list membership", expr.NewCall(expr.Enumerable, expr.MethodContains, expr.Bool, nil,
			&expr.Captured{Name: "ids", Cell: expr.NewCell([]int{1, 2}), T: expr.EnumerableOf(expr.Int)}, expr.Const(1)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanBeEvaluated(tt.node))
		})
	}
}

func TestIsParameter(t *testing.T) {
	minAge := &expr.Captured{Name: "minAge", Cell: expr.NewCell(30), T: expr.Int}
	assert.True(t, IsParameter(minAge))
	assert.True(t, IsParameter(expr.NewBinary(expr.OpAdd, minAge, expr.Const(1))))
	assert.False(t, IsParameter(expr.Const(5)))
}

func TestExtractParameters(t *testing.T) {
	p := &expr.Parameter{Name: "p", T: expr.EntityType("Person")}
	cell := expr.NewCell(30)
	minAge := &expr.Captured{Name: "minAge", Cell: cell, T: expr.Int}
	body := expr.And(
		expr.NewBinary(expr.OpGt, member(p, "Age", expr.Int), minAge),
		expr.NewBinary(expr.OpLt, member(p, "Age", expr.Int), expr.NewBinary(expr.OpMul, expr.Const(10), expr.Const(10))),
	)
	lambda := &expr.Lambda{Params: []*expr.Parameter{p}, Body: body}

	x, err := ExtractParameters(lambda)
	require.NoError(t, err)
	assert.Equal(t, "p => ((p.Age > $0:minAge) && (p.Age < 100))", expr.Format(x.Root))
	require.Len(t, x.Bindings, 1)
	assert.Equal(t, "minAge", x.Bindings[0].Name)

	vals, err := x.Values()
	require.NoError(t, err)
	assert.Equal(t, []any{int64(30)}, vals)

	cell.Set(45)
	vals, err = x.Values()
	require.NoError(t, err)
	assert.Equal(t, []any{int64(45)}, vals, "bindings read the cell at execution time")
}

func TestExtractParameters_LiftsObjectLiterals(t *testing.T) {
	key := value.Key{Type: "Person", Values: []any{int64(1)}}
	n := expr.Eq(&expr.Parameter{Name: "p", T: expr.EntityType("Person")}, &expr.Constant{Value: key, T: expr.EntityType("Person")})

	x, err := ExtractParameters(n)
	require.NoError(t, err)
	require.Len(t, x.Bindings, 1)
	_, isParam := x.Root.(*expr.Binary).Right.(*expr.QueryParam)
	assert.True(t, isParam)
}

func TestEval(t *testing.T) {
	env := &RowEnv{Row: []any{int64(7), "Ann", nil, decimal.RequireFromString("2.5")}, Params: []any{int64(3)}}
	col := func(i int, t *expr.Type) *expr.Column { return &expr.Column{Index: i, T: t} }

	tests := []struct {
		name string
		node expr.Node
		want any
	}{
		{"arith", expr.NewBinary(expr.OpAdd, col(0, expr.Int), &expr.QueryParam{Slot: 0, T: expr.Int}), int64(10)},
		{"compare", expr.NewBinary(expr.OpGe, col(0, expr.Int), expr.Const(7)), true},
		{"compare with null", expr.NewBinary(expr.OpGt, col(2, expr.Int), expr.Const(1)), false},
		{"null equality", expr.Eq(col(2, expr.Int), expr.Const(nil)), true},
		{"coalesce", expr.NewBinary(expr.OpCoalesce, col(2, expr.String), expr.Const("none")), "none"},
		{"starts with", expr.NewCall(expr.Strings, expr.MethodStartsWith, expr.Bool, col(1, expr.String), expr.Const("A")), true},
		{"upper", expr.NewCall(expr.Strings, expr.MethodToUpper, expr.String, col(1, expr.String)), "ANN"},
		{"conditional", &expr.Conditional{Test: expr.Const(false), IfTrue: expr.Const(1), IfFalse: expr.Const(2), T: expr.Int}, int64(2)},
		{"convert", expr.Convert(col(0, expr.Int), expr.Float), 7.0},
		{"in list", expr.NewCall(expr.Enumerable, expr.MethodContains, expr.Bool, nil, expr.Const([]any{1, 7}), col(0, expr.Int)), true},
		{"length", member(col(1, expr.String), "Length", expr.Int), int64(3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Eval(tt.node, env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	got, err := Eval(expr.NewCall(expr.Math, expr.MethodFloor, expr.Decimal, nil, col(3, expr.Decimal)), env)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(2).Equal(got.(decimal.Decimal)))
}

func TestEval_Errors(t *testing.T) {
	_, err := Eval(&expr.Column{Index: 0, T: expr.Int}, nil)
	assert.ErrorIs(t, err, ErrUnboundColumn)

	_, err = Eval(&expr.QueryParam{Slot: 2, T: expr.Int}, &RowEnv{})
	assert.ErrorIs(t, err, ErrUnboundParameter)

	_, err = Eval(&expr.Parameter{Name: "p", T: expr.Int}, nil)
	assert.ErrorIs(t, err, ErrNotEvaluable)
}

func TestCompileCount(t *testing.T) {
	count := CompileCount(&expr.QueryParam{Slot: 0, T: expr.Int})
	n, err := count(&RowEnv{Params: []any{int64(-4)}})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = count(&RowEnv{Params: []any{int64(5)}})
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = count(&RowEnv{})
	assert.ErrorIs(t, err, ErrUnboundParameter)

	fixed := CompileCount(expr.Const(int64(3)))
	n, err = fixed(nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = CompileCount(expr.Const("three"))(nil)
	assert.Error(t, err)
}

func TestCompile(t *testing.T) {
	env := &RowEnv{Params: []any{"Fjord"}}

	v, err := Compile(expr.Const(int32(7)))(env)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v, "literals are normalized once")

	v, err = Compile(&expr.QueryParam{Slot: 0, T: expr.String})(env)
	require.NoError(t, err)
	assert.Equal(t, "Fjord", v)

	sum := expr.NewBinary(expr.OpAdd, &expr.QueryParam{Slot: 0, T: expr.Int}, expr.Const(int64(1)))
	v, err = Compile(sum)(&RowEnv{Params: []any{int64(4)}})
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
}
