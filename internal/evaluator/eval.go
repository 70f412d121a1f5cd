package evaluator

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/value"
)

var (
	// ErrNotEvaluable is returned for nodes that only make sense after
	// translation (lambdas, query sources, parameters of a lambda).
	ErrNotEvaluable = errors.New("expression cannot be evaluated")
	// ErrUnboundColumn is returned when a row reference is evaluated without
	// a row.
	ErrUnboundColumn = errors.New("no row bound")
	// ErrUnboundParameter is returned when a QueryParam slot has no value.
	ErrUnboundParameter = errors.New("query parameter not bound")
	// ErrNoElements is returned when a required aggregate result is null
	// because its input had no elements.
	ErrNoElements = errors.New("sequence contains no elements")
)

// Env resolves the runtime references of an expression.
type Env interface {
	Column(index int) (any, error)
	Outer(corr *expr.Correlation, index int) (any, error)
	Param(slot int) (any, error)
}

// RowEnv is the Env used by the executor and the materializer.
type RowEnv struct {
	Row    []any
	Outers map[*expr.Correlation][]any
	Params []any
}

// Column implements Env.
func (e *RowEnv) Column(index int) (any, error) {
	if e == nil || index < 0 || index >= len(e.Row) {
		return nil, fmt.Errorf("%w: column %d", ErrUnboundColumn, index)
	}
	return e.Row[index], nil
}

// Outer implements Env.
func (e *RowEnv) Outer(corr *expr.Correlation, index int) (any, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnboundColumn, corr)
	}
	row, ok := e.Outers[corr]
	if !ok || index < 0 || index >= len(row) {
		return nil, fmt.Errorf("%w: %s#%d", ErrUnboundColumn, corr, index)
	}
	return row[index], nil
}

// Param implements Env.
func (e *RowEnv) Param(slot int) (any, error) {
	if e == nil || slot < 0 || slot >= len(e.Params) {
		return nil, fmt.Errorf("%w: $%d", ErrUnboundParameter, slot)
	}
	return e.Params[slot], nil
}

// WithRow returns a copy of e reading columns from row.
func (e *RowEnv) WithRow(row []any) *RowEnv {
	if e == nil {
		return &RowEnv{Row: row}
	}
	c := *e
	c.Row = row
	return &c
}

// WithOuter returns a copy of e with corr bound to row.
func (e *RowEnv) WithOuter(corr *expr.Correlation, row []any) *RowEnv {
	c := &RowEnv{}
	if e != nil {
		*c = *e
	}
	outers := make(map[*expr.Correlation][]any, len(c.Outers)+1)
	for k, v := range c.Outers {
		outers[k] = v
	}
	outers[corr] = row
	c.Outers = outers
	return c
}

// Eval interprets n against env. env may be nil for closed expressions.
func Eval(n expr.Node, env Env) (any, error) {
	if env == nil {
		env = (*RowEnv)(nil)
	}
	switch t := n.(type) {
	case *expr.Constant:
		return value.Normalize(t.Value), nil
	case *expr.Captured:
		return value.Normalize(t.Cell.Get()), nil
	case *expr.QueryParam:
		return env.Param(t.Slot)
	case *expr.Column:
		return env.Column(t.Index)
	case *expr.OuterColumn:
		return env.Outer(t.Corr, t.Index)
	case *expr.Member:
		obj, err := Eval(t.Object, env)
		if err != nil {
			return nil, err
		}
		return value.GetMember(obj, t.Name)
	case *expr.Binary:
		return evalBinary(t, env)
	case *expr.Unary:
		return evalUnary(t, env)
	case *expr.Conditional:
		test, err := Eval(t.Test, env)
		if err != nil {
			return nil, err
		}
		if value.Truthy(test) {
			return Eval(t.IfTrue, env)
		}
		return Eval(t.IfFalse, env)
	case *expr.New:
		vals := make([]any, len(t.Args))
		for i, a := range t.Args {
			v, err := Eval(a, env)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		return value.NewRecord(t.Names, vals), nil
	case *expr.Call:
		return evalCall(t, env)
	}
	return nil, fmt.Errorf("%w: %T", ErrNotEvaluable, n)
}

func evalBinary(b *expr.Binary, env Env) (any, error) {
	left, err := Eval(b.Left, env)
	if err != nil {
		return nil, err
	}
	switch b.Op {
	case expr.OpAnd:
		if !value.Truthy(left) {
			return false, nil
		}
		right, err := Eval(b.Right, env)
		if err != nil {
			return nil, err
		}
		return value.Truthy(right), nil
	case expr.OpOr:
		if value.Truthy(left) {
			return true, nil
		}
		right, err := Eval(b.Right, env)
		if err != nil {
			return nil, err
		}
		return value.Truthy(right), nil
	case expr.OpCoalesce:
		if left != nil {
			return left, nil
		}
		return Eval(b.Right, env)
	}

	right, err := Eval(b.Right, env)
	if err != nil {
		return nil, err
	}
	switch b.Op {
	case expr.OpEq:
		return value.Equal(left, right), nil
	case expr.OpNe:
		return !value.Equal(left, right), nil
	case expr.OpLt, expr.OpLe, expr.OpGt, expr.OpGe:
		if left == nil || right == nil {
			return false, nil
		}
		c, err := value.Compare(left, right)
		if err != nil {
			return nil, err
		}
		switch b.Op {
		case expr.OpLt:
			return c < 0, nil
		case expr.OpLe:
			return c <= 0, nil
		case expr.OpGt:
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	case expr.OpAdd:
		return value.Arith(value.Add, left, right)
	case expr.OpSub:
		return value.Arith(value.Sub, left, right)
	case expr.OpMul:
		return value.Arith(value.Mul, left, right)
	case expr.OpDiv:
		return value.Arith(value.Div, left, right)
	case expr.OpMod:
		return value.Arith(value.Mod, left, right)
	}
	return nil, fmt.Errorf("%w: operator %s", ErrNotEvaluable, b.Op)
}

func evalUnary(u *expr.Unary, env Env) (any, error) {
	v, err := Eval(u.Operand, env)
	if err != nil {
		return nil, err
	}
	switch u.Op {
	case expr.OpNot:
		if v == nil {
			return nil, nil
		}
		return !value.Truthy(v), nil
	case expr.OpNegate:
		return value.Negate(v)
	case expr.OpConvert:
		if vt, ok := u.T.ValueType(); ok {
			return value.Convert(v, vt)
		}
		return v, nil
	case expr.OpRequire:
		if v == nil {
			return nil, ErrNoElements
		}
		return v, nil
	}
	return nil, fmt.Errorf("%w: operator %s", ErrNotEvaluable, u.Op)
}

func evalCall(c *expr.Call, env Env) (any, error) {
	switch c.Method.Set {
	case expr.Strings:
		return evalStringCall(c, env)
	case expr.Math:
		return evalMathCall(c, env)
	case expr.Enumerable:
		if c.Method.Name == expr.MethodContains && len(c.Args) == 2 {
			return evalInList(c, env)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotEvaluable, c.Method)
}

func evalStringCall(c *expr.Call, env Env) (any, error) {
	recv, err := Eval(c.Object, env)
	if err != nil {
		return nil, err
	}
	if recv == nil {
		return nil, nil
	}
	s, ok := recv.(string)
	if !ok {
		return nil, fmt.Errorf("%s on %T", c.Method, recv)
	}
	switch c.Method.Name {
	case expr.MethodToUpper:
		return strings.ToUpper(s), nil
	case expr.MethodToLower:
		return strings.ToLower(s), nil
	case expr.MethodTrim:
		return strings.TrimSpace(s), nil
	}
	if len(c.Args) != 1 {
		return nil, fmt.Errorf("%s expects one argument", c.Method)
	}
	arg, err := Eval(c.Args[0], env)
	if err != nil {
		return nil, err
	}
	sub, ok := arg.(string)
	if !ok {
		return nil, nil
	}
	switch c.Method.Name {
	case expr.MethodContains:
		return strings.Contains(s, sub), nil
	case expr.MethodStartsWith:
		return strings.HasPrefix(s, sub), nil
	case expr.MethodEndsWith:
		return strings.HasSuffix(s, sub), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotEvaluable, c.Method)
}

func evalMathCall(c *expr.Call, env Env) (any, error) {
	if len(c.Args) != 1 {
		return nil, fmt.Errorf("%s expects one argument", c.Method)
	}
	v, err := Eval(c.Args[0], env)
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case nil:
		return nil, nil
	case int64:
		if c.Method.Name == expr.MethodAbs && x < 0 {
			return -x, nil
		}
		return x, nil
	case float64:
		switch c.Method.Name {
		case expr.MethodAbs:
			return math.Abs(x), nil
		case expr.MethodRound:
			return math.RoundToEven(x), nil
		case expr.MethodFloor:
			return math.Floor(x), nil
		case expr.MethodCeiling:
			return math.Ceil(x), nil
		}
	case decimal.Decimal:
		switch c.Method.Name {
		case expr.MethodAbs:
			return x.Abs(), nil
		case expr.MethodRound:
			return x.RoundBank(0), nil
		case expr.MethodFloor:
			return x.Floor(), nil
		case expr.MethodCeiling:
			return x.Ceil(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s on %T", ErrNotEvaluable, c.Method, v)
}

func evalInList(c *expr.Call, env Env) (any, error) {
	list, err := Eval(c.Args[0], env)
	if err != nil {
		return nil, err
	}
	item, err := Eval(c.Args[1], env)
	if err != nil {
		return nil, err
	}
	items, err := AsSlice(list)
	if err != nil {
		return nil, err
	}
	for _, v := range items {
		if value.Equal(v, item) {
			return true, nil
		}
	}
	return false, nil
}

// AsSlice converts any Go slice or array into normalized values.
func AsSlice(v any) ([]any, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.([]any); ok {
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = value.Normalize(e)
		}
		return out, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%T is not a sequence", v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = value.Normalize(rv.Index(i).Interface())
	}
	return out, nil
}
