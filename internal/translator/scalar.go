package translator

import (
	"fmt"

	"github.com/roach88/quill/internal/evaluator"
	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/model"
	"github.com/roach88/quill/internal/rse"
)

// visitScalar translates a lambda body (or part of one) into a row template
// over the current scope. The returned Context holds the rows extended by
// joins and applies the body needed.
func (t *translator) visitScalar(ctx Context, n expr.Node) (expr.Node, Context, error) {
	switch s := n.(type) {
	case nil:
		return nil, ctx, argumentError(nil, "missing expression")
	case *expr.Constant, *expr.QueryParam, *expr.Captured:
		return n, ctx, nil
	case *expr.Parameter:
		b := ctx.lookup(s)
		if b == nil {
			return nil, ctx, argumentError(n, "parameter %s is not in scope", s.Name)
		}
		item, err := t.liftFor(ctx, b.scope, b.item, n)
		return item, ctx, err
	case *expr.Member:
		return t.visitMember(ctx, s)
	case *expr.Lambda:
		return nil, ctx, argumentError(n, "unexpected lambda")
	case *expr.Source:
		return t.visitNestedSubquery(ctx, n)
	case *expr.Call:
		if expr.IsQueryOperator(s) {
			if isInList(s) {
				return t.visitChildren(ctx, n)
			}
			if isTerminal(s.Method.Name) {
				return t.visitNestedTerminal(ctx, s)
			}
			return t.visitNestedSubquery(ctx, n)
		}
		return t.visitChildren(ctx, n)
	case *expr.Binary:
		if (s.Op == expr.OpEq || s.Op == expr.OpNe) && (isIdentityType(s.Left.Type()) || isIdentityType(s.Right.Type())) {
			return t.visitIdentityComparison(ctx, s)
		}
		return t.visitChildren(ctx, n)
	case *expr.New:
		item, vctx, err := t.visitChildren(ctx.valueMode(), n)
		return item, ctx.restore(vctx), err
	}
	return t.visitChildren(ctx, n)
}

func (t *translator) visitChildren(ctx Context, n expr.Node) (expr.Node, Context, error) {
	children := expr.Children(n)
	if len(children) == 0 {
		return n, ctx, nil
	}
	next := make([]expr.Node, len(children))
	for i, c := range children {
		r, cctx, err := t.visitScalar(ctx, c)
		if err != nil {
			return nil, ctx, err
		}
		ctx = cctx
		next[i] = r
	}
	return expr.WithChildren(n, next), ctx, nil
}

// visitPredicate translates a filter body. The result must be a scalar row
// expression.
func (t *translator) visitPredicate(ctx Context, n expr.Node) (expr.Node, Context, error) {
	pred, ctx, err := t.visitScalar(ctx, n)
	if err != nil {
		return nil, ctx, err
	}
	if !isScalar(pred) {
		return nil, ctx, unsupported(n, "predicate reads a composite value")
	}
	return pred, ctx, nil
}

// isInList reports whether c tests membership in a list computed outside
// the query. It stays a row predicate.
func isInList(c *expr.Call) bool {
	if c.Method.Name != expr.MethodContains || len(c.Args) != 2 {
		return false
	}
	switch c.Args[0].(type) {
	case *expr.QueryParam, *expr.Constant, *expr.Captured:
		return true
	}
	return evaluator.CanBeEvaluated(c.Args[0])
}

func isIdentityType(t *expr.Type) bool {
	return t != nil && (t.Kind == expr.TypeEntity || t.Kind == expr.TypeKey || t.Kind == expr.TypeStructure)
}

// visitIdentityComparison compares entities by key and structures by
// value, part by part.
func (t *translator) visitIdentityComparison(ctx Context, b *expr.Binary) (expr.Node, Context, error) {
	kctx := ctx.keyMode()
	left, kctx, err := t.visitScalar(kctx, b.Left)
	if err != nil {
		return nil, ctx, err
	}
	right, kctx, err := t.visitScalar(kctx, b.Right)
	if err != nil {
		return nil, ctx, err
	}
	ctx = ctx.restore(kctx)
	pred, err := t.compareItems(b, left, right)
	return pred, ctx, err
}

func (t *translator) compareItems(n expr.Node, left, right expr.Node) (expr.Node, error) {
	op := expr.OpEq
	if b, ok := n.(*expr.Binary); ok {
		op = b.Op
	}
	lp, lnull, err := t.identityParts(left, n)
	if err != nil {
		return nil, err
	}
	rp, rnull, err := t.identityParts(right, n)
	if err != nil {
		return nil, err
	}
	var preds []expr.Node
	switch {
	case lnull && rnull:
		preds = []expr.Node{expr.Const(true)}
	case lnull:
		preds = nullChecks(rp)
	case rnull:
		preds = nullChecks(lp)
	default:
		if len(lp) != len(rp) {
			return nil, argumentError(n, "compared values have %d and %d key parts", len(lp), len(rp))
		}
		preds = make([]expr.Node, len(lp))
		for i := range lp {
			preds[i] = expr.Eq(lp[i], rp[i])
		}
	}
	pred := expr.And(preds...)
	if op == expr.OpNe {
		return expr.Not(pred), nil
	}
	return pred, nil
}

func nullChecks(parts []expr.Node) []expr.Node {
	out := make([]expr.Node, len(parts))
	for i, p := range parts {
		out[i] = expr.Eq(p, expr.Const(nil))
	}
	return out
}

// identityParts returns the scalar parts that identify an item: key
// columns for entities and keys, every column for structures. isNull is
// set for a null literal.
func (t *translator) identityParts(n expr.Node, at expr.Node) (parts []expr.Node, isNull bool, err error) {
	switch v := n.(type) {
	case *expr.EntityItem:
		key := v.Info.KeySegment()
		return columnsOf(v.Info, v.Columns[key.Offset:key.End()]), false, nil
	case *expr.KeyItem:
		return columnsOf(v.Info, v.Columns), false, nil
	case *expr.StructureItem:
		return columnsOf(v.Info, v.Columns), false, nil
	case *expr.Outer:
		inner, null, err := t.identityParts(v.Item, at)
		if err != nil {
			return nil, false, err
		}
		out := make([]expr.Node, len(inner))
		for i, p := range inner {
			out[i] = liftItem(p, v.Corr)
		}
		return out, null, nil
	case *expr.Constant:
		if v.Value == nil {
			return nil, true, nil
		}
	}
	typ := n.Type()
	if isScalar(n) && typ != nil && typ.Kind == expr.TypeEntity {
		info, ok := t.model.Type(typ.Name)
		if !ok {
			return nil, false, modelError(at, fmt.Errorf("unknown entity %q", typ.Name))
		}
		out := make([]expr.Node, len(info.KeyFields))
		for i, kf := range info.KeyFields {
			out[i] = &expr.Member{Object: n, Name: kf.Name, T: expr.PrimitiveOf(kf.ValueType)}
		}
		return out, false, nil
	}
	if isScalar(n) && typ != nil && typ.IsPrimitive() {
		return []expr.Node{n}, false, nil
	}
	return nil, false, unsupported(at, "cannot compare %s", expr.Format(n))
}

// columnsOf returns Column nodes for the leading columns of info's row
// layout, read from cols.
func columnsOf(info *model.TypeInfo, cols []int) []expr.Node {
	out := make([]expr.Node, len(cols))
	for i, c := range cols {
		var typ *expr.Type = expr.Unknown
		name := ""
		if i < len(info.Columns) {
			typ = columnType(info.Columns[i])
			name = info.Columns[i].Name
		}
		out[i] = &expr.Column{Index: c, Name: name, T: typ}
	}
	return out
}

// calculateItem moves computed scalar parts of a projection into Calculate
// columns of s, so the materializer only reads columns.
func (t *translator) calculateItem(ctx Context, s *scope, item expr.Node) (expr.Node, Context) {
	switch v := item.(type) {
	case *expr.New:
		args := make([]expr.Node, len(v.Args))
		for i, a := range v.Args {
			args[i], ctx = t.calculateItem(ctx, s, a)
		}
		cp := *v
		cp.Args = args
		return &cp, ctx
	case *expr.Column, *expr.OuterColumn, *expr.Constant, *expr.QueryParam, *expr.Captured:
		return item, ctx
	}
	if isItem(item) || !isScalar(item) || !readsRow(item) {
		return item, ctx
	}
	return t.calculate(ctx, s, item)
}

// calculate appends e as a column of s and returns a reference to it.
func (t *translator) calculate(ctx Context, s *scope, e expr.Node) (*expr.Column, Context) {
	name := fmt.Sprintf("c%d", t.calcs)
	t.calcs++
	col := rse.CalculatedColumn{Name: name, Type: e.Type(), Expr: e}
	src := ctx.source(s)
	if calc, ok := src.(*rse.Calculate); ok && maxColumn(e) < calc.Source.Width() {
		cols := append(append([]rse.CalculatedColumn(nil), calc.Columns...), col)
		src = rse.NewCalculate(calc.Source, cols)
	} else {
		src = rse.NewCalculate(src, []rse.CalculatedColumn{col})
	}
	return &expr.Column{Index: src.Width() - 1, Name: name, T: e.Type()}, ctx.withSource(s, src)
}

func maxColumn(e expr.Node) int {
	m := -1
	expr.Walk(e, func(n expr.Node) bool {
		if c, ok := n.(*expr.Column); ok && c.Index > m {
			m = c.Index
		}
		return true
	})
	return m
}

// keyColumns returns the columns of s that hold the parts of a key, sort
// or grouping item. Computed parts become Calculate columns.
func (t *translator) keyColumns(ctx Context, s *scope, item expr.Node, n expr.Node) ([]int, Context, error) {
	switch v := item.(type) {
	case *expr.Column:
		return []int{v.Index}, ctx, nil
	case *expr.EntityItem:
		key := v.Info.KeySegment()
		return append([]int(nil), v.Columns[key.Offset:key.End()]...), ctx, nil
	case *expr.KeyItem:
		return append([]int(nil), v.Columns...), ctx, nil
	case *expr.StructureItem:
		return append([]int(nil), v.Columns...), ctx, nil
	case *expr.New:
		var out []int
		for _, a := range v.Args {
			cols, actx, err := t.keyColumns(ctx, s, a, n)
			if err != nil {
				return nil, ctx, err
			}
			ctx = actx
			out = append(out, cols...)
		}
		return out, ctx, nil
	}
	if isItem(item) {
		return nil, ctx, unsupported(n, "key %s", expr.Format(item))
	}
	if !isScalar(item) {
		return nil, ctx, unsupported(n, "key reads a composite value")
	}
	col, ctx := t.calculate(ctx, s, item)
	return []int{col.Index}, ctx, nil
}
