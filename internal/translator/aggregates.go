package translator

import (
	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/rse"
	"github.com/roach88/quill/internal/value"
)

// visitGroupBy groups the source by its key columns. Each group's elements
// are the source rows whose key columns equal the group row's, read through
// a correlated subquery.
func (t *translator) visitGroupBy(ctx Context, call *expr.Call) (*Projection, Context, error) {
	src, err := sourceArg(call)
	if err != nil {
		return nil, ctx, err
	}
	proj, ctx, err := t.visitSequence(ctx, src)
	if err != nil {
		return nil, ctx, err
	}
	keySel, err := lambdaArg(call, 1, 1)
	if err != nil {
		return nil, ctx, err
	}
	var elemSel, resultSel *expr.Lambda
	for i := 2; i < len(call.Args); i++ {
		lam, ok := expr.Unquote(call.Args[i])
		if !ok {
			return nil, ctx, argumentError(call.Args[i], "GroupBy argument %d is not a lambda", i)
		}
		switch {
		case len(lam.Params) == 1 && elemSel == nil && resultSel == nil:
			elemSel = lam
		case len(lam.Params) == 2 && resultSel == nil:
			resultSel = lam
		default:
			return nil, ctx, unsupported(lam, "GroupBy selector with %d parameters", len(lam.Params))
		}
	}

	s, ctx := ctx.open(proj)
	key, kctx, err := t.visitScalar(ctx.bindProjection(s, keySel.Params[0], proj).valueMode(), keySel.Body)
	if err != nil {
		return nil, ctx, err
	}
	ctx = ctx.restore(kctx)
	if expr.Any(key, func(n expr.Node) bool {
		switch n.(type) {
		case *expr.SubQuery, *expr.GroupingItem, *expr.Outer:
			return true
		}
		return false
	}) {
		return nil, ctx, unsupported(keySel.Body, "grouping key holds a sequence or an outer value")
	}
	key, ctx = t.calculateItem(ctx, s, key)

	elem := proj.Item()
	elemType := proj.Type.ElementType()
	if elemSel != nil {
		ectx := ctx.bindProjection(s, elemSel.Params[0], proj).inProjection()
		elem, ectx, err = t.visitScalar(ectx, elemSel.Body)
		if err != nil {
			return nil, ctx, err
		}
		ctx = ctx.restore(ectx)
		elem, ctx = t.calculateItem(ctx, s, elem)
		elemType = elemSel.Body.Type()
	}

	r := ctx.row(s)
	keyCols := GetColumns(key, Distinct)
	agg := rse.NewAggregate(r.source, keyCols, nil)
	positions := make(map[int]int, len(keyCols))
	for i, c := range keyCols {
		positions[c] = i
	}
	groupKey, err := RemapItem(key, positions)
	if err != nil {
		return nil, ctx, err
	}

	gcorr := t.newCorr()
	srcCols := r.source.Header().Columns
	preds := make([]expr.Node, len(keyCols))
	for i, c := range keyCols {
		preds[i] = expr.Eq(
			&expr.Column{Index: c, Name: srcCols[c].Name, T: srcCols[c].Type},
			&expr.OuterColumn{Corr: gcorr, Index: i, T: srcCols[c].Type},
		)
	}
	elements := &expr.SubQuery{
		Relation:  rse.NewFilter(r.source, expr.And(preds...)),
		Projector: elem,
		Corr:      gcorr,
		T:         expr.EnumerableOf(elemType),
	}
	grouping := &expr.GroupingItem{
		Key:      groupKey,
		Elements: elements,
		T:        expr.GroupingOf(keySel.Body.Type(), elemType),
	}
	out := &Projection{
		Type:      sequenceOf(proj.Type, grouping.T),
		Projector: ItemProjector{Item: grouping, DataSource: agg},
		group:     &groupState{agg: agg, elem: elem, mapping: r.mapping},
	}
	if resultSel == nil {
		return out, ctx, nil
	}

	rs, ctx := ctx.open(out)
	rctx := ctx.bind(rs, resultSel.Params[:1], []expr.Node{groupKey})
	rctx = rctx.bindProjection(rs, resultSel.Params[1], out).inProjection()
	item, rctx, err := t.visitScalar(rctx, resultSel.Body)
	if err != nil {
		return nil, ctx, err
	}
	ctx = ctx.restore(rctx)
	item, ctx = t.calculateItem(ctx, rs, item)
	rr := ctx.row(rs)
	return &Projection{
		Type:      sequenceOf(proj.Type, resultSel.Body.Type()),
		Projector: ItemProjector{Item: item, DataSource: rr.source},
		Mapping:   rr.mapping,
	}, ctx, nil
}

// terminal is a translated terminal operator.
type terminal struct {
	source rse.Provider
	item   expr.Node
	kind   ResultKind
	agg    rse.AggregateFunc
	typ    *expr.Type
}

var aggregateFuncs = map[string]rse.AggregateFunc{
	expr.MethodCount:     rse.Count,
	expr.MethodLongCount: rse.Count,
	expr.MethodSum:       rse.Sum,
	expr.MethodMin:       rse.Min,
	expr.MethodMax:       rse.Max,
	expr.MethodAverage:   rse.Avg,
}

var elementKinds = map[string]ResultKind{
	expr.MethodFirst:           ResultFirst,
	expr.MethodFirstOrDefault:  ResultFirstOrDefault,
	expr.MethodSingle:          ResultSingle,
	expr.MethodSingleOrDefault: ResultSingleOrDefault,
}

// buildTerminal translates a terminal operator over its source sequence.
func (t *translator) buildTerminal(ctx Context, call *expr.Call) (*terminal, Context, error) {
	src, err := sourceArg(call)
	if err != nil {
		return nil, ctx, err
	}
	proj, ctx, err := t.visitSequence(ctx, src)
	if err != nil {
		return nil, ctx, err
	}
	name := call.Method.Name

	if fn, ok := aggregateFuncs[name]; ok {
		if fn == rse.Count {
			if proj, ctx, err = t.optionalWhere(ctx, proj, call); err != nil {
				return nil, ctx, err
			}
			agg := rse.NewAggregate(proj.Source(), nil, []rse.AggregateColumn{{Func: rse.Count, Column: -1}})
			return &terminal{source: agg, item: &expr.Column{Index: 0, T: expr.Int}, kind: ResultScalar, agg: rse.Count, typ: expr.Int}, ctx, nil
		}
		selector, err := optionalLambda(call, 1, 1)
		if err != nil {
			return nil, ctx, err
		}
		s, sctx := ctx.open(proj)
		col, sctx, err := t.aggregateInput(sctx, s, proj, selector, fn, call)
		if err != nil {
			return nil, ctx, err
		}
		ctx = ctx.restore(sctx)
		agg := rse.NewAggregate(ctx.source(s), nil, []rse.AggregateColumn{{Func: fn, Column: col}})
		col0 := agg.Header().Columns[0].Type
		// The header of Min/Max/Avg is always nullable; the call's own type
		// keeps the selector's nullability, which decides between null and
		// EMPTY_SEQUENCE over an empty source.
		typ := col0
		if ct := call.Type(); ct != nil {
			typ = ct
		}
		return &terminal{source: agg, item: &expr.Column{Index: 0, T: col0}, kind: ResultScalar, agg: fn, typ: typ}, ctx, nil
	}

	switch name {
	case expr.MethodAny:
		if proj, ctx, err = t.optionalWhere(ctx, proj, call); err != nil {
			return nil, ctx, err
		}
		return &terminal{source: rse.NewExistence(proj.Source(), ""), item: &expr.Column{Index: 0, T: expr.Bool}, kind: ResultScalar, typ: expr.Bool}, ctx, nil

	case expr.MethodAll:
		lam, err := lambdaArg(call, 1, 1)
		if err != nil {
			return nil, ctx, err
		}
		negated := &expr.Lambda{Params: lam.Params, Body: expr.Not(lam.Body)}
		if proj, ctx, err = t.where(ctx, proj, negated); err != nil {
			return nil, ctx, err
		}
		return &terminal{source: rse.NewExistence(proj.Source(), ""), item: expr.Not(&expr.Column{Index: 0, T: expr.Bool}), kind: ResultScalar, typ: expr.Bool}, ctx, nil

	case expr.MethodContains:
		if len(call.Args) != 2 {
			return nil, ctx, argumentError(call, "Contains needs a value")
		}
		s, vctx := ctx.open(proj)
		vctx.scope = s
		needle, vctx, err := t.visitScalar(vctx.keyMode(), call.Args[1])
		if err != nil {
			return nil, ctx, err
		}
		ctx = ctx.restore(vctx)
		pred, err := t.compareItems(call, proj.Item(), needle)
		if err != nil {
			return nil, ctx, err
		}
		exists := rse.NewExistence(rse.NewFilter(ctx.source(s), pred), "")
		return &terminal{source: exists, item: &expr.Column{Index: 0, T: expr.Bool}, kind: ResultScalar, typ: expr.Bool}, ctx, nil
	}

	if kind, ok := elementKinds[name]; ok {
		if proj, ctx, err = t.optionalWhere(ctx, proj, call); err != nil {
			return nil, ctx, err
		}
		limit := int64(1)
		if kind == ResultSingle || kind == ResultSingleOrDefault {
			limit = 2
		}
		typ := proj.Type.ElementType()
		if typ == nil {
			typ = expr.Unknown
		}
		return &terminal{
			source: rse.NewTake(proj.Source(), expr.Const(limit)),
			item:   proj.Item(),
			kind:   kind,
			typ:    typ,
		}, ctx, nil
	}
	return nil, ctx, unsupported(call, "terminal %s", name)
}

// optionalWhere applies the predicate overload of a terminal operator.
func (t *translator) optionalWhere(ctx Context, proj *Projection, call *expr.Call) (*Projection, Context, error) {
	lam, err := optionalLambda(call, 1, 1)
	if err != nil || lam == nil {
		return proj, ctx, err
	}
	return t.where(ctx, proj, lam)
}

// aggregateInput returns the column of s that fn aggregates. Average reads
// a widened copy of the value.
func (t *translator) aggregateInput(ctx Context, s *scope, proj *Projection, selector *expr.Lambda, fn rse.AggregateFunc, call *expr.Call) (int, Context, error) {
	input := proj.Item()
	if selector != nil {
		sctx := ctx.bindProjection(s, selector.Params[0], proj).valueMode()
		var err error
		input, sctx, err = t.visitScalar(sctx, selector.Body)
		if err != nil {
			return 0, ctx, err
		}
		ctx = ctx.restore(sctx)
	}
	if !isScalar(input) {
		return 0, ctx, unsupported(call, "%s over a composite value", call.Method.Name)
	}
	col, ok := input.(*expr.Column)
	if !ok {
		col, ctx = t.calculate(ctx, s, input)
	}
	if fn != rse.Avg {
		return col.Index, ctx, nil
	}
	target := expr.Float
	if col.T != nil && col.T.Kind == expr.TypeDecimal {
		target = expr.Decimal
	}
	widened, ctx := t.calculate(ctx, s, expr.Convert(col, nullableIf(target, col.T != nil && col.T.Nullable)))
	return widened.Index, ctx, nil
}

// visitNestedTerminal translates a terminal operator inside a lambda body.
// Aggregates over the elements of a group fuse into the group's Aggregate;
// everything else becomes a correlated Apply on the current scope. The
// returned Context holds the extended row.
func (t *translator) visitNestedTerminal(ctx Context, call *expr.Call) (expr.Node, Context, error) {
	if item, fctx, ok, err := t.tryFuse(ctx, call); ok || err != nil {
		return item, fctx, err
	}
	if ctx.scope == nil {
		return nil, ctx, unsupported(call, "%s without an enclosing row", call.Method.Name)
	}
	corr := t.newCorr()
	term, inner, err := t.buildTerminal(ctx.enter(corr), call)
	if err != nil {
		return nil, ctx, err
	}
	ctx = ctx.restore(inner)

	seq := rse.SequenceSingle
	if term.kind == ResultFirst || term.kind == ResultFirstOrDefault {
		seq = rse.SequenceFirst
	}
	outer := term.kind == ResultFirstOrDefault || term.kind == ResultSingleOrDefault
	left := ctx.source(ctx.scope)
	width := left.Width()
	ctx = ctx.withSource(ctx.scope, rse.NewApply(left, term.source, corr, outer, seq))

	item := unlift(ShiftItem(term.item, width), corr)
	if outer {
		item = asNullable(item)
	}
	switch term.agg {
	case rse.Sum:
		zero := expr.Const(zeroOf(term.typ))
		item = &expr.Binary{Op: expr.OpCoalesce, Left: item, Right: zero, T: term.typ}
	case rse.Min, rse.Max, rse.Avg:
		if !term.typ.Nullable {
			item = expr.Require(item, term.typ)
		}
	}
	t.logger.Debug("correlated apply",
		"operator", call.Method.Name,
		"corr", corr.String(),
		"sequence", seq.String(),
		"outer", outer,
	)
	return item, ctx, nil
}

// tryFuse adds an aggregate over a group's elements as a column of the
// group's Aggregate. It applies only while the grouping row is still the
// bare Aggregate output. The returned Context holds the widened Aggregate
// as the grouping row.
func (t *translator) tryFuse(ctx Context, call *expr.Call) (expr.Node, Context, bool, error) {
	fn, ok := aggregateFuncs[call.Method.Name]
	if !ok || len(call.Args) == 0 {
		return nil, ctx, false, nil
	}
	param, ok := call.Args[0].(*expr.Parameter)
	if !ok {
		return nil, ctx, false, nil
	}
	b := ctx.lookup(param)
	if b == nil || !b.grouping || b.scope.depth != ctx.depth {
		return nil, ctx, false, nil
	}
	gr := ctx.row(b.scope)
	gs := gr.group
	if gs == nil || gr.source != rse.Provider(gs.agg) {
		return nil, ctx, false, nil
	}
	if fn == rse.Count && len(call.Args) > 1 {
		return nil, ctx, false, nil
	}

	es, ectx := ctx.openRow(row{source: gs.agg.Source, mapping: gs.mapping})
	column := -1
	if fn != rse.Count {
		selector, err := optionalLambda(call, 1, 1)
		if err != nil {
			return nil, ctx, true, err
		}
		elems := &Projection{Projector: ItemProjector{Item: gs.elem, DataSource: gs.agg.Source}, Mapping: gs.mapping}
		column, ectx, err = t.aggregateInput(ectx, es, elems, selector, fn, call)
		if err != nil {
			return nil, ctx, true, err
		}
	}

	er := ectx.row(es)
	aggs := append(append([]rse.AggregateColumn(nil), gs.agg.Aggregates...), rse.AggregateColumn{Func: fn, Column: column})
	next := rse.NewAggregate(er.source, gs.agg.Group, aggs)
	ctx = ctx.restore(ectx).withRow(b.scope, row{
		source:  next,
		mapping: gr.mapping,
		group:   &groupState{agg: next, elem: gs.elem, mapping: er.mapping},
	})

	idx := next.Width() - 1
	col := next.Header().Columns[idx]
	return &expr.Column{Index: idx, Name: col.Name, T: col.Type}, ctx, true, nil
}

func asNullable(item expr.Node) expr.Node {
	switch v := item.(type) {
	case *expr.EntityItem:
		cp := *v
		cp.T = v.T.AsNullable()
		return &cp
	case *expr.Column:
		cp := *v
		cp.T = v.T.AsNullable()
		return &cp
	}
	return item
}

func zeroOf(t *expr.Type) any {
	if vt, ok := t.ValueType(); ok {
		return value.Zero(vt)
	}
	return int64(0)
}
