package translator

import (
	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/memberpath"
	"github.com/roach88/quill/internal/rse"
)

func (t *translator) visitWhere(ctx Context, call *expr.Call) (*Projection, Context, error) {
	src, err := sourceArg(call)
	if err != nil {
		return nil, ctx, err
	}
	proj, ctx, err := t.visitSequence(ctx, src)
	if err != nil {
		return nil, ctx, err
	}
	lam, err := lambdaArg(call, 1, 1)
	if err != nil {
		return nil, ctx, err
	}
	return t.where(ctx, proj, lam)
}

// where filters proj by a one-parameter predicate. Joins injected by the
// predicate stay in the mapping so later operators reuse them.
func (t *translator) where(ctx Context, proj *Projection, lam *expr.Lambda) (*Projection, Context, error) {
	s, ctx := ctx.open(proj)
	pred, pctx, err := t.visitPredicate(ctx.bindProjection(s, lam.Params[0], proj), lam.Body)
	if err != nil {
		return nil, ctx, err
	}
	ctx = ctx.restore(pctx)
	r := ctx.row(s)
	return proj.with(rse.NewFilter(r.source, pred), r.mapping), ctx, nil
}

func (t *translator) visitSelect(ctx Context, call *expr.Call) (*Projection, Context, error) {
	src, err := sourceArg(call)
	if err != nil {
		return nil, ctx, err
	}
	proj, ctx, err := t.visitSequence(ctx, src)
	if err != nil {
		return nil, ctx, err
	}
	lam, err := lambdaArg(call, 1, 1)
	if err != nil {
		return nil, ctx, err
	}
	s, ctx := ctx.open(proj)
	item, pctx, err := t.visitScalar(ctx.bindProjection(s, lam.Params[0], proj).inProjection(), lam.Body)
	if err != nil {
		return nil, ctx, err
	}
	ctx = ctx.restore(pctx)
	item, ctx = t.calculateItem(ctx, s, item)
	r := ctx.row(s)
	return &Projection{
		Type:      sequenceOf(proj.Type, lam.Body.Type()),
		Projector: ItemProjector{Item: item, DataSource: r.source},
		Mapping:   r.mapping,
	}, ctx, nil
}

// visitSelectMany flattens a collection selected per element through a
// correlated cross Apply.
func (t *translator) visitSelectMany(ctx Context, call *expr.Call) (*Projection, Context, error) {
	src, err := sourceArg(call)
	if err != nil {
		return nil, ctx, err
	}
	proj, ctx, err := t.visitSequence(ctx, src)
	if err != nil {
		return nil, ctx, err
	}
	collection, err := lambdaArg(call, 1, 1)
	if err != nil {
		return nil, ctx, err
	}
	resultSel, err := optionalLambda(call, 2, 2)
	if err != nil {
		return nil, ctx, err
	}

	s, ctx := ctx.open(proj)
	corr := t.newCorr()
	inner := ctx.bindProjection(s, collection.Params[0], proj).enter(corr)
	innerProj, inner, err := t.visitSequence(inner, collection.Body)
	if err != nil {
		return nil, ctx, err
	}
	ctx = ctx.restore(inner)
	left := ctx.source(s)
	width := left.Width()
	ctx = ctx.withSource(s, rse.NewApply(left, innerProj.Source(), corr, false, rse.SequenceAll))
	innerItem := unlift(ShiftItem(innerProj.Item(), width), corr)

	elemType := innerProj.Type.ElementType()
	item := innerItem
	if resultSel != nil {
		rctx := ctx.bind(s, resultSel.Params, []expr.Node{proj.Item(), innerItem}).inProjection()
		item, rctx, err = t.visitScalar(rctx, resultSel.Body)
		if err != nil {
			return nil, ctx, err
		}
		ctx = ctx.restore(rctx)
		item, ctx = t.calculateItem(ctx, s, item)
		elemType = resultSel.Body.Type()
	}
	r := ctx.row(s)
	return &Projection{
		Type:      sequenceOf(proj.Type, elemType),
		Projector: ItemProjector{Item: item, DataSource: r.source},
		Mapping:   r.mapping,
	}, ctx, nil
}

// joinKeys translates both key selectors of a join and returns the scopes
// of both sides with their paired key columns.
func (t *translator) joinKeys(ctx Context, call *expr.Call, outer, inner *Projection) (*scope, *scope, []int, []int, Context, error) {
	outerKey, err := lambdaArg(call, 2, 1)
	if err != nil {
		return nil, nil, nil, nil, ctx, err
	}
	innerKey, err := lambdaArg(call, 3, 1)
	if err != nil {
		return nil, nil, nil, nil, ctx, err
	}
	so, ctx := ctx.open(outer)
	oitem, kctx, err := t.visitScalar(ctx.bindProjection(so, outerKey.Params[0], outer).keyMode(), outerKey.Body)
	if err != nil {
		return nil, nil, nil, nil, ctx, err
	}
	ctx = ctx.restore(kctx)
	okeys, ctx, err := t.keyColumns(ctx, so, oitem, outerKey.Body)
	if err != nil {
		return nil, nil, nil, nil, ctx, err
	}
	si, ctx := ctx.open(inner)
	iitem, kctx, err := t.visitScalar(ctx.bindProjection(si, innerKey.Params[0], inner).keyMode(), innerKey.Body)
	if err != nil {
		return nil, nil, nil, nil, ctx, err
	}
	ctx = ctx.restore(kctx)
	ikeys, ctx, err := t.keyColumns(ctx, si, iitem, innerKey.Body)
	if err != nil {
		return nil, nil, nil, nil, ctx, err
	}
	if len(okeys) != len(ikeys) {
		return nil, nil, nil, nil, ctx, argumentError(call, "join keys have %d and %d parts", len(okeys), len(ikeys))
	}
	return so, si, okeys, ikeys, ctx, nil
}

func (t *translator) visitJoin(ctx Context, call *expr.Call) (*Projection, Context, error) {
	if len(call.Args) != 5 {
		return nil, ctx, argumentError(call, "Join takes outer, inner, two key selectors and a result selector")
	}
	outer, ctx, err := t.visitSequence(ctx, call.Args[0])
	if err != nil {
		return nil, ctx, err
	}
	inner, ctx, err := t.visitSequence(ctx, call.Args[1])
	if err != nil {
		return nil, ctx, err
	}
	so, si, okeys, ikeys, ctx, err := t.joinKeys(ctx, call, outer, inner)
	if err != nil {
		return nil, ctx, err
	}
	resultSel, err := lambdaArg(call, 4, 2)
	if err != nil {
		return nil, ctx, err
	}

	pairs := make([]rse.JoinPair, len(okeys))
	for i := range okeys {
		pairs[i] = rse.JoinPair{Left: okeys[i], Right: ikeys[i]}
	}
	left := ctx.row(so)
	width := left.source.Width()
	sj, ctx := ctx.openRow(row{source: rse.NewJoin(left.source, ctx.source(si), pairs, false), mapping: left.mapping})
	innerItem := ShiftItem(inner.Item(), width)

	rctx := ctx.bind(sj, resultSel.Params, []expr.Node{outer.Item(), innerItem}).inProjection()
	item, rctx, err := t.visitScalar(rctx, resultSel.Body)
	if err != nil {
		return nil, ctx, err
	}
	ctx = ctx.restore(rctx)
	item, ctx = t.calculateItem(ctx, sj, item)
	r := ctx.row(sj)
	return &Projection{
		Type:      sequenceOf(outer.Type, resultSel.Body.Type()),
		Projector: ItemProjector{Item: item, DataSource: r.source},
		Mapping:   r.mapping,
	}, ctx, nil
}

// visitGroupJoin pairs every outer element with the sequence of matching
// inner elements. The sequence is a subquery correlated with the outer row.
func (t *translator) visitGroupJoin(ctx Context, call *expr.Call) (*Projection, Context, error) {
	if len(call.Args) != 5 {
		return nil, ctx, argumentError(call, "GroupJoin takes outer, inner, two key selectors and a result selector")
	}
	outer, ctx, err := t.visitSequence(ctx, call.Args[0])
	if err != nil {
		return nil, ctx, err
	}
	inner, ctx, err := t.visitSequence(ctx, call.Args[1])
	if err != nil {
		return nil, ctx, err
	}
	so, si, okeys, ikeys, ctx, err := t.joinKeys(ctx, call, outer, inner)
	if err != nil {
		return nil, ctx, err
	}
	resultSel, err := lambdaArg(call, 4, 2)
	if err != nil {
		return nil, ctx, err
	}

	corr := t.newCorr()
	innerSrc := ctx.source(si)
	outerCols := ctx.source(so).Header().Columns
	innerCols := innerSrc.Header().Columns
	preds := make([]expr.Node, len(okeys))
	for i := range okeys {
		preds[i] = expr.Eq(
			&expr.Column{Index: ikeys[i], Name: innerCols[ikeys[i]].Name, T: innerCols[ikeys[i]].Type},
			&expr.OuterColumn{Corr: corr, Index: okeys[i], T: outerCols[okeys[i]].Type},
		)
	}
	elemType := inner.Type.ElementType()
	group := &expr.SubQuery{
		Relation:  rse.NewFilter(innerSrc, expr.And(preds...)),
		Projector: inner.Item(),
		Corr:      corr,
		T:         expr.EnumerableOf(elemType),
	}

	rctx := ctx.bind(so, resultSel.Params, []expr.Node{outer.Item(), group}).inProjection()
	item, rctx, err := t.visitScalar(rctx, resultSel.Body)
	if err != nil {
		return nil, ctx, err
	}
	ctx = ctx.restore(rctx)
	item, ctx = t.calculateItem(ctx, so, item)
	r := ctx.row(so)
	return &Projection{
		Type:      sequenceOf(outer.Type, resultSel.Body.Type()),
		Projector: ItemProjector{Item: item, DataSource: r.source},
		Mapping:   r.mapping,
	}, ctx, nil
}

func (t *translator) visitSort(ctx Context, call *expr.Call) (*Projection, Context, error) {
	src, err := sourceArg(call)
	if err != nil {
		return nil, ctx, err
	}
	proj, ctx, err := t.visitSequence(ctx, src)
	if err != nil {
		return nil, ctx, err
	}
	lam, err := lambdaArg(call, 1, 1)
	if err != nil {
		return nil, ctx, err
	}
	s, ctx := ctx.open(proj)
	key, kctx, err := t.visitScalar(ctx.bindProjection(s, lam.Params[0], proj).keyMode(), lam.Body)
	if err != nil {
		return nil, ctx, err
	}
	ctx = ctx.restore(kctx)
	cols, ctx, err := t.keyColumns(ctx, s, key, lam.Body)
	if err != nil {
		return nil, ctx, err
	}
	desc := call.Method.Name == expr.MethodOrderByDescending || call.Method.Name == expr.MethodThenByDescending
	order := make([]rse.Order, len(cols))
	for i, c := range cols {
		order[i] = rse.Order{Column: c, Descending: desc}
	}

	r := ctx.row(s)
	rest, prior, reindex, found := peelSort(r.source)
	switch call.Method.Name {
	case expr.MethodThenBy, expr.MethodThenByDescending:
		if !found {
			return nil, ctx, argumentError(call, "%s without a preceding OrderBy", call.Method.Name)
		}
		order = append(append([]rse.Order(nil), prior...), order...)
	default:
		reindex = dependsOnOrder(rest)
	}

	var sorted rse.Provider
	if reindex {
		sorted = rse.NewReindex(rest, order)
	} else {
		sorted = rse.NewSort(rest, order)
	}
	return proj.with(sorted, r.mapping), ctx, nil
}

// peelSort removes the most recent Sort or Reindex below row-preserving
// providers and returns its order. Those providers keep the sorted
// columns at their positions, so the order is valid on the result.
func peelSort(p rse.Provider) (rest rse.Provider, order []rse.Order, reindex, found bool) {
	switch v := p.(type) {
	case *rse.Sort:
		return v.Source, v.Order, false, true
	case *rse.Reindex:
		return v.Source, v.Order, true, true
	case *rse.Filter, *rse.Calculate, *rse.Alias:
		src, order, reindex, found := peelSort(p.Sources()[0])
		if !found {
			return p, nil, false, false
		}
		return rse.WithSources(p, src), order, reindex, true
	case *rse.Join:
		left, order, reindex, found := peelSort(v.Left)
		if !found {
			return p, nil, false, false
		}
		return rse.WithSources(p, left, v.Right), order, reindex, true
	case *rse.Apply:
		left, order, reindex, found := peelSort(v.Left)
		if !found {
			return p, nil, false, false
		}
		return rse.WithSources(p, left, v.Right), order, reindex, true
	}
	return p, nil, false, false
}

// dependsOnOrder reports whether a row limit under p makes its row set
// depend on an existing order.
func dependsOnOrder(p rse.Provider) bool {
	switch v := p.(type) {
	case *rse.Skip, *rse.Take:
		return true
	case *rse.Filter, *rse.Calculate, *rse.Alias, *rse.Select, *rse.Distinct:
		return dependsOnOrder(p.Sources()[0])
	case *rse.Join:
		return dependsOnOrder(v.Left)
	case *rse.Apply:
		return dependsOnOrder(v.Left)
	}
	return false
}

// visitLimit attaches Distinct, Skip or Take after narrowing the source to
// the columns the projection reads.
func (t *translator) visitLimit(ctx Context, call *expr.Call) (*Projection, Context, error) {
	src, err := sourceArg(call)
	if err != nil {
		return nil, ctx, err
	}
	proj, ctx, err := t.visitSequence(ctx, src)
	if err != nil {
		return nil, ctx, err
	}
	narrowed, item, err := narrow(proj.Source(), proj.Item())
	if err != nil {
		return nil, ctx, err
	}

	var out rse.Provider
	switch call.Method.Name {
	case expr.MethodDistinct:
		if len(call.Args) != 1 {
			return nil, ctx, unsupported(call, "Distinct with a comparer")
		}
		out = rse.NewDistinct(narrowed)
	default:
		if len(call.Args) != 2 {
			return nil, ctx, argumentError(call, "%s needs a count", call.Method.Name)
		}
		// The count binds no parameter, so it cannot read a row.
		cctx := Context{frames: ctx.frames, rows: ctx.rows, depth: ctx.depth}
		count, cctx, err := t.visitScalar(cctx, call.Args[1])
		if err != nil {
			return nil, ctx, err
		}
		ctx = ctx.restore(cctx)
		if readsRow(count) || !isScalar(count) {
			return nil, ctx, argumentError(call.Args[1], "%s count depends on the row", call.Method.Name)
		}
		if call.Method.Name == expr.MethodSkip {
			out = rse.NewSkip(narrowed, count)
		} else {
			out = rse.NewTake(narrowed, count)
		}
	}
	return &Projection{
		Type:      proj.Type,
		Projector: ItemProjector{Item: item, DataSource: out},
	}, ctx, nil
}

// narrow selects the columns item reads from src and remaps item onto the
// narrowed row. src is returned as is when item reads every column in order.
func narrow(src rse.Provider, item expr.Node) (rse.Provider, expr.Node, error) {
	cols := GetColumns(item, Distinct)
	if isIdentity(cols, src.Width()) {
		return src, item, nil
	}
	m := make(map[int]int, len(cols))
	for i, c := range cols {
		m[c] = i
	}
	remapped, err := RemapItem(item, m)
	if err != nil {
		return nil, nil, err
	}
	return rse.NewSelect(src, cols), remapped, nil
}

func isIdentity(cols []int, width int) bool {
	if len(cols) != width {
		return false
	}
	for i, c := range cols {
		if c != i {
			return false
		}
	}
	return true
}

var setKinds = map[string]rse.Kind{
	expr.MethodConcat:    rse.KindConcat,
	expr.MethodUnion:     rse.KindUnion,
	expr.MethodIntersect: rse.KindIntersect,
	expr.MethodExcept:    rse.KindExcept,
}

// visitSetOperation aligns both inputs to the same positional column
// projection before combining them.
func (t *translator) visitSetOperation(ctx Context, call *expr.Call) (*Projection, Context, error) {
	if len(call.Args) != 2 {
		return nil, ctx, argumentError(call, "%s takes two sequences", call.Method.Name)
	}
	left, ctx, err := t.visitSequence(ctx, call.Args[0])
	if err != nil {
		return nil, ctx, err
	}
	right, ctx, err := t.visitSequence(ctx, call.Args[1])
	if err != nil {
		return nil, ctx, err
	}
	lsrc, litem, ctx, err := t.align(ctx, left, call)
	if err != nil {
		return nil, ctx, err
	}
	rsrc, ritem, ctx, err := t.align(ctx, right, call)
	if err != nil {
		return nil, ctx, err
	}
	if shapeOf(litem) != shapeOf(ritem) {
		return nil, ctx, argumentError(call, "%s inputs differ in shape: %s and %s", call.Method.Name, shapeOf(litem), shapeOf(ritem))
	}
	op, err := rse.NewSetOp(setKinds[call.Method.Name], lsrc, rsrc)
	if err != nil {
		return nil, ctx, &Error{Code: CodeArgument, Message: "set operation inputs do not align", Node: call, Err: err}
	}
	return &Projection{
		Type:      left.Type,
		Projector: ItemProjector{Item: litem, DataSource: op},
	}, ctx, nil
}

// align turns every scalar part of a set operation input into a column and
// selects those columns in order of appearance.
func (t *translator) align(ctx Context, p *Projection, call *expr.Call) (rse.Provider, expr.Node, Context, error) {
	if expr.Any(p.Item(), func(n expr.Node) bool {
		switch n.(type) {
		case *expr.SubQuery, *expr.GroupingItem, *expr.Outer:
			return true
		}
		return false
	}) {
		return nil, nil, ctx, unsupported(call, "%s over nested sequences", call.Method.Name)
	}
	s, ctx := ctx.open(p)
	item, ctx := t.columnize(ctx, s, p.Item())
	cols := GetColumns(item, 0)
	next := 0
	renumbered, err := rewriteRow(item, func(int) (int, error) {
		i := next
		next++
		return i, nil
	})
	if err != nil {
		return nil, nil, ctx, err
	}
	return rse.NewSelect(ctx.source(s), cols), renumbered, ctx, nil
}

// columnize is calculateItem that also turns literals into columns, so both
// sides of a set operation carry every value in their rows.
func (t *translator) columnize(ctx Context, s *scope, item expr.Node) (expr.Node, Context) {
	switch v := item.(type) {
	case *expr.New:
		args := make([]expr.Node, len(v.Args))
		for i, a := range v.Args {
			args[i], ctx = t.columnize(ctx, s, a)
		}
		cp := *v
		cp.Args = args
		return &cp, ctx
	case *expr.Column, *expr.EntityItem, *expr.KeyItem, *expr.StructureItem:
		return item, ctx
	}
	if !isScalar(item) {
		return item, ctx
	}
	return t.calculate(ctx, s, item)
}

// visitNestedSequence translates a sequence reached through a parameter:
// an entity set member, a grouping or a group-join sequence. The current
// context must have entered a subquery correlated with the owner's row.
func (t *translator) visitNestedSequence(ctx Context, n expr.Node) (*Projection, Context, error) {
	var item expr.Node
	switch v := n.(type) {
	case *expr.Parameter:
		it, vctx, err := t.visitScalar(ctx, v)
		if err != nil {
			return nil, ctx, err
		}
		ctx = vctx
		item = it
	case *expr.Member:
		path := memberpath.Parse(v, t.model)
		if !path.Valid() {
			if memberpath.IsModelError(path.Err()) {
				return nil, ctx, modelError(n, path.Err())
			}
			it, mctx, err := t.memberFallback(ctx, v)
			if err != nil {
				return nil, ctx, err
			}
			ctx = mctx
			item = it
			break
		}
		target, pctx, err := t.resolvePath(ctx, path, v)
		if err != nil {
			return nil, ctx, err
		}
		ctx = pctx
		if target.set != nil {
			owner, err := t.liftFor(ctx, target.scope, target.item, n)
			if err != nil {
				return nil, ctx, err
			}
			if _, ok := owner.(*expr.Outer); !ok {
				return nil, ctx, unsupported(n, "entity set %s outside a correlated subquery", target.set)
			}
			key, _, err := t.identityParts(owner, n)
			if err != nil {
				return nil, ctx, err
			}
			src, elem, err := setRelation(target.set, key)
			if err != nil {
				return nil, ctx, err
			}
			return &Projection{
				Type:      expr.EnumerableOf(elem.T),
				Projector: ItemProjector{Item: elem, DataSource: src},
			}, ctx, nil
		}
		it, err := t.liftFor(ctx, target.scope, target.item, n)
		if err != nil {
			return nil, ctx, err
		}
		item = it
	default:
		return nil, ctx, unsupported(n, "%T is not a query sequence", n)
	}

	outer, ok := item.(*expr.Outer)
	if !ok {
		return nil, ctx, unsupported(n, "sequence %s outside a correlated subquery", expr.Format(n))
	}
	var sq *expr.SubQuery
	switch v := outer.Item.(type) {
	case *expr.SubQuery:
		sq = v
	case *expr.GroupingItem:
		sq = v.Elements
	default:
		return nil, ctx, unsupported(n, "%s is not a sequence", expr.Format(outer.Item))
	}
	rel := renameInProvider(sq.Relation.(rse.Provider), sq.Corr, outer.Corr)
	proj := renameCorrelation(sq.Projector, sq.Corr, outer.Corr)
	return &Projection{
		Type:      sq.T,
		Projector: ItemProjector{Item: proj, DataSource: rel},
	}, ctx, nil
}

// visitNestedSubquery translates a sequence used as a value. It becomes a
// subquery evaluated per row when the result is materialized.
func (t *translator) visitNestedSubquery(ctx Context, n expr.Node) (expr.Node, Context, error) {
	if !ctx.projecting {
		return nil, ctx, unsupported(n, "sequence used outside a projection")
	}
	if ctx.scope == nil {
		return nil, ctx, unsupported(n, "sequence without an enclosing row")
	}
	corr := t.newCorr()
	proj, inner, err := t.visitSequence(ctx.enter(corr), n)
	if err != nil {
		return nil, ctx, err
	}
	ctx = ctx.restore(inner)
	elem := proj.Type.ElementType()
	if elem == nil {
		elem = expr.Unknown
	}
	return &expr.SubQuery{
		Relation:  proj.Source(),
		Projector: proj.Item(),
		Corr:      corr,
		T:         expr.EnumerableOf(elem),
	}, ctx, nil
}

// sequenceOf keeps the queryable flag of src for a new element type.
func sequenceOf(src *expr.Type, elem *expr.Type) *expr.Type {
	if src != nil && src.Queryable {
		return expr.QueryableOf(elem)
	}
	return expr.EnumerableOf(elem)
}
