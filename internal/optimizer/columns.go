package optimizer

import (
	"fmt"
	"sort"

	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/rse"
	"github.com/roach88/quill/internal/translator"
)

// colMap maps old output columns of a provider to columns of its pruned
// replacement. Only demanded columns are guaranteed to be present.
type colMap map[int]int

func (m colMap) fn(i int) (int, error) {
	j, ok := m[i]
	if !ok {
		return 0, fmt.Errorf("column %d was removed", i)
	}
	return j, nil
}

// RemoveRedundantColumns narrows every provider under proj to the columns
// read above it and remaps the projector item to the narrowed row. Nested
// subquery plans of the item are narrowed the same way. Applying it to its
// own result returns an equal plan.
func RemoveRedundantColumns(proj translator.ItemProjector) (translator.ItemProjector, error) {
	item, err := narrowSubqueries(proj.Item)
	if err != nil {
		return proj, err
	}
	need := sorted(translator.GetColumns(item, translator.Distinct))
	src, m, err := prune(proj.DataSource, need)
	if err != nil {
		return proj, err
	}
	item, err = translator.RemapItem(item, m)
	if err != nil {
		return proj, err
	}
	return translator.ItemProjector{Item: item, DataSource: src}, nil
}

// narrowSubqueries prunes the relations of materialization-time subqueries.
// Their correlated references to the current row are left for the caller
// to remap.
func narrowSubqueries(item expr.Node) (expr.Node, error) {
	return expr.Transform(item, func(n expr.Node) (expr.Node, error) {
		switch t := n.(type) {
		case *expr.SubQuery:
			return narrowSubquery(t)
		case *expr.GroupingItem:
			el, err := narrowSubquery(t.Elements)
			if err != nil {
				return nil, err
			}
			cp := *t
			cp.Elements = el
			return &cp, nil
		}
		return n, nil
	})
}

func narrowSubquery(sq *expr.SubQuery) (*expr.SubQuery, error) {
	out, err := RemoveRedundantColumns(translator.ItemProjector{Item: sq.Projector, DataSource: sq.Relation.(rse.Provider)})
	if err != nil {
		return nil, err
	}
	cp := *sq
	cp.Relation = out.DataSource
	cp.Projector = out.Item
	return &cp, nil
}

// prune returns a replacement for p whose output holds every column in
// need (sorted, distinct) and the mapping from p's columns to it.
func prune(p rse.Provider, need []int) (rse.Provider, colMap, error) {
	switch t := p.(type) {
	case *rse.Index:
		if len(need) == 0 {
			need = []int{0}
		}
		if isPrefixIdentity(need, t.Width()) {
			return t, identity(t.Width()), nil
		}
		return rse.NewSelect(t, need), positions(need), nil

	case *rse.Alias:
		src, m, err := prune(t.Source, need)
		if err != nil {
			return nil, nil, err
		}
		return rse.NewAlias(src, t.Name), m, nil

	case *rse.Filter:
		src, m, err := prune(t.Source, union(need, columnsIn(t.Predicate)))
		if err != nil {
			return nil, nil, err
		}
		pred, err := expr.RemapColumns(t.Predicate, m)
		if err != nil {
			return nil, nil, err
		}
		return rse.NewFilter(src, pred), m, nil

	case *rse.Select:
		return pruneSelect(t, need)

	case *rse.Sort:
		src, m, order, err := pruneOrdered(t.Source, t.Order, need)
		if err != nil {
			return nil, nil, err
		}
		return rse.NewSort(src, order), m, nil

	case *rse.Reindex:
		src, m, order, err := pruneOrdered(t.Source, t.Order, need)
		if err != nil {
			return nil, nil, err
		}
		return rse.NewReindex(src, order), m, nil

	case *rse.Join:
		return pruneJoin(t, need)

	case *rse.Apply:
		return pruneApply(t, need)

	case *rse.Aggregate:
		return pruneAggregate(t)

	case *rse.Calculate:
		return pruneCalculate(t, need)

	case *rse.Distinct:
		src, m, err := prune(t.Source, identitySlice(t.Width()))
		if err != nil {
			return nil, nil, err
		}
		return rse.NewDistinct(src), m, nil

	case *rse.Skip:
		src, m, err := prune(t.Source, need)
		if err != nil {
			return nil, nil, err
		}
		return rse.NewSkip(src, t.Count), m, nil

	case *rse.Take:
		src, m, err := prune(t.Source, need)
		if err != nil {
			return nil, nil, err
		}
		return rse.NewTake(src, t.Count), m, nil

	case *rse.Existence:
		src, _, err := prune(t.Source, nil)
		if err != nil {
			return nil, nil, err
		}
		return rse.NewExistence(src, t.Name), identity(1), nil

	case *rse.SetOp:
		all := identitySlice(t.Width())
		left, _, err := prune(t.Left, all)
		if err != nil {
			return nil, nil, err
		}
		right, _, err := prune(t.Right, all)
		if err != nil {
			return nil, nil, err
		}
		out, err := rse.NewSetOp(t.Op, left, right)
		if err != nil {
			return nil, nil, err
		}
		return out, identity(t.Width()), nil
	}
	return nil, nil, fmt.Errorf("optimizer: unexpected provider %T", p)
}

// pruneSelect keeps the demanded outputs and collapses a Select that lands
// on another Select.
func pruneSelect(s *rse.Select, need []int) (rse.Provider, colMap, error) {
	if len(need) == 0 && len(s.Columns) > 0 {
		need = []int{0}
	}
	picked := make([]int, len(need))
	for i, n := range need {
		picked[i] = s.Columns[n]
	}
	src, m, err := prune(s.Source, sorted(picked))
	if err != nil {
		return nil, nil, err
	}
	cols, err := remap(picked, m)
	if err != nil {
		return nil, nil, err
	}
	if inner, ok := src.(*rse.Select); ok {
		for i, c := range cols {
			cols[i] = inner.Columns[c]
		}
		src = inner.Source
	}
	out := positions(need)
	if isPrefixIdentity(cols, src.Width()) {
		return src, out, nil
	}
	return rse.NewSelect(src, cols), out, nil
}

func pruneOrdered(src rse.Provider, order []rse.Order, need []int) (rse.Provider, colMap, []rse.Order, error) {
	cols := make([]int, len(order))
	for i, o := range order {
		cols[i] = o.Column
	}
	out, m, err := prune(src, union(need, cols))
	if err != nil {
		return nil, nil, nil, err
	}
	next := make([]rse.Order, len(order))
	for i, o := range order {
		next[i] = rse.Order{Column: m[o.Column], Descending: o.Descending}
	}
	return out, m, next, nil
}

func pruneJoin(j *rse.Join, need []int) (rse.Provider, colMap, error) {
	lw := j.Left.Width()
	var ln, rn []int
	for _, c := range need {
		if c < lw {
			ln = append(ln, c)
		} else {
			rn = append(rn, c-lw)
		}
	}
	for _, p := range j.Pairs {
		ln = append(ln, p.Left)
		rn = append(rn, p.Right)
	}
	left, lm, err := prune(j.Left, sorted(ln))
	if err != nil {
		return nil, nil, err
	}
	right, rm, err := prune(j.Right, sorted(rn))
	if err != nil {
		return nil, nil, err
	}
	pairs := make([]rse.JoinPair, len(j.Pairs))
	for i, p := range j.Pairs {
		pairs[i] = rse.JoinPair{Left: lm[p.Left], Right: rm[p.Right]}
	}
	return rse.NewJoin(left, right, pairs, j.Outer), concat(lm, rm, lw, left.Width()), nil
}

func pruneApply(a *rse.Apply, need []int) (rse.Provider, colMap, error) {
	lw := a.Left.Width()
	var ln, rn []int
	for _, c := range need {
		if c < lw {
			ln = append(ln, c)
		} else {
			rn = append(rn, c-lw)
		}
	}
	ln = append(ln, rse.OuterReferences(a.Right, a.Corr)...)
	left, lm, err := prune(a.Left, sorted(ln))
	if err != nil {
		return nil, nil, err
	}
	right, rm, err := prune(a.Right, sorted(rn))
	if err != nil {
		return nil, nil, err
	}
	right, err = translator.RewriteCorrelated(right, a.Corr, lm.fn)
	if err != nil {
		return nil, nil, err
	}
	return rse.NewApply(left, right, a.Corr, a.Outer, a.Sequence), concat(lm, rm, lw, left.Width()), nil
}

// pruneAggregate keeps every output column. Only the source is narrowed to
// the group and aggregated columns.
func pruneAggregate(a *rse.Aggregate) (rse.Provider, colMap, error) {
	demand := append([]int(nil), a.Group...)
	for _, ag := range a.Aggregates {
		if ag.Column >= 0 {
			demand = append(demand, ag.Column)
		}
	}
	src, m, err := prune(a.Source, sorted(demand))
	if err != nil {
		return nil, nil, err
	}
	group, err := remap(a.Group, m)
	if err != nil {
		return nil, nil, err
	}
	aggs := make([]rse.AggregateColumn, len(a.Aggregates))
	for i, ag := range a.Aggregates {
		aggs[i] = ag
		if ag.Column >= 0 {
			aggs[i].Column = m[ag.Column]
		}
	}
	return rse.NewAggregate(src, group, aggs), identity(a.Width()), nil
}

// pruneCalculate drops calculated columns nobody reads.
func pruneCalculate(c *rse.Calculate, need []int) (rse.Provider, colMap, error) {
	w := c.Source.Width()
	var demand []int
	var kept []int
	for _, n := range need {
		if n < w {
			demand = append(demand, n)
		} else {
			kept = append(kept, n-w)
		}
	}
	for _, k := range kept {
		demand = append(demand, columnsIn(c.Columns[k].Expr)...)
	}
	src, m, err := prune(c.Source, sorted(demand))
	if err != nil {
		return nil, nil, err
	}
	if len(kept) == 0 {
		return src, m, nil
	}
	cols := make([]rse.CalculatedColumn, len(kept))
	out := make(colMap, len(m)+len(kept))
	for k, v := range m {
		out[k] = v
	}
	for i, k := range kept {
		e, err := expr.RemapColumns(c.Columns[k].Expr, m)
		if err != nil {
			return nil, nil, err
		}
		cols[i] = c.Columns[k]
		cols[i].Expr = e
		out[w+k] = src.Width() + i
	}
	return rse.NewCalculate(src, cols), out, nil
}

// columnsIn returns the current-row columns a scalar expression reads.
func columnsIn(e expr.Node) []int {
	var out []int
	expr.Walk(e, func(n expr.Node) bool {
		if c, ok := n.(*expr.Column); ok {
			out = append(out, c.Index)
		}
		return true
	})
	return out
}

func sorted(cols []int) []int {
	seen := make(map[int]bool, len(cols))
	out := make([]int, 0, len(cols))
	for _, c := range cols {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Ints(out)
	return out
}

func union(a, b []int) []int {
	return sorted(append(append([]int(nil), a...), b...))
}

func remap(cols []int, m colMap) ([]int, error) {
	out := make([]int, len(cols))
	for i, c := range cols {
		j, err := m.fn(c)
		if err != nil {
			return nil, err
		}
		out[i] = j
	}
	return out, nil
}

func positions(cols []int) colMap {
	m := make(colMap, len(cols))
	for i, c := range cols {
		m[c] = i
	}
	return m
}

func identity(width int) colMap {
	return positions(identitySlice(width))
}

func identitySlice(width int) []int {
	out := make([]int, width)
	for i := range out {
		out[i] = i
	}
	return out
}

// isPrefixIdentity reports whether cols is 0..len(cols)-1 covering width.
func isPrefixIdentity(cols []int, width int) bool {
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

// concat joins the maps of a left and right input whose outputs are
// placed side by side.
func concat(lm, rm colMap, oldLeft, newLeft int) colMap {
	out := make(colMap, len(lm)+len(rm))
	for k, v := range lm {
		out[k] = v
	}
	for k, v := range rm {
		out[oldLeft+k] = newLeft + v
	}
	return out
}
