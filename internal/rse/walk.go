package rse

import (
	"sort"

	"github.com/roach88/quill/internal/expr"
)

// Walk visits p and its sources in pre-order. Returning false from fn skips
// the sources of the visited provider.
func Walk(p Provider, fn func(Provider) bool) {
	if p == nil || !fn(p) {
		return
	}
	for _, s := range p.Sources() {
		Walk(s, fn)
	}
}

// Exprs returns the row expressions held directly by p.
func Exprs(p Provider) []expr.Node {
	switch t := p.(type) {
	case *Filter:
		return []expr.Node{t.Predicate}
	case *Calculate:
		out := make([]expr.Node, len(t.Columns))
		for i, c := range t.Columns {
			out[i] = c.Expr
		}
		return out
	case *Skip:
		return []expr.Node{t.Count}
	case *Take:
		return []expr.Node{t.Count}
	}
	return nil
}

// withExprs returns p with its row expressions replaced. exprs must have the
// layout returned by Exprs.
func withExprs(p Provider, exprs []expr.Node) Provider {
	switch t := p.(type) {
	case *Filter:
		return NewFilter(t.Source, exprs[0])
	case *Calculate:
		cols := make([]CalculatedColumn, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = CalculatedColumn{Name: c.Name, Type: c.Type, Expr: exprs[i]}
		}
		return NewCalculate(t.Source, cols)
	case *Skip:
		return NewSkip(t.Source, exprs[0])
	case *Take:
		return NewTake(t.Source, exprs[0])
	}
	return p
}

// RewriteExprs rebuilds p bottom-up, passing every row expression through
// fn. Providers whose sources and expressions are unchanged are kept.
func RewriteExprs(p Provider, fn func(expr.Node) (expr.Node, error)) (Provider, error) {
	srcs := p.Sources()
	changed := false
	if len(srcs) > 0 {
		next := make([]Provider, len(srcs))
		for i, s := range srcs {
			r, err := RewriteExprs(s, fn)
			if err != nil {
				return nil, err
			}
			next[i] = r
			changed = changed || r != s
		}
		if changed {
			p = WithSources(p, next...)
		}
	}
	exprs := Exprs(p)
	if len(exprs) == 0 {
		return p, nil
	}
	next := make([]expr.Node, len(exprs))
	dirty := false
	for i, e := range exprs {
		r, err := fn(e)
		if err != nil {
			return nil, err
		}
		next[i] = r
		dirty = dirty || r != e
	}
	if !dirty {
		return p, nil
	}
	return withExprs(p, next), nil
}

// OuterReferences returns the sorted outer column indexes that expressions
// anywhere under p read through corr.
func OuterReferences(p Provider, corr *expr.Correlation) []int {
	seen := make(map[int]bool)
	Walk(p, func(q Provider) bool {
		for _, e := range Exprs(q) {
			expr.Walk(e, func(n expr.Node) bool {
				if oc, ok := n.(*expr.OuterColumn); ok && oc.Corr == corr {
					seen[oc.Index] = true
				}
				return true
			})
		}
		return true
	})
	out := make([]int, 0, len(seen))
	for i := range seen {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// CountKind returns how many providers of kind k the tree contains.
func CountKind(p Provider, k Kind) int {
	n := 0
	Walk(p, func(q Provider) bool {
		if q.Kind() == k {
			n++
		}
		return true
	})
	return n
}

// Find returns the first provider of kind k in pre-order.
func Find(p Provider, k Kind) Provider {
	var found Provider
	Walk(p, func(q Provider) bool {
		if found != nil {
			return false
		}
		if q.Kind() == k {
			found = q
			return false
		}
		return true
	})
	return found
}
