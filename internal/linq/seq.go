package linq

import (
	"github.com/roach88/quill/internal/expr"
)

// Seq is a sequence expression under construction. Operators return new
// values; a Seq can be reused as the source of several queries.
type Seq struct {
	b    *Builder
	node expr.Node
}

// Node returns the built node.
func (s Seq) Node() expr.Node { return s.node }

// Expr returns s as a value, for use inside a lambda body.
func (s Seq) Expr() Expr { return Expr{b: s.b, node: s.node} }

// Build returns the query node or the first error recorded by the builder.
func (s Seq) Build() (expr.Node, error) {
	if s.b.err != nil {
		return nil, s.b.err
	}
	return s.node, nil
}

// Elem returns the element type of s.
func (s Seq) Elem() *expr.Type {
	if t := s.node.Type(); t != nil && t.IsSequence() {
		return t.ElementType()
	}
	return expr.Unknown
}

func (s Seq) set() expr.MethodSet {
	if t := s.node.Type(); t != nil && t.Queryable {
		return expr.Queryable
	}
	return expr.Enumerable
}

func (s Seq) of(elem *expr.Type) *expr.Type {
	if s.set() == expr.Queryable {
		return expr.QueryableOf(elem)
	}
	return expr.EnumerableOf(elem)
}

func (s Seq) call(name string, t *expr.Type, args ...expr.Node) *expr.Call {
	return expr.NewCall(s.set(), name, t, nil, append([]expr.Node{s.node}, args...)...)
}

func (s Seq) seq(name string, t *expr.Type, args ...expr.Node) Seq {
	return Seq{b: s.b, node: s.call(name, t, args...)}
}

func (s Seq) value(name string, t *expr.Type, args ...expr.Node) Expr {
	return Expr{b: s.b, node: s.call(name, t, args...)}
}

// Lambda1 builds a one-parameter lambda over elements of type t.
func (b *Builder) Lambda1(name string, t *expr.Type, fn func(Expr) Expr) *expr.Lambda {
	p := b.param(name, t)
	return &expr.Lambda{Params: []*expr.Parameter{p}, Body: fn(Expr{b: b, node: p}).node}
}

// Lambda2 builds a two-parameter lambda.
func (b *Builder) Lambda2(n1 string, t1 *expr.Type, n2 string, t2 *expr.Type, fn func(Expr, Expr) Expr) *expr.Lambda {
	p1, p2 := b.param(n1, t1), b.param(n2, t2)
	return &expr.Lambda{Params: []*expr.Parameter{p1, p2}, Body: fn(Expr{b: b, node: p1}, Expr{b: b, node: p2}).node}
}

func (s Seq) lambda(fn func(Expr) Expr) *expr.Lambda {
	return s.b.Lambda1("", s.Elem(), fn)
}

func (s Seq) Where(pred func(Expr) Expr) Seq {
	return s.seq(expr.MethodWhere, s.node.Type(), s.lambda(pred))
}

func (s Seq) Select(sel func(Expr) Expr) Seq {
	lam := s.lambda(sel)
	return s.seq(expr.MethodSelect, s.of(lam.Body.Type()), lam)
}

// SelectMany flattens the sequence each element maps to.
func (s Seq) SelectMany(coll func(Expr) Expr) Seq {
	lam := s.lambda(coll)
	return s.seq(expr.MethodSelectMany, s.of(elemOf(lam.Body)), lam)
}

// SelectManyResult flattens and projects each (element, inner) pair.
func (s Seq) SelectManyResult(coll func(Expr) Expr, result func(Expr, Expr) Expr) Seq {
	lam := s.lambda(coll)
	res := s.b.Lambda2("", s.Elem(), "", elemOf(lam.Body), result)
	return s.seq(expr.MethodSelectMany, s.of(res.Body.Type()), lam, res)
}

func elemOf(n expr.Node) *expr.Type {
	if t := n.Type(); t != nil && t.IsSequence() {
		return t.ElementType()
	}
	return expr.Unknown
}

func (s Seq) OrderBy(key func(Expr) Expr) Seq {
	return s.seq(expr.MethodOrderBy, s.node.Type(), s.lambda(key))
}

func (s Seq) OrderByDescending(key func(Expr) Expr) Seq {
	return s.seq(expr.MethodOrderByDescending, s.node.Type(), s.lambda(key))
}

func (s Seq) ThenBy(key func(Expr) Expr) Seq {
	return s.seq(expr.MethodThenBy, s.node.Type(), s.lambda(key))
}

func (s Seq) ThenByDescending(key func(Expr) Expr) Seq {
	return s.seq(expr.MethodThenByDescending, s.node.Type(), s.lambda(key))
}

// GroupBy groups elements by key.
func (s Seq) GroupBy(key func(Expr) Expr) Seq {
	lam := s.lambda(key)
	return s.seq(expr.MethodGroupBy, s.of(expr.GroupingOf(lam.Body.Type(), s.Elem())), lam)
}

// GroupByElement groups projected elements by key.
func (s Seq) GroupByElement(key, elem func(Expr) Expr) Seq {
	kl, el := s.lambda(key), s.lambda(elem)
	return s.seq(expr.MethodGroupBy, s.of(expr.GroupingOf(kl.Body.Type(), el.Body.Type())), kl, el)
}

// GroupByResult groups by key and projects each (key, group) pair.
func (s Seq) GroupByResult(key func(Expr) Expr, result func(Expr, Expr) Expr) Seq {
	kl := s.lambda(key)
	group := expr.GroupingOf(kl.Body.Type(), s.Elem())
	rl := s.b.Lambda2("", kl.Body.Type(), "", group, result)
	return s.seq(expr.MethodGroupBy, s.of(rl.Body.Type()), kl, rl)
}

// Join correlates two sequences on equal keys.
func (s Seq) Join(inner Seq, outerKey, innerKey func(Expr) Expr, result func(Expr, Expr) Expr) Seq {
	ok, ik := s.lambda(outerKey), inner.lambda(innerKey)
	rl := s.b.Lambda2("", s.Elem(), "", inner.Elem(), result)
	return s.seq(expr.MethodJoin, s.of(rl.Body.Type()), inner.node, ok, ik, rl)
}

// GroupJoin pairs each outer element with the inner elements whose key
// matches.
func (s Seq) GroupJoin(inner Seq, outerKey, innerKey func(Expr) Expr, result func(Expr, Expr) Expr) Seq {
	ok, ik := s.lambda(outerKey), inner.lambda(innerKey)
	rl := s.b.Lambda2("", s.Elem(), "", expr.EnumerableOf(inner.Elem()), result)
	return s.seq(expr.MethodGroupJoin, s.of(rl.Body.Type()), inner.node, ok, ik, rl)
}

func (s Seq) Distinct() Seq { return s.seq(expr.MethodDistinct, s.node.Type()) }

func (s Seq) Skip(n any) Seq { return s.seq(expr.MethodSkip, s.node.Type(), s.b.node(n)) }

func (s Seq) Take(n any) Seq { return s.seq(expr.MethodTake, s.node.Type(), s.b.node(n)) }

func (s Seq) Concat(o Seq) Seq    { return s.seq(expr.MethodConcat, s.node.Type(), o.node) }
func (s Seq) Union(o Seq) Seq     { return s.seq(expr.MethodUnion, s.node.Type(), o.node) }
func (s Seq) Intersect(o Seq) Seq { return s.seq(expr.MethodIntersect, s.node.Type(), o.node) }
func (s Seq) Except(o Seq) Seq    { return s.seq(expr.MethodExcept, s.node.Type(), o.node) }

func (s Seq) optional(fns []func(Expr) Expr) []expr.Node {
	if len(fns) == 0 || fns[0] == nil {
		return nil
	}
	return []expr.Node{s.lambda(fns[0])}
}

// Count counts elements, optionally those matching pred.
func (s Seq) Count(pred ...func(Expr) Expr) Expr {
	return s.value(expr.MethodCount, expr.Int, s.optional(pred)...)
}

func (s Seq) selected(name string, sel []func(Expr) Expr, typ func(*expr.Type) *expr.Type) Expr {
	args := s.optional(sel)
	t := s.Elem()
	if len(args) > 0 {
		t = args[0].Type()
	}
	return s.value(name, typ(t), args...)
}

func same(t *expr.Type) *expr.Type { return t }

// Sum totals the elements or the selected values.
func (s Seq) Sum(sel ...func(Expr) Expr) Expr {
	return s.selected(expr.MethodSum, sel, func(t *expr.Type) *expr.Type {
		c := *t
		c.Nullable = false
		return &c
	})
}

func (s Seq) Min(sel ...func(Expr) Expr) Expr { return s.selected(expr.MethodMin, sel, same) }
func (s Seq) Max(sel ...func(Expr) Expr) Expr { return s.selected(expr.MethodMax, sel, same) }

// Average widens integers to float.
func (s Seq) Average(sel ...func(Expr) Expr) Expr {
	return s.selected(expr.MethodAverage, sel, func(t *expr.Type) *expr.Type {
		r := expr.Float
		if t.Kind == expr.TypeDecimal {
			r = expr.Decimal
		}
		if t.Nullable {
			return r.AsNullable()
		}
		return r
	})
}

func (s Seq) First(pred ...func(Expr) Expr) Expr {
	return s.value(expr.MethodFirst, s.Elem(), s.optional(pred)...)
}

func (s Seq) FirstOrDefault(pred ...func(Expr) Expr) Expr {
	return s.value(expr.MethodFirstOrDefault, s.Elem().AsNullable(), s.optional(pred)...)
}

func (s Seq) Single(pred ...func(Expr) Expr) Expr {
	return s.value(expr.MethodSingle, s.Elem(), s.optional(pred)...)
}

func (s Seq) SingleOrDefault(pred ...func(Expr) Expr) Expr {
	return s.value(expr.MethodSingleOrDefault, s.Elem().AsNullable(), s.optional(pred)...)
}

func (s Seq) Any(pred ...func(Expr) Expr) Expr {
	return s.value(expr.MethodAny, expr.Bool, s.optional(pred)...)
}

func (s Seq) All(pred func(Expr) Expr) Expr {
	return s.value(expr.MethodAll, expr.Bool, s.lambda(pred))
}

// Contains tests whether v is an element of s.
func (s Seq) Contains(v any) Expr {
	return s.value(expr.MethodContains, expr.Bool, s.b.node(v))
}
