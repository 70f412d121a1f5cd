package translator

import (
	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/rse"
)

// scope names the row a group of lambda parameters is bound to. The row
// itself is held by the Context, so every binding over the same scope sees
// a join appended for any of them once the Context carrying it is returned.
// Columns are only ever appended to a row; items already handed out stay
// valid.
type scope struct {
	depth int
}

// row is the provider and join memo of a scope. group is set while the row
// is the output of a GroupBy.
type row struct {
	source  rse.Provider
	mapping *ResultMapping
	group   *groupState
}

type rowEntry struct {
	scope *scope
	row   row
	next  *rowEntry
}

// binding maps a lambda parameter to its item in a scope's row.
type binding struct {
	param    *expr.Parameter
	item     expr.Node
	scope    *scope
	grouping bool
	next     *binding
}

// frame records the scope a correlated subquery was entered from.
type frame struct {
	corr  *expr.Correlation
	scope *scope
	depth int
	next  *frame
}

// Context is the immutable translation state of one lambda body. Methods
// return modified copies; the zero value is the root context.
//
// Operations that extend a row take a Context and return the Context that
// holds the extended row. A caller that passed down a derived Context
// carries the rows back with restore.
type Context struct {
	bindings *binding
	frames   *frame
	rows     *rowEntry
	// scope is the row that nested terminals and subqueries correlate with.
	scope *scope
	depth int
	// calculate resolves entity leaves to their keys without joining.
	calculate bool
	// projecting allows sequence subqueries evaluated at materialization.
	projecting bool
}

// open starts a scope over the rows of p.
func (c Context) open(p *Projection) (*scope, Context) {
	return c.openRow(row{source: p.Source(), mapping: p.Mapping, group: p.group})
}

func (c Context) openRow(r row) (*scope, Context) {
	s := &scope{depth: c.depth}
	return s, c.withRow(s, r)
}

func (c Context) row(s *scope) row {
	for e := c.rows; e != nil; e = e.next {
		if e.scope == s {
			return e.row
		}
	}
	return row{}
}

func (c Context) source(s *scope) rse.Provider {
	return c.row(s).source
}

func (c Context) withRow(s *scope, r row) Context {
	c.rows = &rowEntry{scope: s, row: r, next: c.rows}
	return c
}

// withSource replaces the provider of s. A row that no longer ends at its
// group's Aggregate cannot take fused aggregates.
func (c Context) withSource(s *scope, src rse.Provider) Context {
	r := c.row(s)
	r.source = src
	if r.group != nil && src != rse.Provider(r.group.agg) {
		r.group = nil
	}
	return c.withRow(s, r)
}

func (c Context) withMapping(s *scope, m *ResultMapping) Context {
	r := c.row(s)
	r.mapping = m
	return c.withRow(s, r)
}

// restore returns c with the rows of inner, a Context derived from c.
// Bindings, frames and modes stay those of c.
func (c Context) restore(inner Context) Context {
	c.rows = inner.rows
	return c
}

// bind binds params to items in s and makes s the current scope.
func (c Context) bind(s *scope, params []*expr.Parameter, items []expr.Node) Context {
	for i, p := range params {
		c.bindings = &binding{param: p, item: items[i], scope: s, next: c.bindings}
	}
	c.scope = s
	return c
}

// bindProjection binds p to the item of proj. A grouping parameter can
// take fused aggregates while its row is the group's Aggregate.
func (c Context) bindProjection(s *scope, p *expr.Parameter, proj *Projection) Context {
	c.bindings = &binding{param: p, item: proj.Item(), scope: s, grouping: proj.group != nil, next: c.bindings}
	c.scope = s
	return c
}

func (c Context) lookup(p *expr.Parameter) *binding {
	for b := c.bindings; b != nil; b = b.next {
		if b.param == p {
			return b
		}
	}
	return nil
}

// enter starts a correlated subquery over the current scope.
func (c Context) enter(corr *expr.Correlation) Context {
	c.frames = &frame{corr: corr, scope: c.scope, depth: c.depth, next: c.frames}
	c.depth++
	c.scope = nil
	c.calculate = false
	c.projecting = false
	return c
}

func (c Context) frameAt(depth int) *frame {
	for f := c.frames; f != nil; f = f.next {
		if f.depth == depth {
			return f
		}
	}
	return nil
}

func (c Context) frameOf(corr *expr.Correlation) *frame {
	for f := c.frames; f != nil; f = f.next {
		if f.corr == corr {
			return f
		}
	}
	return nil
}

func (c Context) keyMode() Context {
	c.calculate = true
	return c
}

func (c Context) valueMode() Context {
	c.calculate = false
	return c
}

func (c Context) inProjection() Context {
	c.projecting = true
	return c
}
