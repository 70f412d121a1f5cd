package translator

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/model"
	"github.com/roach88/quill/internal/rse"
)

// ItemProjector pairs a row template with the provider whose rows it reads.
// Item is built from Column, EntityItem, KeyItem, StructureItem, New,
// SubQuery, GroupingItem, Outer and scalar expressions over those.
type ItemProjector struct {
	Item       expr.Node
	DataSource rse.Provider
}

// ResultMapping records the relations joined into a row to reach the
// members of its items. Entries are keyed by navigation (reference field
// and the row columns holding its key) and never change once added.
type ResultMapping struct {
	joined map[string]*expr.EntityItem
}

// Joined returns the entity item registered for key.
func (m *ResultMapping) Joined(key string) (*expr.EntityItem, bool) {
	if m == nil {
		return nil, false
	}
	it, ok := m.joined[key]
	return it, ok
}

// With returns a copy of m with key registered.
func (m *ResultMapping) With(key string, item *expr.EntityItem) *ResultMapping {
	next := &ResultMapping{joined: make(map[string]*expr.EntityItem, m.Len()+1)}
	if m != nil {
		for k, v := range m.joined {
			next.joined[k] = v
		}
	}
	next.joined[key] = item
	return next
}

// Len returns the number of joined relations.
func (m *ResultMapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.joined)
}

// Keys returns the registered navigations, sorted.
func (m *ResultMapping) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.joined))
	for k := range m.joined {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func navigationKey(f *model.FieldInfo, cols []int) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = strconv.Itoa(c)
	}
	return f.String() + "@" + strings.Join(parts, ",")
}

// Projection is the translated form of a query sequence: the element type,
// the row template over its provider and the relations joined so far.
type Projection struct {
	Type      *expr.Type
	Projector ItemProjector
	Mapping   *ResultMapping

	group *groupState
}

// Item returns the row template.
func (p *Projection) Item() expr.Node { return p.Projector.Item }

// Source returns the provider.
func (p *Projection) Source() rse.Provider { return p.Projector.DataSource }

func (p *Projection) with(source rse.Provider, mapping *ResultMapping) *Projection {
	c := *p
	c.Projector.DataSource = source
	c.Mapping = mapping
	if p.group != nil && source != p.group.agg {
		c.group = nil
	}
	return &c
}

// groupState tracks the Aggregate behind a grouping so that aggregates over
// the group can be added to it as columns.
type groupState struct {
	agg *rse.Aggregate
	// elem is the element template over agg.Source rows.
	elem    expr.Node
	mapping *ResultMapping
}

// ColumnMode controls GetColumns.
type ColumnMode uint8

const (
	// EntityKeyOnly reports only the key columns of entity items.
	EntityKeyOnly ColumnMode = 1 << iota
	// KeepTypeID adds the TypeId column to key-only entity items.
	KeepTypeID
	// Distinct drops repeated columns, keeping the first occurrence.
	Distinct
)

// GetColumns returns the columns of the current row read by item, in order
// of appearance. Correlated references made by subqueries in the item count
// as reads.
func GetColumns(item expr.Node, mode ColumnMode) []int {
	c := &columnCollector{mode: mode, seen: map[int]bool{}}
	c.row(item)
	return c.out
}

type columnCollector struct {
	mode ColumnMode
	seen map[int]bool
	out  []int
}

func (c *columnCollector) add(idx ...int) {
	for _, i := range idx {
		if c.mode&Distinct != 0 {
			if c.seen[i] {
				continue
			}
			c.seen[i] = true
		}
		c.out = append(c.out, i)
	}
}

func (c *columnCollector) row(n expr.Node) {
	switch t := n.(type) {
	case nil:
		return
	case *expr.Column:
		c.add(t.Index)
		return
	case *expr.EntityItem:
		if c.mode&EntityKeyOnly != 0 {
			key := t.Info.KeySegment()
			c.add(t.Columns[key.Offset:key.End()]...)
			if c.mode&KeepTypeID != 0 {
				c.add(t.Columns[t.Info.TypeIDIndex()])
			}
			return
		}
		c.add(t.Columns...)
		return
	case *expr.KeyItem:
		c.add(t.Columns...)
		return
	case *expr.StructureItem:
		c.add(t.Columns...)
		return
	case *expr.SubQuery:
		c.correlated(t.Relation.(rse.Provider), t.Projector, t.Corr)
		return
	case *expr.GroupingItem:
		c.row(t.Key)
		c.correlated(t.Elements.Relation.(rse.Provider), t.Elements.Projector, t.Elements.Corr)
		return
	case *expr.Outer:
		return
	}
	for _, ch := range expr.Children(n) {
		c.row(ch)
	}
}

// correlated collects the reads of the current row made through corr.
func (c *columnCollector) correlated(rel rse.Provider, projector expr.Node, corr *expr.Correlation) {
	c.add(rse.OuterReferences(rel, corr)...)
	c.through(projector, corr)
}

func (c *columnCollector) through(n expr.Node, corr *expr.Correlation) {
	switch t := n.(type) {
	case nil:
		return
	case *expr.OuterColumn:
		if t.Corr == corr {
			c.add(t.Index)
		}
		return
	case *expr.Outer:
		if t.Corr == corr {
			c.row(t.Item)
		}
		return
	case *expr.SubQuery:
		c.correlated(t.Relation.(rse.Provider), t.Projector, corr)
		return
	case *expr.GroupingItem:
		c.through(t.Key, corr)
		c.correlated(t.Elements.Relation.(rse.Provider), t.Elements.Projector, corr)
		return
	}
	for _, ch := range expr.Children(n) {
		c.through(ch, corr)
	}
}

type columnMap func(int) (int, error)

// RemapItem rewrites the current-row columns of item through m, including
// the correlated references of its subqueries.
func RemapItem(item expr.Node, m map[int]int) (expr.Node, error) {
	return rewriteRow(item, func(i int) (int, error) {
		j, ok := m[i]
		if !ok {
			return 0, fmt.Errorf("column %d was removed", i)
		}
		return j, nil
	})
}

// ShiftItem moves the current-row columns of item by delta.
func ShiftItem(item expr.Node, delta int) expr.Node {
	if delta == 0 {
		return item
	}
	out, _ := rewriteRow(item, func(i int) (int, error) { return i + delta, nil })
	return out
}

func remapIndexes(cols []int, f columnMap) ([]int, error) {
	out := make([]int, len(cols))
	for i, c := range cols {
		j, err := f(c)
		if err != nil {
			return nil, err
		}
		out[i] = j
	}
	return out, nil
}

func rewriteRow(n expr.Node, f columnMap) (expr.Node, error) {
	return expr.Transform(n, func(c expr.Node) (expr.Node, error) {
		switch t := c.(type) {
		case *expr.Column:
			idx, err := f(t.Index)
			if err != nil {
				return nil, err
			}
			cp := *t
			cp.Index = idx
			return &cp, nil
		case *expr.EntityItem:
			cols, err := remapIndexes(t.Columns, f)
			if err != nil {
				return nil, err
			}
			cp := *t
			cp.Columns = cols
			return &cp, nil
		case *expr.KeyItem:
			cols, err := remapIndexes(t.Columns, f)
			if err != nil {
				return nil, err
			}
			cp := *t
			cp.Columns = cols
			return &cp, nil
		case *expr.StructureItem:
			cols, err := remapIndexes(t.Columns, f)
			if err != nil {
				return nil, err
			}
			cp := *t
			cp.Columns = cols
			return &cp, nil
		case *expr.SubQuery:
			return rewriteSubQuery(t, t.Corr, f)
		case *expr.GroupingItem:
			el, err := rewriteSubQuery(t.Elements, t.Elements.Corr, f)
			if err != nil {
				return nil, err
			}
			cp := *t
			cp.Elements = el
			return &cp, nil
		}
		return c, nil
	})
}

func rewriteSubQuery(sq *expr.SubQuery, corr *expr.Correlation, f columnMap) (*expr.SubQuery, error) {
	rel, err := RewriteCorrelated(sq.Relation.(rse.Provider), corr, f)
	if err != nil {
		return nil, err
	}
	proj, err := rewriteThrough(sq.Projector, corr, f)
	if err != nil {
		return nil, err
	}
	cp := *sq
	cp.Relation = rel
	cp.Projector = proj
	return &cp, nil
}

// RewriteCorrelated rewrites every OuterColumn of corr inside p through f.
func RewriteCorrelated(p rse.Provider, corr *expr.Correlation, f func(int) (int, error)) (rse.Provider, error) {
	return rse.RewriteExprs(p, func(e expr.Node) (expr.Node, error) {
		return rewriteThrough(e, corr, f)
	})
}

// rewriteThrough rewrites the references to the row bound to corr made from
// inside another row scope.
func rewriteThrough(n expr.Node, corr *expr.Correlation, f columnMap) (expr.Node, error) {
	return expr.Transform(n, func(c expr.Node) (expr.Node, error) {
		switch t := c.(type) {
		case *expr.OuterColumn:
			if t.Corr != corr {
				return c, nil
			}
			idx, err := f(t.Index)
			if err != nil {
				return nil, err
			}
			cp := *t
			cp.Index = idx
			return &cp, nil
		case *expr.Outer:
			if t.Corr != corr {
				return c, nil
			}
			item, err := rewriteRow(t.Item, f)
			if err != nil {
				return nil, err
			}
			cp := *t
			cp.Item = item
			return &cp, nil
		case *expr.SubQuery:
			return rewriteSubQuery(t, corr, f)
		case *expr.GroupingItem:
			el, err := rewriteSubQuery(t.Elements, corr, f)
			if err != nil {
				return nil, err
			}
			cp := *t
			cp.Elements = el
			return &cp, nil
		}
		return c, nil
	})
}

// renameCorrelation replaces from with to in n and in every nested relation.
func renameCorrelation(n expr.Node, from, to *expr.Correlation) expr.Node {
	out, _ := expr.Transform(n, func(c expr.Node) (expr.Node, error) {
		switch t := c.(type) {
		case *expr.OuterColumn:
			if t.Corr == from {
				cp := *t
				cp.Corr = to
				return &cp, nil
			}
		case *expr.Outer:
			cp := *t
			cp.Item = renameCorrelation(t.Item, from, to)
			if t.Corr == from {
				cp.Corr = to
			}
			return &cp, nil
		case *expr.SubQuery:
			return renameSubQuery(t, from, to), nil
		case *expr.GroupingItem:
			cp := *t
			cp.Elements = renameSubQuery(t.Elements, from, to)
			return &cp, nil
		}
		return c, nil
	})
	return out
}

func renameSubQuery(sq *expr.SubQuery, from, to *expr.Correlation) *expr.SubQuery {
	cp := *sq
	cp.Relation = renameInProvider(sq.Relation.(rse.Provider), from, to)
	cp.Projector = renameCorrelation(sq.Projector, from, to)
	if sq.Corr == from {
		cp.Corr = to
	}
	return &cp
}

func renameInProvider(p rse.Provider, from, to *expr.Correlation) rse.Provider {
	out, _ := rse.RewriteExprs(p, func(e expr.Node) (expr.Node, error) {
		return renameCorrelation(e, from, to), nil
	})
	return out
}

// unlift turns references to the row bound to corr back into current-row
// references. It is used once a correlated relation has been applied to the
// row it was correlated with, so that row is a prefix of the current row.
func unlift(n expr.Node, corr *expr.Correlation) expr.Node {
	out, _ := expr.Transform(n, func(c expr.Node) (expr.Node, error) {
		switch t := c.(type) {
		case *expr.OuterColumn:
			if t.Corr == corr {
				return &expr.Column{Index: t.Index, T: t.T}, nil
			}
		case *expr.Outer:
			if t.Corr == corr {
				return t.Item, nil
			}
		case *expr.SubQuery:
			return renameSubQuery(t, corr, t.Corr), nil
		case *expr.GroupingItem:
			cp := *t
			cp.Elements = renameSubQuery(t.Elements, corr, t.Elements.Corr)
			return &cp, nil
		}
		return c, nil
	})
	return out
}

// liftItem rewrites a current-row item as seen from a subquery correlated
// through corr.
func liftItem(n expr.Node, corr *expr.Correlation) expr.Node {
	switch t := n.(type) {
	case *expr.Column:
		return &expr.OuterColumn{Corr: corr, Index: t.Index, T: t.T}
	case *expr.EntityItem, *expr.KeyItem, *expr.StructureItem, *expr.SubQuery, *expr.GroupingItem:
		return &expr.Outer{Corr: corr, Item: n, T: n.Type()}
	case *expr.Outer, *expr.OuterColumn, nil:
		return n
	}
	children := expr.Children(n)
	if len(children) == 0 {
		return n
	}
	next := make([]expr.Node, len(children))
	for i, c := range children {
		next[i] = liftItem(c, corr)
	}
	return expr.WithChildren(n, next)
}

// isItem reports whether n materializes a composite value rather than a
// scalar.
func isItem(n expr.Node) bool {
	switch t := n.(type) {
	case *expr.EntityItem, *expr.KeyItem, *expr.StructureItem, *expr.New, *expr.SubQuery, *expr.GroupingItem:
		return true
	case *expr.Outer:
		return isItem(t.Item)
	}
	return false
}

// isScalar reports whether n and all of its parts are scalar.
func isScalar(n expr.Node) bool {
	return !expr.Any(n, isItem)
}

func readsRow(n expr.Node) bool {
	return expr.Any(n, func(c expr.Node) bool {
		_, ok := c.(*expr.Column)
		return ok
	})
}

// shapeOf describes the layout of an item for set operation alignment.
func shapeOf(n expr.Node) string {
	switch t := n.(type) {
	case *expr.Column:
		return "col:" + kindName(t.T)
	case *expr.EntityItem:
		return fmt.Sprintf("entity:%s/%d", t.Info.Name, len(t.Columns))
	case *expr.KeyItem:
		return fmt.Sprintf("key:%s/%d", t.Info.Name, len(t.Columns))
	case *expr.StructureItem:
		return fmt.Sprintf("struct:%s/%d", t.Info.Name, len(t.Columns))
	case *expr.New:
		parts := make([]string, len(t.Args))
		for i, a := range t.Args {
			parts[i] = t.Names[i] + "=" + shapeOf(a)
		}
		return "{" + strings.Join(parts, ",") + "}"
	}
	return "expr:" + expr.Format(n)
}

func kindName(t *expr.Type) string {
	if t == nil {
		return "?"
	}
	c := *t
	c.Nullable = false
	return c.String()
}

func entityItem(info *model.TypeInfo, offset int, nullable bool) *expr.EntityItem {
	cols := make([]int, len(info.Columns))
	for i := range cols {
		cols[i] = offset + i
	}
	t := expr.EntityType(info.Name)
	if nullable {
		t = t.AsNullable()
	}
	return &expr.EntityItem{Info: info, Columns: cols, T: t}
}
