package translator

import (
	"errors"
	"strings"

	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/memberpath"
	"github.com/roach88/quill/internal/model"
)

var errNotItem = errors.New("value has no persistent members")

// pathTarget is what a member path resolves to. When set is non-nil the
// path ends at an entity set and item is the set's owner.
type pathTarget struct {
	item  expr.Node
	set   *model.FieldInfo
	scope *scope
}

func (t *translator) visitMember(ctx Context, m *expr.Member) (expr.Node, Context, error) {
	path := memberpath.Parse(m, t.model)
	if !path.Valid() {
		if memberpath.IsModelError(path.Err()) {
			return nil, ctx, modelError(m, path.Err())
		}
		return t.memberFallback(ctx, m)
	}
	if ctx.lookup(path.Root) == nil {
		return t.memberFallback(ctx, m)
	}
	target, ctx, err := t.resolvePath(ctx, path, m)
	if err != nil {
		return nil, ctx, err
	}
	if target.set != nil {
		return t.visitNestedSubquery(ctx, m)
	}
	item, err := t.liftFor(ctx, target.scope, target.item, m)
	return item, ctx, err
}

// resolvePath walks a parsed path over the item bound to its root. Entity
// items are joined into the binding's scope unless the leaf is wanted as a
// key. The returned item belongs to the binding's row and is not lifted.
func (t *translator) resolvePath(ctx Context, path memberpath.Path, n expr.Node) (*pathTarget, Context, error) {
	b := ctx.lookup(path.Root)
	if b == nil {
		return nil, ctx, argumentError(n, "parameter %s is not in scope", path.Root.Name)
	}
	cur := b.item
	last := len(path.Items) - 1
	for i, it := range path.Items {
		leaf := i == last
		asKey := it.Kind == memberpath.Key || (ctx.calculate && leaf)
		next, set, sctx, err := t.step(ctx, b.scope, cur, it.Name, it.Type, asKey, n)
		if err != nil {
			return nil, ctx, err
		}
		ctx = sctx
		if set != nil {
			if !leaf {
				return nil, ctx, argumentError(n, "member of entity set %s", set)
			}
			return &pathTarget{item: next, set: set, scope: b.scope}, ctx, nil
		}
		cur = next
	}
	return &pathTarget{item: cur, scope: b.scope}, ctx, nil
}

// step resolves one (possibly dotted) member of cur. Joins are appended to
// s, the scope whose row cur belongs to.
func (t *translator) step(ctx Context, s *scope, cur expr.Node, name string, typ *expr.Type, asKey bool, n expr.Node) (expr.Node, *model.FieldInfo, Context, error) {
	switch c := cur.(type) {
	case *expr.Outer:
		fr := ctx.frameOf(c.Corr)
		if fr == nil {
			return nil, nil, ctx, unsupported(n, "outer row %s is not in scope", c.Corr)
		}
		inner, set, sctx, err := t.step(ctx, fr.scope, c.Item, name, typ, asKey, n)
		if err != nil {
			return nil, nil, ctx, err
		}
		return liftItem(inner, c.Corr), set, sctx, nil
	case *expr.New:
		for i, nm := range c.Names {
			if nm == name {
				return c.Args[i], nil, ctx, nil
			}
		}
		return nil, nil, ctx, modelError(n, &memberpath.ModelError{Type: c.T.String(), Member: name})
	case *expr.GroupingItem:
		if name == model.KeyMember {
			return c.Key, nil, ctx, nil
		}
		return nil, nil, ctx, modelError(n, &memberpath.ModelError{Type: c.T.String(), Member: name})
	case *expr.EntityItem, *expr.StructureItem, *expr.KeyItem:
		return t.fieldStep(ctx, s, cur, name, typ, asKey, n)
	}
	return nil, nil, ctx, argumentError(n, "%s: %s", errNotItem, expr.Format(cur))
}

func (t *translator) fieldStep(ctx Context, s *scope, cur expr.Node, name string, typ *expr.Type, asKey bool, n expr.Node) (expr.Node, *model.FieldInfo, Context, error) {
	if name == model.KeyMember {
		switch c := cur.(type) {
		case *expr.EntityItem:
			key := c.Info.KeySegment()
			cols := append([]int(nil), c.Columns[key.Offset:key.End()]...)
			return &expr.KeyItem{Info: c.Info, Columns: cols, T: nullableIf(expr.KeyType(c.Info.Name), c.T.Nullable)}, nil, ctx, nil
		case *expr.KeyItem:
			return c, nil, ctx, nil
		}
		return nil, nil, ctx, argumentError(n, "%s has no key", expr.Format(cur))
	}

	loc, err := locate(cur, name, n)
	if err != nil {
		return nil, nil, ctx, err
	}
	ownerNullable := cur.Type() != nil && cur.Type().Nullable
	f := loc.field
	switch f.Kind {
	case model.FieldPrimitive:
		ct := typ
		if ct == nil || !ct.IsPrimitive() {
			ct = expr.PrimitiveOf(f.ValueType)
		}
		return &expr.Column{Index: loc.cols[0], Name: name, T: nullableIf(ct, ownerNullable || f.Nullable)}, nil, ctx, nil
	case model.FieldStructure:
		st := nullableIf(expr.StructureType(f.Target.Name), ownerNullable)
		return &expr.StructureItem{Info: f.Target, Columns: loc.cols, T: st}, nil, ctx, nil
	case model.FieldReference:
		if asKey {
			kt := nullableIf(expr.KeyType(f.Target.Name), ownerNullable || f.Nullable)
			return &expr.KeyItem{Info: f.Target, Columns: loc.cols, T: kt}, nil, ctx, nil
		}
		if s == nil {
			return nil, nil, ctx, unsupported(n, "navigation %s outside a query scope", f)
		}
		item, jctx := t.joinReference(ctx, s, f, loc.cols, ownerNullable)
		return item, nil, jctx, nil
	case model.FieldEntitySet:
		return cur, f, ctx, nil
	}
	return nil, nil, ctx, argumentError(n, "field %s of kind %s", f, f.Kind)
}

type location struct {
	field *model.FieldInfo
	cols  []int
}

// locate finds the columns of a dotted member inside an item. Key fields of
// a reference fold into the reference's own columns.
func locate(cur expr.Node, dotted string, n expr.Node) (location, error) {
	var info *model.TypeInfo
	var cols []int
	switch c := cur.(type) {
	case *expr.EntityItem:
		info, cols = c.Info, c.Columns
	case *expr.StructureItem:
		info, cols = c.Info, c.Columns
	case *expr.KeyItem:
		info, cols = c.Info, c.Columns
	default:
		return location{}, argumentError(n, "%s: %s", errNotItem, expr.Format(cur))
	}

	parts := strings.Split(dotted, ".")
	var f *model.FieldInfo
	for i, part := range parts {
		if f != nil && f.Kind == model.FieldReference {
			kf, ok := f.Target.Field(part)
			if !ok || !kf.IsKey {
				return location{}, modelError(n, &memberpath.ModelError{Type: f.Target.Name, Member: part})
			}
			cols = cols[kf.Segment.Offset:kf.Segment.End()]
			f = kf
			continue
		}
		nf, ok := info.Field(part)
		if !ok {
			return location{}, modelError(n, &memberpath.ModelError{Type: info.Name, Member: part})
		}
		if nf.Kind == model.FieldEntitySet {
			if i != len(parts)-1 {
				return location{}, argumentError(n, "member of entity set %s", nf)
			}
			return location{field: nf}, nil
		}
		seg := nf.Segment
		if seg.End() > len(cols) {
			return location{}, argumentError(n, "%s is not available on %s", nf, expr.Format(cur))
		}
		cols = cols[seg.Offset:seg.End()]
		if nf.Kind == model.FieldStructure {
			info = nf.Target
		}
		f = nf
	}
	return location{field: f, cols: append([]int(nil), cols...)}, nil
}

// liftFor rewrites an item of scope s as seen from the current context.
// Items of an enclosing query are read through the correlation of the
// subquery entered from that scope.
func (t *translator) liftFor(ctx Context, s *scope, item expr.Node, n expr.Node) (expr.Node, error) {
	if s == nil || s.depth >= ctx.depth {
		return item, nil
	}
	fr := ctx.frameAt(s.depth)
	if fr == nil || fr.scope != s {
		return nil, unsupported(n, "reference to an uncorrelated outer row")
	}
	return liftItem(item, fr.corr), nil
}

// memberFallback handles members of values that are not parameter paths:
// anonymous results of nested terminals, members of computed items and
// scalar properties such as string length.
func (t *translator) memberFallback(ctx Context, m *expr.Member) (expr.Node, Context, error) {
	obj, vctx, err := t.visitScalar(ctx.valueMode(), m.Object)
	if err != nil {
		return nil, ctx, err
	}
	ctx = ctx.restore(vctx)
	if !isItem(obj) {
		return &expr.Member{Object: obj, Name: m.Name, T: m.T}, ctx, nil
	}
	next, set, ctx, err := t.step(ctx, ctx.scope, obj, m.Name, m.T, ctx.calculate, m)
	if err != nil {
		return nil, ctx, err
	}
	if set != nil {
		return nil, ctx, unsupported(m, "entity set %s of a computed value", set)
	}
	return next, ctx, nil
}

func nullableIf(t *expr.Type, nullable bool) *expr.Type {
	if nullable {
		return t.AsNullable()
	}
	return t
}
