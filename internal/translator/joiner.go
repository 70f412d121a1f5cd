package translator

import (
	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/model"
	"github.com/roach88/quill/internal/rse"
)

// joinReference makes the entity referenced by f available in the row of s
// and returns the Context holding the extended row. refCols are the columns
// of s holding the reference's key. The join is memoized in the row's
// mapping, so every path through the same navigation shares one Join.
func (t *translator) joinReference(ctx Context, s *scope, f *model.FieldInfo, refCols []int, ownerNullable bool) (*expr.EntityItem, Context) {
	r := ctx.row(s)
	key := navigationKey(f, refCols)
	if it, ok := r.mapping.Joined(key); ok {
		return it, ctx
	}

	target := f.Target
	alias := t.newAlias()
	right := rse.NewAlias(rse.NewIndex(target.PrimaryIndex), alias)
	pairs := make([]rse.JoinPair, len(refCols))
	for i, c := range refCols {
		pairs[i] = rse.JoinPair{Left: c, Right: i}
	}
	outer := f.Nullable || ownerNullable

	offset := r.source.Width()
	item := entityItem(target, offset, outer)
	ctx = ctx.withSource(s, rse.NewJoin(r.source, right, pairs, outer))
	ctx = ctx.withMapping(s, r.mapping.With(key, item))

	t.logger.Debug("reference joined",
		"field", f.String(),
		"alias", alias,
		"outer", outer,
		"offset", offset,
	)
	return item, ctx
}

// setRelation returns the rows of the entity set f owned by the entity whose
// key parts are given. The parts are read from an outer row.
func setRelation(f *model.FieldInfo, ownerKey []expr.Node) (rse.Provider, *expr.EntityItem, error) {
	target := f.Target
	paired, ok := target.Field(f.Paired)
	if !ok || paired.Kind != model.FieldReference {
		return nil, nil, &Error{Code: CodeModel, Message: "entity set " + f.String() + " has no paired reference"}
	}
	cols := paired.Segment.Indexes()
	if len(cols) != len(ownerKey) {
		return nil, nil, &Error{Code: CodeModel, Message: "entity set " + f.String() + " key arity mismatch"}
	}
	preds := make([]expr.Node, len(cols))
	for i, c := range cols {
		col := &expr.Column{Index: c, Name: target.Columns[c].Name, T: columnType(target.Columns[c])}
		preds[i] = expr.Eq(col, ownerKey[i])
	}
	src := rse.NewFilter(rse.NewIndex(target.PrimaryIndex), expr.And(preds...))
	return src, entityItem(target, 0, false), nil
}

func columnType(c model.Column) *expr.Type {
	t := expr.PrimitiveOf(c.Type)
	if c.Nullable {
		t = t.AsNullable()
	}
	return t
}
