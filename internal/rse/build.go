package rse

import (
	"errors"
	"fmt"

	"github.com/roach88/quill/internal/evaluator"
	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/model"
)

// ErrWidthMismatch is returned when set operation inputs differ in width.
var ErrWidthMismatch = errors.New("set operation inputs differ in width")

// NewIndex scans idx.
func NewIndex(idx *model.IndexInfo) *Index {
	cols := make([]ColumnInfo, len(idx.Columns))
	for i, c := range idx.Columns {
		t := expr.PrimitiveOf(c.Type)
		if c.Nullable {
			t = t.AsNullable()
		}
		cols[i] = ColumnInfo{Name: c.Name, Type: t}
	}
	return &Index{base: base{header: Header{Columns: cols}}, Index: idx}
}

// NewAlias renames the columns of src.
func NewAlias(src Provider, name string) *Alias {
	in := src.Header().Columns
	cols := make([]ColumnInfo, len(in))
	for i, c := range in {
		cols[i] = ColumnInfo{Name: name + "." + c.Name, Type: c.Type}
	}
	return &Alias{base: base{header: Header{Columns: cols}}, Source: src, Name: name}
}

// NewFilter filters src by pred.
func NewFilter(src Provider, pred expr.Node) *Filter {
	return &Filter{base: base{header: src.Header()}, Source: src, Predicate: pred}
}

// NewSelect keeps the given columns of src.
func NewSelect(src Provider, cols []int) *Select {
	cols = append([]int(nil), cols...)
	return &Select{base: base{header: src.Header().Pick(cols)}, Source: src, Columns: cols}
}

// NewJoin joins left and right on pairs. Right columns of an outer join are
// nullable.
func NewJoin(left, right Provider, pairs []JoinPair, outer bool) *Join {
	rh := right.Header()
	if outer {
		rh = rh.nullable()
	}
	return &Join{
		base:  base{header: left.Header().Concat(rh)},
		Left:  left,
		Right: right,
		Pairs: append([]JoinPair(nil), pairs...),
		Outer: outer,
	}
}

// NewSort orders src.
func NewSort(src Provider, order []Order) *Sort {
	return &Sort{base: base{header: src.Header()}, Source: src, Order: append([]Order(nil), order...)}
}

// NewReindex re-sorts an ordered src.
func NewReindex(src Provider, order []Order) *Reindex {
	return &Reindex{base: base{header: src.Header()}, Source: src, Order: append([]Order(nil), order...)}
}

// AggregateType returns the result type of f over a column of type t.
func AggregateType(f AggregateFunc, t *expr.Type) *expr.Type {
	switch f {
	case Count:
		return expr.Int
	case Sum:
		if t.Kind == expr.TypeDecimal || t.Kind == expr.TypeFloat {
			return &expr.Type{Kind: t.Kind}
		}
		return expr.Int
	case Avg:
		if t.Kind == expr.TypeDecimal {
			return expr.Decimal.AsNullable()
		}
		return expr.Float.AsNullable()
	default:
		return t.AsNullable()
	}
}

// NewAggregate groups src by group and computes aggs.
func NewAggregate(src Provider, group []int, aggs []AggregateColumn) *Aggregate {
	in := src.Header()
	cols := make([]ColumnInfo, 0, len(group)+len(aggs))
	for _, g := range group {
		cols = append(cols, in.Columns[g])
	}
	out := make([]AggregateColumn, len(aggs))
	for i, a := range aggs {
		if a.Type == nil {
			var srcType *expr.Type = expr.Int
			if a.Column >= 0 {
				srcType = in.Columns[a.Column].Type
			}
			a.Type = AggregateType(a.Func, srcType)
		}
		if a.Name == "" {
			a.Name = fmt.Sprintf("%s%d", a.Func, i)
		}
		out[i] = a
		cols = append(cols, ColumnInfo{Name: a.Name, Type: a.Type})
	}
	return &Aggregate{
		base:       base{header: Header{Columns: cols}},
		Source:     src,
		Group:      append([]int(nil), group...),
		Aggregates: out,
	}
}

// NewCalculate appends calculated columns to src.
func NewCalculate(src Provider, cols []CalculatedColumn) *Calculate {
	h := src.Header()
	extra := make([]ColumnInfo, len(cols))
	for i, c := range cols {
		extra[i] = ColumnInfo{Name: c.Name, Type: c.Type}
	}
	return &Calculate{
		base:    base{header: h.Concat(Header{Columns: extra})},
		Source:  src,
		Columns: append([]CalculatedColumn(nil), cols...),
	}
}

// NewDistinct removes duplicates from src.
func NewDistinct(src Provider) *Distinct {
	return &Distinct{base: base{header: src.Header()}, Source: src}
}

// NewSkip skips count rows of src.
func NewSkip(src Provider, count expr.Node) *Skip {
	return &Skip{base: base{header: src.Header()}, Source: src, Count: count, counter: evaluator.CompileCount(count)}
}

// NewTake keeps count rows of src.
func NewTake(src Provider, count expr.Node) *Take {
	return &Take{base: base{header: src.Header()}, Source: src, Count: count, counter: evaluator.CompileCount(count)}
}

// NewApply evaluates right per left row with corr bound.
func NewApply(left, right Provider, corr *expr.Correlation, outer bool, seq SequenceType) *Apply {
	rh := right.Header()
	if outer {
		rh = rh.nullable()
	}
	return &Apply{
		base:     base{header: left.Header().Concat(rh)},
		Left:     left,
		Right:    right,
		Corr:     corr,
		Outer:    outer,
		Sequence: seq,
	}
}

// NewExistence tests whether src has rows.
func NewExistence(src Provider, name string) *Existence {
	if name == "" {
		name = "exists"
	}
	return &Existence{
		base:   base{header: Header{Columns: []ColumnInfo{{Name: name, Type: expr.Bool}}}},
		Source: src,
		Name:   name,
	}
}

// NewSetOp combines left and right. op must be one of the set operation kinds.
func NewSetOp(op Kind, left, right Provider) (*SetOp, error) {
	switch op {
	case KindConcat, KindUnion, KindIntersect, KindExcept:
	default:
		return nil, fmt.Errorf("%s is not a set operation", op)
	}
	if left.Width() != right.Width() {
		return nil, fmt.Errorf("%w: %s of %d and %d columns", ErrWidthMismatch, op, left.Width(), right.Width())
	}
	return &SetOp{base: base{header: left.Header()}, Op: op, Left: left, Right: right}, nil
}

// WithSources rebuilds p over new sources, recomputing its header. The
// number of sources must match p.Sources().
func WithSources(p Provider, sources ...Provider) Provider {
	switch t := p.(type) {
	case *Index:
		return t
	case *Alias:
		return NewAlias(sources[0], t.Name)
	case *Filter:
		return NewFilter(sources[0], t.Predicate)
	case *Select:
		return NewSelect(sources[0], t.Columns)
	case *Join:
		return NewJoin(sources[0], sources[1], t.Pairs, t.Outer)
	case *Sort:
		return NewSort(sources[0], t.Order)
	case *Reindex:
		return NewReindex(sources[0], t.Order)
	case *Aggregate:
		return NewAggregate(sources[0], t.Group, t.Aggregates)
	case *Calculate:
		return NewCalculate(sources[0], t.Columns)
	case *Distinct:
		return NewDistinct(sources[0])
	case *Skip:
		return NewSkip(sources[0], t.Count)
	case *Take:
		return NewTake(sources[0], t.Count)
	case *Apply:
		return NewApply(sources[0], sources[1], t.Corr, t.Outer, t.Sequence)
	case *Existence:
		return NewExistence(sources[0], t.Name)
	case *SetOp:
		return &SetOp{base: base{header: sources[0].Header()}, Op: t.Op, Left: sources[0], Right: sources[1]}
	}
	panic(fmt.Sprintf("rse: unknown provider %T", p))
}
