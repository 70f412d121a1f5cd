package rse

import (
	"fmt"

	"github.com/roach88/quill/internal/evaluator"
	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/model"
)

// Kind identifies a provider type.
type Kind int

const (
	KindIndex Kind = iota + 1
	KindAlias
	KindFilter
	KindSelect
	KindJoin
	KindLeftJoin
	KindSort
	KindReindex
	KindAggregate
	KindCalculate
	KindDistinct
	KindSkip
	KindTake
	KindApply
	KindExistence
	KindConcat
	KindUnion
	KindIntersect
	KindExcept
)

var kindNames = map[Kind]string{
	KindIndex:     "Index",
	KindAlias:     "Alias",
	KindFilter:    "Filter",
	KindSelect:    "Select",
	KindJoin:      "Join",
	KindLeftJoin:  "LeftJoin",
	KindSort:      "Sort",
	KindReindex:   "Reindex",
	KindAggregate: "Aggregate",
	KindCalculate: "Calculate",
	KindDistinct:  "Distinct",
	KindSkip:      "Skip",
	KindTake:      "Take",
	KindApply:     "Apply",
	KindExistence: "Existence",
	KindConcat:    "Concat",
	KindUnion:     "Union",
	KindIntersect: "Intersect",
	KindExcept:    "Except",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ColumnInfo describes one output column.
type ColumnInfo struct {
	Name string
	Type *expr.Type
}

// Header is the ordered output column list of a provider.
type Header struct {
	Columns []ColumnInfo
}

// Width returns the number of columns.
func (h Header) Width() int { return len(h.Columns) }

// Concat appends o's columns.
func (h Header) Concat(o Header) Header {
	cols := make([]ColumnInfo, 0, len(h.Columns)+len(o.Columns))
	cols = append(cols, h.Columns...)
	cols = append(cols, o.Columns...)
	return Header{Columns: cols}
}

// Pick returns the header of the chosen columns.
func (h Header) Pick(idx []int) Header {
	cols := make([]ColumnInfo, len(idx))
	for i, c := range idx {
		cols[i] = h.Columns[c]
	}
	return Header{Columns: cols}
}

func (h Header) nullable() Header {
	cols := make([]ColumnInfo, len(h.Columns))
	for i, c := range h.Columns {
		cols[i] = ColumnInfo{Name: c.Name, Type: c.Type.AsNullable()}
	}
	return Header{Columns: cols}
}

// Provider is a node of the relational plan.
//
// This is a sealed interface - only types in this package implement it.
type Provider interface {
	Kind() Kind
	Header() Header
	Width() int
	Sources() []Provider
	providerNode()
}

type base struct {
	header Header
}

func (b *base) Header() Header { return b.header }
func (b *base) Width() int     { return b.header.Width() }
func (*base) providerNode()    {}

// Index scans the primary index of an entity.
type Index struct {
	base
	Index *model.IndexInfo
}

// Alias renames the columns of Source to Name.Column.
type Alias struct {
	base
	Source Provider
	Name   string
}

// Filter keeps rows for which Predicate is true.
type Filter struct {
	base
	Source    Provider
	Predicate expr.Node
}

// Select keeps the listed source columns in order.
type Select struct {
	base
	Source  Provider
	Columns []int
}

// JoinPair equates a left column with a right column. Right is relative to
// the right source.
type JoinPair struct {
	Left  int
	Right int
}

// Join is an equi-join. Outer keeps unmatched left rows with nil right
// columns (LeftJoin).
type Join struct {
	base
	Left  Provider
	Right Provider
	Pairs []JoinPair
	Outer bool
}

// Order is one sort key.
type Order struct {
	Column     int
	Descending bool
}

// Sort orders an unordered source.
type Sort struct {
	base
	Source Provider
	Order  []Order
}

// Reindex re-sorts a source whose existing order matters to a limit below
// it. Ties keep the source order.
type Reindex struct {
	base
	Source Provider
	Order  []Order
}

// AggregateFunc enumerates aggregate functions.
type AggregateFunc int

const (
	Count AggregateFunc = iota + 1
	Sum
	Min
	Max
	Avg
)

func (f AggregateFunc) String() string {
	switch f {
	case Count:
		return "Count"
	case Sum:
		return "Sum"
	case Min:
		return "Min"
	case Max:
		return "Max"
	case Avg:
		return "Avg"
	}
	return fmt.Sprintf("AggregateFunc(%d)", int(f))
}

// AggregateColumn computes Func over Column (-1 counts rows).
type AggregateColumn struct {
	Func   AggregateFunc
	Column int
	Name   string
	Type   *expr.Type
}

// Aggregate groups by Group columns. With no group columns it produces
// exactly one row, even over an empty source.
type Aggregate struct {
	base
	Source     Provider
	Group      []int
	Aggregates []AggregateColumn
}

// CalculatedColumn is a computed column appended by Calculate.
type CalculatedColumn struct {
	Name string
	Type *expr.Type
	Expr expr.Node
}

// Calculate appends computed columns.
type Calculate struct {
	base
	Source  Provider
	Columns []CalculatedColumn
}

// Distinct removes duplicate rows.
type Distinct struct {
	base
	Source Provider
}

// Skip drops the first Count rows. Count is compiled when the provider is
// built and evaluated at execution time.
type Skip struct {
	base
	Source Provider
	Count  expr.Node

	counter evaluator.Counter
}

// Rows returns the number of rows to skip for the parameters in env.
func (s *Skip) Rows(env evaluator.Env) (int, error) { return s.counter(env) }

// Take keeps the first Count rows.
type Take struct {
	base
	Source Provider
	Count  expr.Node

	counter evaluator.Counter
}

// Rows returns the number of rows to keep for the parameters in env.
func (t *Take) Rows(env evaluator.Env) (int, error) { return t.counter(env) }

// SequenceType describes how many right rows an Apply expects per left row.
type SequenceType int

const (
	// SequenceAll joins every right row.
	SequenceAll SequenceType = iota + 1
	// SequenceFirst uses the first right row.
	SequenceFirst
	// SequenceSingle uses the only right row and fails on more.
	SequenceSingle
)

func (s SequenceType) String() string {
	switch s {
	case SequenceAll:
		return "all"
	case SequenceFirst:
		return "first"
	case SequenceSingle:
		return "single"
	}
	return fmt.Sprintf("SequenceType(%d)", int(s))
}

// Apply evaluates Right once per Left row with Corr bound to that row.
// Outer keeps left rows without right rows (right columns nil).
type Apply struct {
	base
	Left     Provider
	Right    Provider
	Corr     *expr.Correlation
	Outer    bool
	Sequence SequenceType
}

// Existence yields one row with one bool column.
type Existence struct {
	base
	Source Provider
	Name   string
}

// SetOp combines two equal-width inputs.
type SetOp struct {
	base
	Op    Kind
	Left  Provider
	Right Provider
}

func (*Index) Kind() Kind     { return KindIndex }
func (*Alias) Kind() Kind     { return KindAlias }
func (*Filter) Kind() Kind    { return KindFilter }
func (*Select) Kind() Kind    { return KindSelect }
func (*Sort) Kind() Kind      { return KindSort }
func (*Reindex) Kind() Kind   { return KindReindex }
func (*Aggregate) Kind() Kind { return KindAggregate }
func (*Calculate) Kind() Kind { return KindCalculate }
func (*Distinct) Kind() Kind  { return KindDistinct }
func (*Skip) Kind() Kind      { return KindSkip }
func (*Take) Kind() Kind      { return KindTake }
func (*Apply) Kind() Kind     { return KindApply }
func (*Existence) Kind() Kind { return KindExistence }
func (s *SetOp) Kind() Kind   { return s.Op }

// Kind returns KindLeftJoin for outer joins.
func (j *Join) Kind() Kind {
	if j.Outer {
		return KindLeftJoin
	}
	return KindJoin
}

func (*Index) Sources() []Provider       { return nil }
func (p *Alias) Sources() []Provider     { return []Provider{p.Source} }
func (p *Filter) Sources() []Provider    { return []Provider{p.Source} }
func (p *Select) Sources() []Provider    { return []Provider{p.Source} }
func (p *Join) Sources() []Provider      { return []Provider{p.Left, p.Right} }
func (p *Sort) Sources() []Provider      { return []Provider{p.Source} }
func (p *Reindex) Sources() []Provider   { return []Provider{p.Source} }
func (p *Aggregate) Sources() []Provider { return []Provider{p.Source} }
func (p *Calculate) Sources() []Provider { return []Provider{p.Source} }
func (p *Distinct) Sources() []Provider  { return []Provider{p.Source} }
func (p *Skip) Sources() []Provider      { return []Provider{p.Source} }
func (p *Take) Sources() []Provider      { return []Provider{p.Source} }
func (p *Apply) Sources() []Provider     { return []Provider{p.Left, p.Right} }
func (p *Existence) Sources() []Provider { return []Provider{p.Source} }
func (p *SetOp) Sources() []Provider     { return []Provider{p.Left, p.Right} }
