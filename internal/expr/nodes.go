package expr

import (
	"fmt"
	"sync"

	"github.com/roach88/quill/internal/model"
)

// Node is a sealed interface for expression nodes.
// Only types in this package implement it (marker method pattern).
type Node interface {
	Type() *Type
	exprNode()
}

// Relation is the minimal view of a relational plan that expression nodes
// need. Plans from internal/rse implement it.
type Relation interface {
	Width() int
}

// Constant is a literal value.
type Constant struct {
	Value any
	T     *Type
}

// Parameter is a lambda parameter. Parameters compare by identity.
type Parameter struct {
	Name string
	T    *Type
}

// Cell holds the current value of a captured variable. Application code may
// change it between executions of the same query.
type Cell struct {
	mu sync.RWMutex
	v  any
}

// NewCell returns a cell holding v.
func NewCell(v any) *Cell { return &Cell{v: v} }

// Get returns the current value.
func (c *Cell) Get() any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v
}

// Set replaces the current value.
func (c *Cell) Set(v any) {
	c.mu.Lock()
	c.v = v
	c.mu.Unlock()
}

// Captured references a variable captured from the enclosing program.
type Captured struct {
	Name string
	Cell *Cell
	T    *Type
}

// Source is the root of a persistent query: all instances of an entity.
type Source struct {
	Entity string
	T      *Type
}

// Member accesses a named member of Object.
type Member struct {
	Object Node
	Name   string
	T      *Type
}

// MethodSet groups callable methods by their declaring family.
type MethodSet int

const (
	// Queryable methods are query operators over persistent sequences.
	Queryable MethodSet = iota + 1
	// Enumerable methods are the same operators over in-memory sequences,
	// entity sets and groupings.
	Enumerable
	// Strings are string instance methods.
	Strings
	// Math are numeric helpers.
	Math
)

func (s MethodSet) String() string {
	switch s {
	case Queryable:
		return "Queryable"
	case Enumerable:
		return "Enumerable"
	case Strings:
		return "String"
	case Math:
		return "Math"
	}
	return fmt.Sprintf("MethodSet(%d)", int(s))
}

// Method identifies a callable method.
type Method struct {
	Set  MethodSet
	Name string
}

func (m Method) String() string { return m.Set.String() + "." + m.Name }

// Query operator names. For Queryable and Enumerable calls the source
// sequence is Args[0] and Object is nil.
const (
	MethodWhere             = "Where"
	MethodSelect            = "Select"
	MethodSelectMany        = "SelectMany"
	MethodJoin              = "Join"
	MethodGroupJoin         = "GroupJoin"
	MethodGroupBy           = "GroupBy"
	MethodOrderBy           = "OrderBy"
	MethodOrderByDescending = "OrderByDescending"
	MethodThenBy            = "ThenBy"
	MethodThenByDescending  = "ThenByDescending"
	MethodCount             = "Count"
	MethodLongCount         = "LongCount"
	MethodSum               = "Sum"
	MethodMin               = "Min"
	MethodMax               = "Max"
	MethodAverage           = "Average"
	MethodFirst             = "First"
	MethodFirstOrDefault    = "FirstOrDefault"
	MethodSingle            = "Single"
	MethodSingleOrDefault   = "SingleOrDefault"
	MethodAny               = "Any"
	MethodAll               = "All"
	MethodContains          = "Contains"
	MethodDistinct          = "Distinct"
	MethodSkip              = "Skip"
	MethodTake              = "Take"
	MethodConcat            = "Concat"
	MethodUnion             = "Union"
	MethodIntersect         = "Intersect"
	MethodExcept            = "Except"
)

// String and math method names.
const (
	MethodStartsWith = "StartsWith"
	MethodEndsWith   = "EndsWith"
	MethodToUpper    = "ToUpper"
	MethodToLower    = "ToLower"
	MethodTrim       = "Trim"
	MethodAbs        = "Abs"
	MethodRound      = "Round"
	MethodFloor      = "Floor"
	MethodCeiling    = "Ceiling"
)

// Call invokes a method. Object is the receiver of instance methods.
type Call struct {
	Method Method
	Object Node
	Args   []Node
	T      *Type
}

// BinaryOp enumerates binary operators.
type BinaryOp int

const (
	OpAdd BinaryOp = iota + 1
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpCoalesce
)

var binaryOpSymbols = map[BinaryOp]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%",
	OpEq: "==", OpNe: "!=", OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=",
	OpAnd: "&&", OpOr: "||", OpCoalesce: "??",
}

func (o BinaryOp) String() string {
	if s, ok := binaryOpSymbols[o]; ok {
		return s
	}
	return fmt.Sprintf("BinaryOp(%d)", int(o))
}

// IsComparison reports whether o yields a bool from two comparable values.
func (o BinaryOp) IsComparison() bool { return o >= OpEq && o <= OpGe }

// IsArithmetic reports whether o is a numeric operator.
func (o BinaryOp) IsArithmetic() bool { return o >= OpAdd && o <= OpMod }

// Binary applies a binary operator.
type Binary struct {
	Op    BinaryOp
	Left  Node
	Right Node
	T     *Type
}

// UnaryOp enumerates unary operators.
type UnaryOp int

const (
	OpNot UnaryOp = iota + 1
	OpNegate
	OpConvert
	// OpRequire yields its operand and fails when it is null. It reads an
	// aggregate whose result type has no null for an empty input.
	OpRequire
)

func (o UnaryOp) String() string {
	switch o {
	case OpNot:
		return "!"
	case OpNegate:
		return "-"
	case OpConvert:
		return "convert"
	case OpRequire:
		return "require"
	}
	return fmt.Sprintf("UnaryOp(%d)", int(o))
}

// Unary applies a unary operator. For OpConvert, T is the target type.
type Unary struct {
	Op      UnaryOp
	Operand Node
	T       *Type
}

// Conditional is a ternary expression.
type Conditional struct {
	Test    Node
	IfTrue  Node
	IfFalse Node
	T       *Type
}

// New constructs an anonymous value with named members.
type New struct {
	Names []string
	Args  []Node
	T     *Type
}

// Lambda is a function literal passed to a query operator.
type Lambda struct {
	Params []*Parameter
	Body   Node
}

// QueryParam reads a runtime parameter bound at execution time.
type QueryParam struct {
	Slot int
	Name string
	T    *Type
}

// Column reads a column of the current row.
type Column struct {
	Index int
	Name  string
	T     *Type
}

// Correlation links a correlated subquery to the outer row it runs for.
type Correlation struct {
	ID int
}

func (c *Correlation) String() string { return fmt.Sprintf("$c%d", c.ID) }

// OuterColumn reads a column of the outer row bound to Corr.
type OuterColumn struct {
	Corr  *Correlation
	Index int
	T     *Type
}

// EntityItem materializes an entity from its full row. Columns maps each
// column of Info's row layout to a column of the current row.
type EntityItem struct {
	Info    *model.TypeInfo
	Columns []int
	T       *Type
}

// KeyItem materializes an entity key.
type KeyItem struct {
	Info    *model.TypeInfo
	Columns []int
	T       *Type
}

// StructureItem materializes a structure value.
type StructureItem struct {
	Info    *model.TypeInfo
	Columns []int
	T       *Type
}

// SubQuery is a sequence evaluated per outer row at materialization time.
// Projector is a template over the rows of Relation.
type SubQuery struct {
	Relation  Relation
	Projector Node
	Corr      *Correlation
	T         *Type
}

// Outer is an item read from the outer row bound to Corr. It appears in
// the projectors of correlated subqueries.
type Outer struct {
	Corr *Correlation
	Item Node
	T    *Type
}

// GroupingItem materializes one group: the key from the current row and the
// elements through a correlated subquery.
type GroupingItem struct {
	Key      Node
	Elements *SubQuery
	T        *Type
}

func (n *Constant) Type() *Type      { return n.T }
func (n *Parameter) Type() *Type     { return n.T }
func (n *Captured) Type() *Type      { return n.T }
func (n *Source) Type() *Type        { return n.T }
func (n *Member) Type() *Type        { return n.T }
func (n *Call) Type() *Type          { return n.T }
func (n *Binary) Type() *Type        { return n.T }
func (n *Unary) Type() *Type         { return n.T }
func (n *Conditional) Type() *Type   { return n.T }
func (n *New) Type() *Type           { return n.T }
func (n *Lambda) Type() *Type        { return n.Body.Type() }
func (n *QueryParam) Type() *Type    { return n.T }
func (n *Column) Type() *Type        { return n.T }
func (n *OuterColumn) Type() *Type   { return n.T }
func (n *EntityItem) Type() *Type    { return n.T }
func (n *KeyItem) Type() *Type       { return n.T }
func (n *StructureItem) Type() *Type { return n.T }
func (n *SubQuery) Type() *Type      { return n.T }
func (n *GroupingItem) Type() *Type  { return n.T }
func (n *Outer) Type() *Type         { return n.T }

func (*Constant) exprNode()      {}
func (*Parameter) exprNode()     {}
func (*Captured) exprNode()      {}
func (*Source) exprNode()        {}
func (*Member) exprNode()        {}
func (*Call) exprNode()          {}
func (*Binary) exprNode()        {}
func (*Unary) exprNode()         {}
func (*Conditional) exprNode()   {}
func (*New) exprNode()           {}
func (*Lambda) exprNode()        {}
func (*QueryParam) exprNode()    {}
func (*Column) exprNode()        {}
func (*OuterColumn) exprNode()   {}
func (*EntityItem) exprNode()    {}
func (*KeyItem) exprNode()       {}
func (*StructureItem) exprNode() {}
func (*SubQuery) exprNode()      {}
func (*GroupingItem) exprNode()  {}
func (*Outer) exprNode()         {}
