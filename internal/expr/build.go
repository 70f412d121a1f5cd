package expr

import (
	"time"

	"github.com/shopspring/decimal"
)

// Const returns a literal with its type inferred from the Go value.
func Const(v any) *Constant {
	return &Constant{Value: v, T: TypeOfValue(v)}
}

// TypeOfValue infers the expression type of a Go scalar.
func TypeOfValue(v any) *Type {
	switch v.(type) {
	case nil:
		return Null
	case bool:
		return Bool
	case int, int8, int16, int32, int64, uint8, uint16, uint32, uint64:
		return Int
	case float32, float64:
		return Float
	case decimal.Decimal, *decimal.Decimal:
		return Decimal
	case string:
		return String
	case time.Time:
		return Time
	case []any:
		return EnumerableOf(Unknown)
	}
	return Unknown
}

// NewBinary builds a binary node and infers its result type.
func NewBinary(op BinaryOp, left, right Node) *Binary {
	var t *Type
	switch {
	case op.IsComparison(), op == OpAnd, op == OpOr:
		t = Bool
	case op == OpCoalesce:
		t = left.Type()
		if t.Kind == TypeNull {
			t = right.Type()
		}
	default:
		t = Promote(left.Type(), right.Type())
	}
	return &Binary{Op: op, Left: left, Right: right, T: t}
}

// Not negates a predicate.
func Not(n Node) *Unary {
	return &Unary{Op: OpNot, Operand: n, T: Bool}
}

// Convert changes the type of n.
func Convert(n Node, to *Type) *Unary {
	return &Unary{Op: OpConvert, Operand: n, T: to}
}

// Require reads n as a value of the non-nullable type t.
func Require(n Node, t *Type) *Unary {
	return &Unary{Op: OpRequire, Operand: n, T: t}
}

// And combines predicates. Nil entries are skipped; an empty list yields
// a true constant.
func And(preds ...Node) Node {
	var out Node
	for _, p := range preds {
		if p == nil {
			continue
		}
		if out == nil {
			out = p
			continue
		}
		out = NewBinary(OpAnd, out, p)
	}
	if out == nil {
		return Const(true)
	}
	return out
}

// Eq builds an equality comparison.
func Eq(left, right Node) *Binary { return NewBinary(OpEq, left, right) }

// NewCall builds a method call.
func NewCall(set MethodSet, name string, t *Type, object Node, args ...Node) *Call {
	return &Call{Method: Method{Set: set, Name: name}, Object: object, Args: args, T: t}
}

// NewAnonymous builds a New node and its anonymous type.
func NewAnonymous(names []string, args []Node) *New {
	members := make([]MemberType, len(names))
	for i, n := range names {
		members[i] = MemberType{Name: n, Type: args[i].Type()}
	}
	return &New{Names: names, Args: args, T: AnonymousOf(members...)}
}

// IsQueryOperator reports whether n calls a Queryable or Enumerable method.
func IsQueryOperator(n Node) bool {
	c, ok := n.(*Call)
	return ok && (c.Method.Set == Queryable || c.Method.Set == Enumerable)
}

// Unquote returns n as a lambda when it is one.
func Unquote(n Node) (*Lambda, bool) {
	l, ok := n.(*Lambda)
	return l, ok
}
