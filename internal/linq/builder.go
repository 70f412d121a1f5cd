package linq

import (
	"fmt"

	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/model"
)

// Builder composes query expressions over a model. Member types are
// resolved against the model as the query is built; the first resolution
// failure is kept and reported by Build.
type Builder struct {
	model *model.Model
	next  int
	err   error
}

// New returns a builder for queries over m.
func New(m *model.Model) *Builder {
	return &Builder{model: m}
}

// Model returns the model queries are built against.
func (b *Builder) Model() *model.Model { return b.model }

// Err returns the first error recorded while building.
func (b *Builder) Err() error { return b.err }

func (b *Builder) fail(format string, args ...any) {
	if b.err == nil {
		b.err = fmt.Errorf(format, args...)
	}
}

// From starts a query over every instance of entity.
func (b *Builder) From(entity string) Seq {
	info, ok := b.model.Type(entity)
	if !ok || !info.IsEntity() {
		b.fail("linq: unknown entity %q", entity)
	}
	return Seq{b: b, node: &expr.Source{Entity: entity, T: expr.QueryableOf(expr.EntityType(entity))}}
}

// Lit returns a literal.
func (b *Builder) Lit(v any) Expr {
	return Expr{b: b, node: expr.Const(v)}
}

// Capture returns a reference to a captured variable. The cell is read
// when the query is compiled, so later writes change the bound parameter.
func (b *Builder) Capture(name string, c *expr.Cell) Expr {
	return Expr{b: b, node: &expr.Captured{Name: name, Cell: c, T: expr.TypeOfValue(c.Get())}}
}

// Cond returns test ? a : c.
func (b *Builder) Cond(test, a, c any) Expr {
	tn, an, cn := b.node(test), b.node(a), b.node(c)
	t := an.Type()
	if t.Kind == expr.TypeNull {
		t = cn.Type().AsNullable()
	}
	return Expr{b: b, node: &expr.Conditional{Test: tn, IfTrue: an, IfFalse: cn, T: t}}
}

// Field is a named member of an anonymous value.
type Field struct {
	Name  string
	Value any
}

// F pairs a member name with its value.
func F(name string, v any) Field { return Field{Name: name, Value: v} }

// Anonymous builds an anonymous value from named members.
func (b *Builder) Anonymous(fields ...Field) Expr {
	names := make([]string, len(fields))
	args := make([]expr.Node, len(fields))
	for i, f := range fields {
		names[i] = f.Name
		args[i] = b.node(f.Value)
	}
	return Expr{b: b, node: expr.NewAnonymous(names, args)}
}

// Wrap adopts an existing node.
func (b *Builder) Wrap(n expr.Node) Expr { return Expr{b: b, node: n} }

func (b *Builder) node(v any) expr.Node {
	switch x := v.(type) {
	case Expr:
		return x.node
	case Seq:
		return x.node
	case expr.Node:
		return x
	}
	return expr.Const(v)
}

func (b *Builder) param(name string, t *expr.Type) *expr.Parameter {
	if name == "" {
		name = fmt.Sprintf("x%d", b.next)
		b.next++
	}
	if t == nil {
		t = expr.Unknown
	}
	return &expr.Parameter{Name: name, T: t}
}

// memberType resolves the type of member name of a value of type t.
func (b *Builder) memberType(t *expr.Type, name string) (*expr.Type, error) {
	if t == nil {
		return nil, fmt.Errorf("member %s of an untyped value", name)
	}
	switch t.Kind {
	case expr.TypeEntity, expr.TypeStructure:
		info, ok := b.model.Type(t.Name)
		if !ok {
			return nil, fmt.Errorf("unknown type %q", t.Name)
		}
		if name == model.KeyMember && info.IsEntity() {
			return nullableIf(expr.KeyType(info.Name), t.Nullable), nil
		}
		f, ok := info.Field(name)
		if !ok {
			return nil, fmt.Errorf("%s has no member %q", info.Name, name)
		}
		return fieldType(f, t.Nullable), nil
	case expr.TypeKey:
		info, ok := b.model.Type(t.Name)
		if !ok {
			return nil, fmt.Errorf("unknown type %q", t.Name)
		}
		if name == model.KeyMember {
			return t, nil
		}
		f, ok := info.Field(name)
		if !ok || !f.IsKey {
			return nil, fmt.Errorf("key of %s has no member %q", info.Name, name)
		}
		return nullableIf(expr.PrimitiveOf(f.ValueType), t.Nullable), nil
	case expr.TypeAnonymous:
		if mt, ok := t.Member(name); ok {
			return mt, nil
		}
	case expr.TypeGrouping:
		if name == model.KeyMember {
			return t.Key, nil
		}
	case expr.TypeString:
		if name == "Length" {
			return nullableIf(expr.Int, t.Nullable), nil
		}
	}
	return nil, fmt.Errorf("%s has no member %q", t, name)
}

func fieldType(f *model.FieldInfo, ownerNullable bool) *expr.Type {
	switch f.Kind {
	case model.FieldPrimitive:
		return nullableIf(expr.PrimitiveOf(f.ValueType), ownerNullable || f.Nullable)
	case model.FieldStructure:
		return nullableIf(expr.StructureType(f.Target.Name), ownerNullable)
	case model.FieldReference:
		return nullableIf(expr.EntityType(f.Target.Name), ownerNullable || f.Nullable)
	case model.FieldEntitySet:
		return expr.EntitySetOf(f.Target.Name)
	}
	return expr.Unknown
}

func nullableIf(t *expr.Type, nullable bool) *expr.Type {
	if nullable {
		return t.AsNullable()
	}
	return t
}

// Expr is a scalar or item expression under construction.
type Expr struct {
	b    *Builder
	node expr.Node
}

// Node returns the built node.
func (e Expr) Node() expr.Node { return e.node }

// Type returns the static type of e.
func (e Expr) Type() *expr.Type { return e.node.Type() }

// Get accesses a member.
func (e Expr) Get(name string) Expr {
	t, err := e.b.memberType(e.node.Type(), name)
	if err != nil {
		e.b.fail("linq: %w", err)
		t = expr.Unknown
	}
	return Expr{b: e.b, node: &expr.Member{Object: e.node, Name: name, T: t}}
}

// Path accesses a chain of members.
func (e Expr) Path(names ...string) Expr {
	for _, n := range names {
		e = e.Get(n)
	}
	return e
}

// Seq treats e as a sequence: an entity set, a grouping or a nested query.
func (e Expr) Seq() Seq {
	if t := e.node.Type(); t == nil || !t.IsSequence() {
		e.b.fail("linq: %s is not a sequence", expr.Format(e.node))
	}
	return Seq{b: e.b, node: e.node}
}

func (e Expr) binary(op expr.BinaryOp, o any) Expr {
	return Expr{b: e.b, node: expr.NewBinary(op, e.node, e.b.node(o))}
}

func (e Expr) Eq(o any) Expr       { return e.binary(expr.OpEq, o) }
func (e Expr) Ne(o any) Expr       { return e.binary(expr.OpNe, o) }
func (e Expr) Lt(o any) Expr       { return e.binary(expr.OpLt, o) }
func (e Expr) Le(o any) Expr       { return e.binary(expr.OpLe, o) }
func (e Expr) Gt(o any) Expr       { return e.binary(expr.OpGt, o) }
func (e Expr) Ge(o any) Expr       { return e.binary(expr.OpGe, o) }
func (e Expr) Add(o any) Expr      { return e.binary(expr.OpAdd, o) }
func (e Expr) Sub(o any) Expr      { return e.binary(expr.OpSub, o) }
func (e Expr) Mul(o any) Expr      { return e.binary(expr.OpMul, o) }
func (e Expr) Div(o any) Expr      { return e.binary(expr.OpDiv, o) }
func (e Expr) Mod(o any) Expr      { return e.binary(expr.OpMod, o) }
func (e Expr) And(o any) Expr      { return e.binary(expr.OpAnd, o) }
func (e Expr) Or(o any) Expr       { return e.binary(expr.OpOr, o) }
func (e Expr) Coalesce(o any) Expr { return e.binary(expr.OpCoalesce, o) }

// Not negates a predicate.
func (e Expr) Not() Expr { return Expr{b: e.b, node: expr.Not(e.node)} }

// Neg negates a number.
func (e Expr) Neg() Expr {
	return Expr{b: e.b, node: &expr.Unary{Op: expr.OpNegate, Operand: e.node, T: e.node.Type()}}
}

// As converts e to t.
func (e Expr) As(t *expr.Type) Expr { return Expr{b: e.b, node: expr.Convert(e.node, t)} }

func (e Expr) stringCall(name string, t *expr.Type, args ...any) Expr {
	nodes := make([]expr.Node, len(args))
	for i, a := range args {
		nodes[i] = e.b.node(a)
	}
	return Expr{b: e.b, node: expr.NewCall(expr.Strings, name, t, e.node, nodes...)}
}

func (e Expr) StartsWith(s any) Expr { return e.stringCall(expr.MethodStartsWith, expr.Bool, s) }
func (e Expr) EndsWith(s any) Expr   { return e.stringCall(expr.MethodEndsWith, expr.Bool, s) }
func (e Expr) HasSubstring(s any) Expr {
	return e.stringCall(expr.MethodContains, expr.Bool, s)
}
func (e Expr) ToUpper() Expr { return e.stringCall(expr.MethodToUpper, e.node.Type()) }
func (e Expr) ToLower() Expr { return e.stringCall(expr.MethodToLower, e.node.Type()) }
func (e Expr) Trim() Expr    { return e.stringCall(expr.MethodTrim, e.node.Type()) }

// Math applies a numeric helper (Abs, Round, Floor, Ceiling).
func (e Expr) Math(name string) Expr {
	return Expr{b: e.b, node: expr.NewCall(expr.Math, name, e.node.Type(), nil, e.node)}
}

// In tests membership of e in a list computed outside the query: a
// literal slice, a captured variable or a query parameter.
func (e Expr) In(list any) Expr {
	ln := e.b.node(list)
	if l, ok := list.([]any); ok {
		ln = &expr.Constant{Value: l, T: expr.EnumerableOf(e.node.Type())}
	}
	return Expr{b: e.b, node: expr.NewCall(expr.Enumerable, expr.MethodContains, expr.Bool, nil, ln, e.node)}
}
