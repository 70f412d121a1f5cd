package evaluator

import (
	"fmt"

	"github.com/roach88/quill/internal/expr"
)

// CanBeEvaluated reports whether n can be computed before translation: it
// references no lambda parameter, produces no persistent sequence and calls
// no query operator.
func CanBeEvaluated(n expr.Node) bool {
	if n == nil {
		return false
	}
	return !expr.Any(n, func(c expr.Node) bool {
		switch t := c.(type) {
		case *expr.Parameter, *expr.Lambda, *expr.Source, *expr.Column, *expr.OuterColumn, *expr.QueryParam:
			return true
		case *expr.EntityItem, *expr.KeyItem, *expr.StructureItem, *expr.SubQuery, *expr.GroupingItem, *expr.Outer:
			return true
		case *expr.Call:
			if t.Method.Set == expr.Queryable {
				return true
			}
			if t.Method.Set == expr.Enumerable && !isInList(t) {
				return true
			}
		}
		typ := c.Type()
		return typ != nil && typ.Kind == expr.TypeSequence && typ.Queryable
	})
}

// isInList reports whether c tests membership in a captured list, which is
// computable once both operands are.
func isInList(c *expr.Call) bool {
	return c.Method.Name == expr.MethodContains && len(c.Args) == 2 && !c.Args[0].Type().Queryable
}

// IsParameter reports whether n is evaluable and depends on a captured
// variable, so its value may differ between executions of the same plan.
func IsParameter(n expr.Node) bool {
	if !CanBeEvaluated(n) {
		return false
	}
	return expr.Any(n, func(c expr.Node) bool {
		_, ok := c.(*expr.Captured)
		return ok
	})
}

// Evaluate computes a closed subtree and returns it as a literal.
func Evaluate(n expr.Node) (*expr.Constant, error) {
	if !CanBeEvaluated(n) {
		return nil, fmt.Errorf("%w: %s", ErrNotEvaluable, expr.Format(n))
	}
	v, err := Eval(n, nil)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", expr.Format(n), err)
	}
	return &expr.Constant{Value: v, T: n.Type()}, nil
}

// Binding pairs a parameter slot with the subtree that computes its value.
type Binding struct {
	Slot int
	Name string
	Expr expr.Node
	T    *expr.Type
}

// Extraction is the result of ExtractParameters.
type Extraction struct {
	// Root is the rewritten expression with parameters replaced by
	// QueryParam nodes and other closed subtrees folded into literals.
	Root     expr.Node
	Bindings []Binding
}

// Values evaluates every binding in slot order.
func (x *Extraction) Values() ([]any, error) {
	return BindValues(x.Bindings)
}

// BindValues evaluates bindings in slot order.
func BindValues(bindings []Binding) ([]any, error) {
	out := make([]any, len(bindings))
	for _, b := range bindings {
		v, err := Eval(b.Expr, nil)
		if err != nil {
			return nil, fmt.Errorf("bind $%d (%s): %w", b.Slot, b.Name, err)
		}
		out[b.Slot] = v
	}
	return out, nil
}

// ExtractParameters rewrites every maximal parameter subtree of root into a
// QueryParam and folds every other maximal evaluable subtree into a literal.
// Literals that are not plain scalars are lifted into parameters as well.
func ExtractParameters(root expr.Node) (*Extraction, error) {
	x := &extractor{}
	out, err := x.visit(root)
	if err != nil {
		return nil, err
	}
	return &Extraction{Root: out, Bindings: x.bindings}, nil
}

type extractor struct {
	bindings []Binding
}

func (x *extractor) visit(n expr.Node) (expr.Node, error) {
	if _, isLambda := n.(*expr.Lambda); !isLambda && CanBeEvaluated(n) {
		if IsParameter(n) {
			return x.lift(n), nil
		}
		if c, ok := n.(*expr.Constant); ok {
			if isScalarLiteral(c.Value) {
				return c, nil
			}
			return x.lift(c), nil
		}
		if isOperand(n) {
			c, err := Evaluate(n)
			if err != nil {
				return nil, err
			}
			if isScalarLiteral(c.Value) {
				return c, nil
			}
			return x.lift(n), nil
		}
		return n, nil
	}
	children := expr.Children(n)
	if len(children) == 0 {
		return n, nil
	}
	next := make([]expr.Node, len(children))
	changed := false
	for i, c := range children {
		r, err := x.visit(c)
		if err != nil {
			return nil, err
		}
		next[i] = r
		changed = changed || r != c
	}
	if !changed {
		return n, nil
	}
	return expr.WithChildren(n, next), nil
}

func (x *extractor) lift(n expr.Node) *expr.QueryParam {
	slot := len(x.bindings)
	name := fmt.Sprintf("p%d", slot)
	if c, ok := n.(*expr.Captured); ok {
		name = c.Name
	}
	x.bindings = append(x.bindings, Binding{Slot: slot, Name: name, Expr: n, T: n.Type()})
	return &expr.QueryParam{Slot: slot, Name: name, T: n.Type()}
}

// isOperand excludes nodes that have no value on their own.
func isOperand(n expr.Node) bool {
	switch n.(type) {
	case *expr.Lambda, *expr.Parameter, *expr.Source:
		return false
	}
	return true
}

func isScalarLiteral(v any) bool {
	switch v.(type) {
	case nil, bool, string, int, int8, int16, int32, int64, uint8, uint16, uint32, float32, float64:
		return true
	}
	return expr.TypeOfValue(v).IsPrimitive()
}
