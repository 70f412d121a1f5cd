package evaluator

import (
	"fmt"

	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/value"
)

// Accessor computes a value from runtime parameters.
type Accessor func(env Env) (any, error)

// Counter computes a Skip/Take row count from runtime parameters.
type Counter func(env Env) (int, error)

// Compile turns n into an accessor. n may reference QueryParam slots but no
// row columns. Literals and bare parameter slots are resolved once here;
// anything else is evaluated per call.
func Compile(n expr.Node) Accessor {
	switch v := n.(type) {
	case *expr.Constant:
		val := value.Normalize(v.Value)
		return func(Env) (any, error) { return val, nil }
	case *expr.QueryParam:
		slot := v.Slot
		return func(env Env) (any, error) {
			if env == nil {
				return Eval(v, nil)
			}
			return env.Param(slot)
		}
	}
	return func(env Env) (any, error) {
		return Eval(n, env)
	}
}

// CompileCount compiles a Skip/Take count. Negative counts clamp to zero.
func CompileCount(n expr.Node) Counter {
	if c, ok := n.(*expr.Constant); ok {
		k, err := toCount(c.Value)
		return func(Env) (int, error) { return k, err }
	}
	acc := Compile(n)
	return func(env Env) (int, error) {
		v, err := acc(env)
		if err != nil {
			return 0, err
		}
		return toCount(v)
	}
}

func toCount(v any) (int, error) {
	i, ok := value.Normalize(v).(int64)
	if !ok {
		return 0, fmt.Errorf("count must be an integer, got %T", v)
	}
	if i < 0 {
		return 0, nil
	}
	return int(i), nil
}
