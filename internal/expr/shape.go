package expr

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Shape returns a canonical-JSON-ready description of n's structure. Lambda
// parameters are numbered in declaration order so that structurally equal
// expressions built from different parameter objects produce equal shapes.
// QueryParam nodes contribute only their slot and type, never a value.
func Shape(n Node) (any, error) {
	s := &shaper{params: make(map[*Parameter]int)}
	return s.shape(n)
}

type shaper struct {
	params map[*Parameter]int
}

func (s *shaper) shape(n Node) (any, error) {
	obj := map[string]any{}
	if n == nil {
		return nil, nil
	}
	obj["t"] = n.Type().String()
	switch t := n.(type) {
	case *Constant:
		lit, err := literalKey(t.Value)
		if err != nil {
			return nil, err
		}
		obj["k"] = "const"
		obj["v"] = lit
	case *Parameter:
		idx, ok := s.params[t]
		if !ok {
			return nil, fmt.Errorf("unbound parameter %q", t.Name)
		}
		obj["k"] = "param"
		obj["i"] = idx
	case *Captured:
		obj["k"] = "captured"
		obj["n"] = t.Name
	case *QueryParam:
		obj["k"] = "qparam"
		obj["slot"] = t.Slot
	case *Source:
		obj["k"] = "source"
		obj["e"] = t.Entity
	case *Member:
		obj["k"] = "member"
		obj["n"] = t.Name
	case *Call:
		obj["k"] = "call"
		obj["m"] = t.Method.String()
		obj["obj"] = t.Object != nil
	case *Binary:
		obj["k"] = "binary"
		obj["op"] = t.Op.String()
	case *Unary:
		obj["k"] = "unary"
		obj["op"] = t.Op.String()
	case *Conditional:
		obj["k"] = "cond"
	case *New:
		obj["k"] = "new"
		names := make([]any, len(t.Names))
		for i, name := range t.Names {
			names[i] = name
		}
		obj["names"] = names
	case *Lambda:
		obj["k"] = "lambda"
		idx := make([]any, len(t.Params))
		for i, p := range t.Params {
			s.params[p] = len(s.params)
			idx[i] = s.params[p]
		}
		obj["params"] = idx
	default:
		return nil, fmt.Errorf("node %T has no shape", n)
	}
	children := Children(n)
	if len(children) > 0 {
		arr := make([]any, len(children))
		for i, c := range children {
			cs, err := s.shape(c)
			if err != nil {
				return nil, err
			}
			arr[i] = cs
		}
		obj["c"] = arr
	}
	return obj, nil
}

func literalKey(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "null", nil
	case bool:
		return "b:" + strconv.FormatBool(t), nil
	case int:
		return "i:" + strconv.Itoa(t), nil
	case int32:
		return "i:" + strconv.FormatInt(int64(t), 10), nil
	case int64:
		return "i:" + strconv.FormatInt(t, 10), nil
	case float64:
		return "f:" + strconv.FormatFloat(t, 'g', -1, 64), nil
	case float32:
		return "f:" + strconv.FormatFloat(float64(t), 'g', -1, 32), nil
	case decimal.Decimal:
		return "d:" + t.String(), nil
	case string:
		return "s:" + t, nil
	case time.Time:
		return "t:" + t.UTC().Format(time.RFC3339Nano), nil
	}
	return "", fmt.Errorf("literal of type %T cannot be part of a plan key", v)
}
