package value

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/quill/internal/model"
)

var (
	// ErrNoMember is returned when a member does not exist on a value.
	ErrNoMember = errors.New("no such member")
	// ErrDivideByZero is returned by integer and decimal division by zero.
	ErrDivideByZero = errors.New("division by zero")
	// ErrIncomparable is returned when two values cannot be ordered.
	ErrIncomparable = errors.New("incomparable values")
	// ErrNotNumeric is returned when arithmetic meets a non-numeric operand.
	ErrNotNumeric = errors.New("not a numeric value")
)

// Normalize converts Go scalars into the canonical runtime representation.
// Member access on nil yields nil, so nil flows through unchanged.
func Normalize(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	case float32:
		return float64(t)
	case *decimal.Decimal:
		if t == nil {
			return nil
		}
		return *t
	}
	return v
}

type numKind int

const (
	numNone numKind = iota
	numInt
	numFloat
	numDecimal
)

func kindOf(v any) numKind {
	switch v.(type) {
	case int64:
		return numInt
	case float64:
		return numFloat
	case decimal.Decimal:
		return numDecimal
	}
	return numNone
}

func toDecimal(v any) decimal.Decimal {
	switch t := v.(type) {
	case int64:
		return decimal.NewFromInt(t)
	case float64:
		return decimal.NewFromFloat(t)
	case decimal.Decimal:
		return t
	}
	return decimal.Zero
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case int64:
		return float64(t)
	case float64:
		return t
	case decimal.Decimal:
		f, _ := t.Float64()
		return f
	}
	return math.NaN()
}

// IsNumeric reports whether v is a normalized number.
func IsNumeric(v any) bool { return kindOf(Normalize(v)) != numNone }

// Equal compares two values with SQL-free, object-style semantics: nil
// equals nil, numbers compare across representations, keys and entities
// compare by identity.
func Equal(a, b any) bool {
	a, b = Normalize(a), Normalize(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ka, kb := kindOf(a), kindOf(b); ka != numNone && kb != numNone {
		c, err := Compare(a, b)
		return err == nil && c == 0
	}
	switch x := a.(type) {
	case Key:
		y, ok := b.(Key)
		return ok && x.Equal(y)
	case *Entity:
		switch y := b.(type) {
		case *Entity:
			return x.Key.Equal(y.Key)
		case Key:
			return x.Key.Equal(y)
		}
		return false
	case *Structure:
		y, ok := b.(*Structure)
		if !ok || x.Type != y.Type || len(x.Fields) != len(y.Fields) {
			return false
		}
		for k, v := range x.Fields {
			if !Equal(v, y.Fields[k]) {
				return false
			}
		}
		return true
	case *Record:
		y, ok := b.(*Record)
		if !ok || len(x.Values) != len(y.Values) {
			return false
		}
		for i := range x.Values {
			if x.Names[i] != y.Names[i] || !Equal(x.Values[i], y.Values[i]) {
				return false
			}
		}
		return true
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	}
	if y, ok := b.(*Entity); ok {
		return Equal(y, a)
	}
	return a == b
}

// Compare orders two values. nil sorts before everything else.
func Compare(a, b any) (int, error) {
	a, b = Normalize(a), Normalize(b)
	switch {
	case a == nil && b == nil:
		return 0, nil
	case a == nil:
		return -1, nil
	case b == nil:
		return 1, nil
	}
	ka, kb := kindOf(a), kindOf(b)
	if ka != numNone && kb != numNone {
		switch {
		case ka == numInt && kb == numInt:
			return cmpOrdered(a.(int64), b.(int64)), nil
		case ka == numDecimal || kb == numDecimal:
			return toDecimal(a).Cmp(toDecimal(b)), nil
		default:
			return cmpOrdered(toFloat(a), toFloat(b)), nil
		}
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), nil
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, nil
			case !x:
				return -1, nil
			default:
				return 1, nil
			}
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), nil
		}
	case Key:
		if y, ok := b.(Key); ok {
			return compareSlices(x.Values, y.Values)
		}
	}
	return 0, fmt.Errorf("%w: %T and %T", ErrIncomparable, a, b)
}

func compareSlices(a, b []any) (int, error) {
	for i := 0; i < len(a) && i < len(b); i++ {
		c, err := Compare(a[i], b[i])
		if err != nil || c != 0 {
			return c, err
		}
	}
	return cmpOrdered(len(a), len(b)), nil
}

func cmpOrdered[T int | int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// ArithOp enumerates binary arithmetic.
type ArithOp int

const (
	Add ArithOp = iota + 1
	Sub
	Mul
	Div
	Mod
)

// Arith applies op with numeric promotion int < float < decimal. Add on
// strings concatenates. nil operands yield nil.
func Arith(op ArithOp, a, b any) (any, error) {
	a, b = Normalize(a), Normalize(b)
	if a == nil || b == nil {
		return nil, nil
	}
	if op == Add {
		if sa, ok := a.(string); ok {
			return sa + Format(b), nil
		}
		if sb, ok := b.(string); ok {
			return Format(a) + sb, nil
		}
	}
	ka, kb := kindOf(a), kindOf(b)
	if ka == numNone || kb == numNone {
		return nil, fmt.Errorf("%w: %T %T", ErrNotNumeric, a, b)
	}
	switch {
	case ka == numDecimal || kb == numDecimal:
		x, y := toDecimal(a), toDecimal(b)
		switch op {
		case Add:
			return x.Add(y), nil
		case Sub:
			return x.Sub(y), nil
		case Mul:
			return x.Mul(y), nil
		case Div:
			if y.IsZero() {
				return nil, ErrDivideByZero
			}
			return x.Div(y), nil
		case Mod:
			if y.IsZero() {
				return nil, ErrDivideByZero
			}
			return x.Mod(y), nil
		}
	case ka == numFloat || kb == numFloat:
		x, y := toFloat(a), toFloat(b)
		switch op {
		case Add:
			return x + y, nil
		case Sub:
			return x - y, nil
		case Mul:
			return x * y, nil
		case Div:
			return x / y, nil
		case Mod:
			return math.Mod(x, y), nil
		}
	default:
		x, y := a.(int64), b.(int64)
		switch op {
		case Add:
			return x + y, nil
		case Sub:
			return x - y, nil
		case Mul:
			return x * y, nil
		case Div:
			if y == 0 {
				return nil, ErrDivideByZero
			}
			return x / y, nil
		case Mod:
			if y == 0 {
				return nil, ErrDivideByZero
			}
			return x % y, nil
		}
	}
	return nil, fmt.Errorf("unknown arithmetic operator %d", op)
}

// Negate flips the sign of a number.
func Negate(a any) (any, error) {
	switch t := Normalize(a).(type) {
	case nil:
		return nil, nil
	case int64:
		return -t, nil
	case float64:
		return -t, nil
	case decimal.Decimal:
		return t.Neg(), nil
	}
	return nil, fmt.Errorf("%w: %T", ErrNotNumeric, a)
}

// Convert changes the representation of a scalar to the given column type.
func Convert(v any, to model.ValueType) (any, error) {
	v = Normalize(v)
	if v == nil {
		return nil, nil
	}
	switch to {
	case model.Int:
		switch t := v.(type) {
		case int64:
			return t, nil
		case float64:
			return int64(t), nil
		case decimal.Decimal:
			return t.IntPart(), nil
		case string:
			return strconv.ParseInt(t, 10, 64)
		case bool:
			if t {
				return int64(1), nil
			}
			return int64(0), nil
		}
	case model.Float:
		switch t := v.(type) {
		case int64, float64, decimal.Decimal:
			return toFloat(t), nil
		case string:
			return strconv.ParseFloat(t, 64)
		}
	case model.Decimal:
		switch t := v.(type) {
		case int64, float64, decimal.Decimal:
			return toDecimal(t), nil
		case string:
			return decimal.NewFromString(t)
		}
	case model.String:
		return Format(v), nil
	case model.Bool:
		switch t := v.(type) {
		case bool:
			return t, nil
		case int64:
			return t != 0, nil
		case string:
			return strconv.ParseBool(t)
		}
	case model.Time:
		switch t := v.(type) {
		case time.Time:
			return t, nil
		case string:
			return time.Parse(time.RFC3339Nano, t)
		}
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, to)
}

// Zero returns the default value of a column type.
func Zero(vt model.ValueType) any {
	switch vt {
	case model.Bool:
		return false
	case model.Int:
		return int64(0)
	case model.Float:
		return float64(0)
	case model.Decimal:
		return decimal.Zero
	case model.String:
		return ""
	case model.Time:
		return time.Time{}
	}
	return nil
}

// Truthy interprets a predicate result. nil is false.
func Truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

// Format renders a value for display and string concatenation.
func Format(v any) string {
	switch t := Normalize(v).(type) {
	case nil:
		return "null"
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case decimal.Decimal:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprintf("%v", v)
}

// TupleKey renders values into a string usable as a map key for
// duplicate elimination and grouping. Numbers of different representations
// that compare equal produce the same key.
func TupleKey(values []any) string {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		switch t := Normalize(v).(type) {
		case nil:
			b.WriteString("n")
		case int64, float64, decimal.Decimal:
			b.WriteString("#")
			b.WriteString(toDecimal(t).String())
		case string:
			b.WriteString("s")
			b.WriteString(strconv.Quote(t))
		default:
			fmt.Fprintf(&b, "%T:%s", t, Format(t))
		}
	}
	return b.String()
}
