// Package value holds the runtime representation of query results and the
// scalar semantics shared by the evaluator, the executor and the
// materializer.
//
// Scalars are normalized to a small set of Go types: int64, float64,
// decimal.Decimal, string, bool, time.Time and nil. Composite results are
// *Entity, Key, *Structure, *Record and *Grouping.
package value

import (
	"fmt"
	"strings"
)

// Key identifies an entity instance.
type Key struct {
	Type   string
	Values []any
}

// Equal reports whether both keys identify the same instance.
func (k Key) Equal(o Key) bool {
	if k.Type != o.Type || len(k.Values) != len(o.Values) {
		return false
	}
	for i := range k.Values {
		if !Equal(k.Values[i], o.Values[i]) {
			return false
		}
	}
	return true
}

// IsZero reports whether the key carries no values.
func (k Key) IsZero() bool { return len(k.Values) == 0 }

func (k Key) String() string {
	parts := make([]string, len(k.Values))
	for i, v := range k.Values {
		parts[i] = Format(v)
	}
	return k.Type + "(" + strings.Join(parts, ", ") + ")"
}

// Entity is a materialized persistent object. Fields holds primitives,
// *Structure values and Key values (nil for empty references). Entity sets
// are not loaded.
type Entity struct {
	Type   string
	Key    Key
	Fields map[string]any
}

// Get returns a field value. The pseudo-field "Key" returns the key.
func (e *Entity) Get(name string) (any, bool) {
	if name == "Key" {
		return e.Key, true
	}
	v, ok := e.Fields[name]
	return v, ok
}

func (e *Entity) String() string { return e.Key.String() }

// Structure is a materialized value object embedded in an entity.
type Structure struct {
	Type   string
	Fields map[string]any
}

// Get returns a field value.
func (s *Structure) Get(name string) (any, bool) {
	v, ok := s.Fields[name]
	return v, ok
}

// Record is an anonymous projection result with ordered members.
type Record struct {
	Names  []string
	Values []any
}

// NewRecord pairs names with values.
func NewRecord(names []string, values []any) *Record {
	return &Record{Names: names, Values: values}
}

// Get returns the member with the given name.
func (r *Record) Get(name string) (any, bool) {
	for i, n := range r.Names {
		if n == name {
			return r.Values[i], true
		}
	}
	return nil, false
}

func (r *Record) String() string {
	parts := make([]string, len(r.Names))
	for i, n := range r.Names {
		parts[i] = n + ": " + Format(r.Values[i])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Grouping is one group produced by a GroupBy.
type Grouping struct {
	Key   any
	Items []any
}

// Get exposes the grouping key as a member.
func (g *Grouping) Get(name string) (any, bool) {
	if name == "Key" {
		return g.Key, true
	}
	return nil, false
}

func (g *Grouping) String() string {
	return fmt.Sprintf("Group(%s)[%d]", Format(g.Key), len(g.Items))
}

// Member is implemented by every composite value with named members.
type Member interface {
	Get(name string) (any, bool)
}

// GetMember reads a named member of a composite value.
func GetMember(v any, name string) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case Key:
		if name == "Key" {
			return t, nil
		}
		return nil, fmt.Errorf("%w: key has no member %q", ErrNoMember, name)
	case Member:
		got, ok := t.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNoMember, name)
		}
		return got, nil
	case string:
		if name == "Length" {
			return int64(len([]rune(t))), nil
		}
	}
	return nil, fmt.Errorf("%w: %q on %T", ErrNoMember, name, v)
}
