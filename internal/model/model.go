package model

import (
	"fmt"
	"strings"
)

// ValueType is the storage type of a single column.
type ValueType int

const (
	Bool ValueType = iota + 1
	Int
	Float
	Decimal
	String
	Time
)

var valueTypeNames = map[ValueType]string{
	Bool:    "bool",
	Int:     "int",
	Float:   "float",
	Decimal: "decimal",
	String:  "string",
	Time:    "time",
}

// String returns the lower-case type name used in model files.
func (v ValueType) String() string {
	if s, ok := valueTypeNames[v]; ok {
		return s
	}
	return fmt.Sprintf("ValueType(%d)", int(v))
}

// ParseValueType maps a type name ("int", "string", ...) to a ValueType.
func ParseValueType(s string) (ValueType, bool) {
	for vt, name := range valueTypeNames {
		if name == s {
			return vt, true
		}
	}
	return 0, false
}

// TypeKind distinguishes entities (own identity and index) from structures
// (value types embedded in their owner's row).
type TypeKind int

const (
	KindEntity TypeKind = iota + 1
	KindStructure
)

func (k TypeKind) String() string {
	switch k {
	case KindEntity:
		return "entity"
	case KindStructure:
		return "structure"
	default:
		return fmt.Sprintf("TypeKind(%d)", int(k))
	}
}

// FieldKind classifies a field by how it is stored.
type FieldKind int

const (
	FieldPrimitive FieldKind = iota + 1
	FieldStructure
	FieldReference
	FieldEntitySet
)

func (k FieldKind) String() string {
	switch k {
	case FieldPrimitive:
		return "primitive"
	case FieldStructure:
		return "structure"
	case FieldReference:
		return "reference"
	case FieldEntitySet:
		return "set"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

// TypeIDColumn is the name of the discriminator column in every primary index.
const TypeIDColumn = "TypeId"

// KeyMember is the pseudo-field that addresses an entity's whole key.
const KeyMember = "Key"

// Segment is a contiguous run of columns inside a row.
type Segment struct {
	Offset int
	Length int
}

// End returns the offset one past the last column.
func (s Segment) End() int { return s.Offset + s.Length }

// Shift returns the segment moved by n columns.
func (s Segment) Shift(n int) Segment { return Segment{Offset: s.Offset + n, Length: s.Length} }

// Sub returns the part of s starting at rel with the given length.
func (s Segment) Sub(rel, length int) Segment {
	return Segment{Offset: s.Offset + rel, Length: length}
}

// Indexes returns the column indexes covered by the segment.
func (s Segment) Indexes() []int {
	out := make([]int, s.Length)
	for i := range out {
		out[i] = s.Offset + i
	}
	return out
}

func (s Segment) String() string { return fmt.Sprintf("(%d,%d)", s.Offset, s.Length) }

// Column describes one physical column.
type Column struct {
	Name     string
	Type     ValueType
	Nullable bool
}

// TypeInfo describes an entity or a structure.
type TypeInfo struct {
	ID           int
	Name         string
	Kind         TypeKind
	Fields       []*FieldInfo
	KeyFields    []*FieldInfo
	Columns      []Column
	PrimaryIndex *IndexInfo

	fieldsByName map[string]*FieldInfo
}

// Field returns the declared field with the given name.
func (t *TypeInfo) Field(name string) (*FieldInfo, bool) {
	f, ok := t.fieldsByName[name]
	return f, ok
}

// IsEntity reports whether the type has its own identity.
func (t *TypeInfo) IsEntity() bool { return t.Kind == KindEntity }

// KeySegment returns the columns holding the primary key. Key columns always
// lead the row.
func (t *TypeInfo) KeySegment() Segment {
	n := 0
	for _, f := range t.KeyFields {
		n += f.Segment.Length
	}
	return Segment{Offset: 0, Length: n}
}

// TypeIDIndex returns the offset of the discriminator column.
func (t *TypeInfo) TypeIDIndex() int { return t.KeySegment().Length }

// RowSegment covers the full row.
func (t *TypeInfo) RowSegment() Segment { return Segment{Length: len(t.Columns)} }

// IsKeyField reports whether name is one of the type's key fields.
func (t *TypeInfo) IsKeyField(name string) bool {
	for _, f := range t.KeyFields {
		if f.Name == name {
			return true
		}
	}
	return false
}

func (t *TypeInfo) String() string { return t.Name }

// FieldInfo describes a declared field.
type FieldInfo struct {
	ID        int
	Name      string
	Declaring *TypeInfo
	Kind      FieldKind
	ValueType ValueType
	// Target is the structure, referenced entity or set element type.
	Target *TypeInfo
	// Paired names the reference field on Target that points back at
	// Declaring. Only set for entity sets.
	Paired   string
	Nullable bool
	IsKey    bool
	Segment  Segment
}

// IsPrimitive reports whether the field maps to exactly one scalar column.
func (f *FieldInfo) IsPrimitive() bool { return f.Kind == FieldPrimitive }

func (f *FieldInfo) String() string {
	if f.Declaring == nil {
		return f.Name
	}
	return f.Declaring.Name + "." + f.Name
}

// IndexInfo describes a physical index. Only primary indexes exist.
type IndexInfo struct {
	ID             int
	Name           string
	Type           *TypeInfo
	Columns        []Column
	KeyColumnCount int
}

func (i *IndexInfo) String() string { return i.Name }

// Model is the read-only domain model.
type Model struct {
	types   []*TypeInfo
	fields  []*FieldInfo
	indexes []*IndexInfo
	byName  map[string]*TypeInfo
}

// Type returns the type with the given name.
func (m *Model) Type(name string) (*TypeInfo, bool) {
	t, ok := m.byName[name]
	return t, ok
}

// MustType returns the named type or panics. Intended for tests and
// statically known models.
func (m *Model) MustType(name string) *TypeInfo {
	t, ok := m.byName[name]
	if !ok {
		panic(fmt.Sprintf("model: unknown type %q", name))
	}
	return t
}

// Types returns all types in declaration order.
func (m *Model) Types() []*TypeInfo { return m.types }

// Entities returns entity types in declaration order.
func (m *Model) Entities() []*TypeInfo {
	var out []*TypeInfo
	for _, t := range m.types {
		if t.IsEntity() {
			out = append(out, t)
		}
	}
	return out
}

// Indexes returns all indexes.
func (m *Model) Indexes() []*IndexInfo { return m.indexes }

// Index returns the index with the given id.
func (m *Model) Index(id int) (*IndexInfo, bool) {
	if id < 0 || id >= len(m.indexes) {
		return nil, false
	}
	return m.indexes[id], true
}

// Field returns the field with the given id.
func (m *Model) Field(id int) (*FieldInfo, bool) {
	if id < 0 || id >= len(m.fields) {
		return nil, false
	}
	return m.fields[id], true
}

// Describe renders the model in a stable, human-readable form.
func (m *Model) Describe() string {
	var b strings.Builder
	for _, t := range m.types {
		fmt.Fprintf(&b, "%s %s\n", t.Kind, t.Name)
		for _, f := range t.Fields {
			switch f.Kind {
			case FieldPrimitive:
				fmt.Fprintf(&b, "  %s %s %s", f.Name, f.ValueType, f.Segment)
			case FieldEntitySet:
				fmt.Fprintf(&b, "  %s set<%s> via %s", f.Name, f.Target.Name, f.Paired)
			default:
				fmt.Fprintf(&b, "  %s %s<%s> %s", f.Name, f.Kind, f.Target.Name, f.Segment)
			}
			if f.IsKey {
				b.WriteString(" key")
			}
			if f.Nullable {
				b.WriteString(" optional")
			}
			b.WriteByte('\n')
		}
		if t.PrimaryIndex != nil {
			names := make([]string, len(t.Columns))
			for i, c := range t.Columns {
				names[i] = c.Name
			}
			fmt.Fprintf(&b, "  index %s [%s]\n", t.PrimaryIndex.Name, strings.Join(names, ", "))
		}
	}
	return b.String()
}
