package expr

import (
	"fmt"
	"strings"

	"github.com/roach88/quill/internal/model"
)

// TypeKind classifies expression result types.
type TypeKind int

const (
	TypeUnknown TypeKind = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeDecimal
	TypeString
	TypeTime
	TypeNull
	TypeEntity
	TypeStructure
	TypeKey
	TypeEntitySet
	TypeSequence
	TypeAnonymous
	TypeGrouping
)

// Type describes the static type of a node.
type Type struct {
	Kind TypeKind
	// Name is the model type name for entities, structures, keys and sets.
	Name string
	// Elem is the element type of sequences, entity sets and groupings.
	Elem *Type
	// Key is the key type of a grouping.
	Key *Type
	// Members are the ordered members of an anonymous type.
	Members []MemberType
	// Queryable marks sequences rooted in persistent storage.
	Queryable bool
	Nullable  bool
}

// MemberType is a named member of an anonymous type.
type MemberType struct {
	Name string
	Type *Type
}

var (
	Unknown = &Type{Kind: TypeUnknown}
	Bool    = &Type{Kind: TypeBool}
	Int     = &Type{Kind: TypeInt}
	Float   = &Type{Kind: TypeFloat}
	Decimal = &Type{Kind: TypeDecimal}
	String  = &Type{Kind: TypeString}
	Time    = &Type{Kind: TypeTime}
	Null    = &Type{Kind: TypeNull, Nullable: true}
)

// EntityType returns the type of an entity instance.
func EntityType(name string) *Type { return &Type{Kind: TypeEntity, Name: name} }

// StructureType returns the type of a structure value.
func StructureType(name string) *Type { return &Type{Kind: TypeStructure, Name: name} }

// KeyType returns the type of an entity key.
func KeyType(name string) *Type { return &Type{Kind: TypeKey, Name: name} }

// EntitySetOf returns the type of a collection field holding name entities.
func EntitySetOf(name string) *Type {
	return &Type{Kind: TypeEntitySet, Name: name, Elem: EntityType(name)}
}

// QueryableOf returns a persistent query sequence type.
func QueryableOf(elem *Type) *Type {
	return &Type{Kind: TypeSequence, Elem: elem, Queryable: true}
}

// EnumerableOf returns an in-memory sequence type.
func EnumerableOf(elem *Type) *Type {
	return &Type{Kind: TypeSequence, Elem: elem}
}

// AnonymousOf returns an anonymous type with the given members.
func AnonymousOf(members ...MemberType) *Type {
	return &Type{Kind: TypeAnonymous, Members: members}
}

// GroupingOf returns the type of one group.
func GroupingOf(key, elem *Type) *Type {
	return &Type{Kind: TypeGrouping, Key: key, Elem: elem}
}

// PrimitiveOf maps a column type to an expression type.
func PrimitiveOf(vt model.ValueType) *Type {
	switch vt {
	case model.Bool:
		return Bool
	case model.Int:
		return Int
	case model.Float:
		return Float
	case model.Decimal:
		return Decimal
	case model.String:
		return String
	case model.Time:
		return Time
	}
	return Unknown
}

// ValueType maps a primitive expression type back to a column type.
func (t *Type) ValueType() (model.ValueType, bool) {
	switch t.Kind {
	case TypeBool:
		return model.Bool, true
	case TypeInt:
		return model.Int, true
	case TypeFloat:
		return model.Float, true
	case TypeDecimal:
		return model.Decimal, true
	case TypeString:
		return model.String, true
	case TypeTime:
		return model.Time, true
	}
	return 0, false
}

// IsPrimitive reports whether values of t occupy one column.
func (t *Type) IsPrimitive() bool {
	return t.Kind >= TypeBool && t.Kind <= TypeNull
}

// IsNumeric reports whether t supports arithmetic.
func (t *Type) IsNumeric() bool {
	return t.Kind == TypeInt || t.Kind == TypeFloat || t.Kind == TypeDecimal
}

// IsSequence reports whether t can be enumerated.
func (t *Type) IsSequence() bool {
	return t.Kind == TypeSequence || t.Kind == TypeEntitySet || t.Kind == TypeGrouping
}

// ElementType returns the element of a sequence type or nil.
func (t *Type) ElementType() *Type {
	if t.IsSequence() {
		return t.Elem
	}
	return nil
}

// Member returns the type of an anonymous member.
func (t *Type) Member(name string) (*Type, bool) {
	for _, m := range t.Members {
		if m.Name == name {
			return m.Type, true
		}
	}
	return nil, false
}

// AsNullable returns a copy of t that admits nil.
func (t *Type) AsNullable() *Type {
	if t.Nullable {
		return t
	}
	c := *t
	c.Nullable = true
	return &c
}

// Equal reports structural type equality, ignoring nullability.
func (t *Type) Equal(o *Type) bool {
	if t == o {
		return true
	}
	if t == nil || o == nil || t.Kind != o.Kind || t.Name != o.Name || t.Queryable != o.Queryable {
		return false
	}
	if (t.Elem == nil) != (o.Elem == nil) || (t.Elem != nil && !t.Elem.Equal(o.Elem)) {
		return false
	}
	if (t.Key == nil) != (o.Key == nil) || (t.Key != nil && !t.Key.Equal(o.Key)) {
		return false
	}
	if len(t.Members) != len(o.Members) {
		return false
	}
	for i := range t.Members {
		if t.Members[i].Name != o.Members[i].Name || !t.Members[i].Type.Equal(o.Members[i].Type) {
			return false
		}
	}
	return true
}

func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	var s string
	switch t.Kind {
	case TypeBool:
		s = "bool"
	case TypeInt:
		s = "int"
	case TypeFloat:
		s = "float"
	case TypeDecimal:
		s = "decimal"
	case TypeString:
		s = "string"
	case TypeTime:
		s = "time"
	case TypeNull:
		return "null"
	case TypeEntity, TypeStructure:
		s = t.Name
	case TypeKey:
		s = "key<" + t.Name + ">"
	case TypeEntitySet:
		s = "set<" + t.Name + ">"
	case TypeSequence:
		if t.Queryable {
			s = "query<" + t.Elem.String() + ">"
		} else {
			s = "seq<" + t.Elem.String() + ">"
		}
	case TypeAnonymous:
		parts := make([]string, len(t.Members))
		for i, m := range t.Members {
			parts[i] = m.Name + " " + m.Type.String()
		}
		s = "{" + strings.Join(parts, ", ") + "}"
	case TypeGrouping:
		s = fmt.Sprintf("group<%s, %s>", t.Key, t.Elem)
	default:
		s = "unknown"
	}
	if t.Nullable {
		s += "?"
	}
	return s
}

// Promote returns the result type of arithmetic between a and b.
func Promote(a, b *Type) *Type {
	switch {
	case a.Kind == TypeString || b.Kind == TypeString:
		return String
	case a.Kind == TypeDecimal || b.Kind == TypeDecimal:
		return Decimal
	case a.Kind == TypeFloat || b.Kind == TypeFloat:
		return Float
	case a.Kind == TypeInt && b.Kind == TypeInt:
		return Int
	case a.Kind == TypeNull:
		return b
	case b.Kind == TypeNull:
		return a
	}
	return Unknown
}
