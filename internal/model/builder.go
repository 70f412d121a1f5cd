package model

import (
	"fmt"
	"strings"
)

// Model validation error codes (E200-E299).
const (
	ErrUnknownType      = "E201" // field target does not exist
	ErrMissingKey       = "E202" // entity declares no key field
	ErrInvalidKeyField  = "E203" // key field is not a primitive
	ErrDuplicateName    = "E204" // duplicate type or field name
	ErrContainmentCycle = "E205" // structure contains itself
	ErrInvalidPairing   = "E206" // set pairing does not point back
	ErrInvalidTarget    = "E207" // reference/set target is not an entity, structure target is not a structure
	ErrReservedName     = "E208" // field uses a reserved member name
)

// ValidationError describes one problem found while building a model.
type ValidationError struct {
	Code    string `json:"code"`
	Type    string `json:"type"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s.%s: %s", e.Code, e.Type, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Type, e.Message)
}

// ValidationErrors is returned by Build when the declarations are invalid.
// All problems are reported, not only the first.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return "invalid model: " + strings.Join(msgs, "; ")
}

// FieldDef declares a field for the builder.
type FieldDef struct {
	Name      string
	Kind      FieldKind
	ValueType ValueType
	Target    string
	Paired    string
	Nullable  bool
	Key       bool
}

// Optional marks the field nullable.
func (d FieldDef) Optional() FieldDef {
	d.Nullable = true
	return d
}

// KeyField declares a primitive key field.
func KeyField(name string, vt ValueType) FieldDef {
	return FieldDef{Name: name, Kind: FieldPrimitive, ValueType: vt, Key: true}
}

// PrimitiveField declares a scalar field.
func PrimitiveField(name string, vt ValueType) FieldDef {
	return FieldDef{Name: name, Kind: FieldPrimitive, ValueType: vt}
}

// ReferenceField declares a reference to another entity.
func ReferenceField(name, target string) FieldDef {
	return FieldDef{Name: name, Kind: FieldReference, Target: target}
}

// StructureField declares an embedded structure.
func StructureField(name, target string) FieldDef {
	return FieldDef{Name: name, Kind: FieldStructure, Target: target}
}

// SetField declares a collection of target entities whose paired reference
// field points back at the declaring entity.
func SetField(name, target, paired string) FieldDef {
	return FieldDef{Name: name, Kind: FieldEntitySet, Target: target, Paired: paired}
}

type typeDef struct {
	name   string
	kind   TypeKind
	fields []FieldDef
}

// Builder accumulates type declarations and produces a validated Model.
type Builder struct {
	defs []typeDef
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddEntity declares an entity type.
func (b *Builder) AddEntity(name string, fields ...FieldDef) *Builder {
	b.defs = append(b.defs, typeDef{name: name, kind: KindEntity, fields: fields})
	return b
}

// AddStructure declares a structure type.
func (b *Builder) AddStructure(name string, fields ...FieldDef) *Builder {
	b.defs = append(b.defs, typeDef{name: name, kind: KindStructure, fields: fields})
	return b
}

// Build validates the declarations and lays out every row.
func (b *Builder) Build() (*Model, error) {
	m := &Model{byName: make(map[string]*TypeInfo)}
	var errs ValidationErrors

	declared := make([]*TypeInfo, len(b.defs))
	for i, d := range b.defs {
		if _, dup := m.byName[d.name]; dup {
			errs = append(errs, ValidationError{Code: ErrDuplicateName, Type: d.name, Message: "type declared twice"})
			continue
		}
		t := &TypeInfo{ID: len(m.types), Name: d.name, Kind: d.kind, fieldsByName: make(map[string]*FieldInfo)}
		m.types = append(m.types, t)
		m.byName[d.name] = t
		declared[i] = t
	}

	for i, d := range b.defs {
		t := declared[i]
		if t == nil {
			continue
		}
		for _, fd := range d.fields {
			if fd.Name == KeyMember || fd.Name == TypeIDColumn {
				errs = append(errs, ValidationError{Code: ErrReservedName, Type: t.Name, Field: fd.Name, Message: "reserved member name"})
				continue
			}
			if _, dup := t.fieldsByName[fd.Name]; dup {
				errs = append(errs, ValidationError{Code: ErrDuplicateName, Type: t.Name, Field: fd.Name, Message: "field declared twice"})
				continue
			}
			f := &FieldInfo{
				ID:        len(m.fields),
				Name:      fd.Name,
				Declaring: t,
				Kind:      fd.Kind,
				ValueType: fd.ValueType,
				Paired:    fd.Paired,
				Nullable:  fd.Nullable,
				IsKey:     fd.Key,
			}
			if fd.Kind != FieldPrimitive {
				target, ok := m.byName[fd.Target]
				if !ok {
					errs = append(errs, ValidationError{Code: ErrUnknownType, Type: t.Name, Field: fd.Name, Message: fmt.Sprintf("unknown type %q", fd.Target)})
					continue
				}
				f.Target = target
			}
			m.fields = append(m.fields, f)
			t.Fields = append(t.Fields, f)
			t.fieldsByName[f.Name] = f
			if f.IsKey {
				t.KeyFields = append(t.KeyFields, f)
			}
		}
	}

	errs = append(errs, validateTargets(m)...)
	errs = append(errs, detectContainmentCycles(m)...)
	if len(errs) > 0 {
		return nil, errs
	}

	l := &layouter{done: make(map[*TypeInfo]bool)}
	for _, t := range m.types {
		l.layout(t)
	}
	for _, t := range m.types {
		if !t.IsEntity() {
			continue
		}
		idx := &IndexInfo{
			ID:             len(m.indexes),
			Name:           "PK_" + t.Name,
			Type:           t,
			Columns:        t.Columns,
			KeyColumnCount: t.KeySegment().Length,
		}
		t.PrimaryIndex = idx
		m.indexes = append(m.indexes, idx)
	}
	return m, nil
}

// MustBuild is Build for statically known declarations.
func (b *Builder) MustBuild() *Model {
	m, err := b.Build()
	if err != nil {
		panic(err)
	}
	return m
}

func validateTargets(m *Model) ValidationErrors {
	var errs ValidationErrors
	for _, t := range m.types {
		if t.IsEntity() && len(t.KeyFields) == 0 {
			errs = append(errs, ValidationError{Code: ErrMissingKey, Type: t.Name, Message: "entity declares no key field"})
		}
		for _, f := range t.Fields {
			if f.IsKey && (f.Kind != FieldPrimitive || f.Nullable) {
				errs = append(errs, ValidationError{Code: ErrInvalidKeyField, Type: t.Name, Field: f.Name, Message: "key fields must be non-nullable primitives"})
			}
			if f.IsKey && !t.IsEntity() {
				errs = append(errs, ValidationError{Code: ErrInvalidKeyField, Type: t.Name, Field: f.Name, Message: "structures have no key"})
			}
			switch f.Kind {
			case FieldStructure:
				if f.Target.Kind != KindStructure {
					errs = append(errs, ValidationError{Code: ErrInvalidTarget, Type: t.Name, Field: f.Name, Message: f.Target.Name + " is not a structure"})
				}
			case FieldReference:
				if f.Target.Kind != KindEntity {
					errs = append(errs, ValidationError{Code: ErrInvalidTarget, Type: t.Name, Field: f.Name, Message: f.Target.Name + " is not an entity"})
				}
			case FieldEntitySet:
				if f.Target.Kind != KindEntity || !t.IsEntity() {
					errs = append(errs, ValidationError{Code: ErrInvalidTarget, Type: t.Name, Field: f.Name, Message: "sets hold entities and belong to entities"})
					continue
				}
				back, ok := f.Target.Field(f.Paired)
				if !ok || back.Kind != FieldReference || back.Target != t {
					errs = append(errs, ValidationError{Code: ErrInvalidPairing, Type: t.Name, Field: f.Name, Message: fmt.Sprintf("%s.%s must reference %s", f.Target.Name, f.Paired, t.Name)})
				}
			}
		}
	}
	return errs
}

// detectContainmentCycles finds structures that embed themselves, directly or
// through other structures. Such rows would have infinite width.
func detectContainmentCycles(m *Model) ValidationErrors {
	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[*TypeInfo]int)
	var errs ValidationErrors
	var stack []string

	var visit func(t *TypeInfo)
	visit = func(t *TypeInfo) {
		state[t] = visiting
		stack = append(stack, t.Name)
		for _, f := range t.Fields {
			if f.Kind != FieldStructure || f.Target == nil || f.Target.Kind != KindStructure {
				continue
			}
			switch state[f.Target] {
			case visiting:
				start := 0
				for i, n := range stack {
					if n == f.Target.Name {
						start = i
						break
					}
				}
				path := append(append([]string{}, stack[start:]...), f.Target.Name)
				errs = append(errs, ValidationError{Code: ErrContainmentCycle, Type: t.Name, Field: f.Name, Message: "containment cycle " + strings.Join(path, " -> ")})
			case unvisited:
				visit(f.Target)
			}
		}
		stack = stack[:len(stack)-1]
		state[t] = visited
	}
	for _, t := range m.types {
		if state[t] == unvisited {
			visit(t)
		}
	}
	return errs
}

type layouter struct {
	done map[*TypeInfo]bool
}

func (l *layouter) layout(t *TypeInfo) {
	if l.done[t] {
		return
	}
	l.done[t] = true

	var cols []Column
	place := func(f *FieldInfo) {
		start := len(cols)
		cols = append(cols, l.fieldColumns(f)...)
		f.Segment = Segment{Offset: start, Length: len(cols) - start}
	}
	if t.IsEntity() {
		for _, f := range t.KeyFields {
			place(f)
		}
		cols = append(cols, Column{Name: TypeIDColumn, Type: Int})
	}
	for _, f := range t.Fields {
		switch {
		case f.IsKey:
		case f.Kind == FieldEntitySet:
			f.Segment = Segment{Offset: len(cols)}
		default:
			place(f)
		}
	}
	t.Columns = cols
}

func (l *layouter) fieldColumns(f *FieldInfo) []Column {
	switch f.Kind {
	case FieldPrimitive:
		return []Column{{Name: f.Name, Type: f.ValueType, Nullable: f.Nullable}}
	case FieldStructure:
		l.layout(f.Target)
		out := make([]Column, len(f.Target.Columns))
		for i, c := range f.Target.Columns {
			out[i] = Column{Name: f.Name + "." + c.Name, Type: c.Type, Nullable: c.Nullable || f.Nullable}
		}
		return out
	case FieldReference:
		var out []Column
		for _, k := range f.Target.KeyFields {
			out = append(out, Column{Name: f.Name + "." + k.Name, Type: k.ValueType, Nullable: f.Nullable})
		}
		return out
	}
	return nil
}
