// Package memberpath parses chains of member accesses rooted at a lambda
// parameter into join-boundary-aware paths.
//
// A path such as p.Company.Country.Name is split at every entity reference
// that must be joined to reach the leaf:
//
//	Company (Entity) -> Country (Entity) -> Name (Primitive)
//
// Access to the key of a referenced entity does not need a join and folds
// into the reference's item (p.Company.Id becomes the single item
// "Company.Id"). Structure members fold inline ("Address.City").
package memberpath

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/model"
)

// ErrNotAPath is returned for expressions that are not a member chain over
// a lambda parameter or that step through a non-persistent value.
var ErrNotAPath = errors.New("not a member path")

// ModelError reports a member that is absent from the domain model.
type ModelError struct {
	Type   string
	Member string
}

func (e *ModelError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("unknown member %q", e.Member)
	}
	return fmt.Sprintf("type %s has no member %q", e.Type, e.Member)
}

// IsModelError reports whether err is a *ModelError.
func IsModelError(err error) bool {
	var me *ModelError
	return errors.As(err, &me)
}

// ItemKind classifies one path item.
type ItemKind int

const (
	Primitive ItemKind = iota + 1
	Key
	Entity
	Structure
	EntitySet
	Anonymous
	Grouping
)

func (k ItemKind) String() string {
	switch k {
	case Primitive:
		return "Primitive"
	case Key:
		return "Key"
	case Entity:
		return "Entity"
	case Structure:
		return "Structure"
	case EntitySet:
		return "EntitySet"
	case Anonymous:
		return "Anonymous"
	case Grouping:
		return "Grouping"
	}
	return fmt.Sprintf("ItemKind(%d)", int(k))
}

// Item is one join-boundary segment of a path. Name is relative to the
// previous item and may be dotted.
type Item struct {
	Name string
	Kind ItemKind
	Node expr.Node
	Type *expr.Type
	// Field is the model field the item ends at, when it ends at one.
	Field *model.FieldInfo
}

// Path is an immutable parsed member path.
type Path struct {
	Root  *expr.Parameter
	Items []Item
	err   error
}

// Valid reports whether the expression parsed as a path.
func (p Path) Valid() bool { return p.err == nil }

// Err returns why the expression is not a valid path.
func (p Path) Err() error { return p.err }

// Leaf returns the last item. ok is false for a bare parameter.
func (p Path) Leaf() (Item, bool) {
	if len(p.Items) == 0 {
		return Item{}, false
	}
	return p.Items[len(p.Items)-1], true
}

// Prefix returns the path made of the first n items.
func (p Path) Prefix(n int) Path {
	return Path{Root: p.Root, Items: p.Items[:n:n]}
}

func (p Path) String() string {
	if p.err != nil {
		return "invalid(" + p.err.Error() + ")"
	}
	parts := make([]string, 0, len(p.Items)+1)
	if p.Root != nil {
		parts = append(parts, p.Root.Name)
	}
	for _, it := range p.Items {
		parts = append(parts, it.Name+":"+it.Kind.String())
	}
	return strings.Join(parts, " / ")
}

func invalid(err error) Path { return Path{err: err} }

type step struct {
	name string
	node *expr.Member
}

// Parse parses n against m.
func Parse(n expr.Node, m *model.Model) Path {
	var steps []step
	cur := n
	for {
		mem, ok := cur.(*expr.Member)
		if !ok {
			break
		}
		steps = append(steps, step{name: mem.Name, node: mem})
		cur = mem.Object
	}
	root, ok := cur.(*expr.Parameter)
	if !ok {
		return invalid(fmt.Errorf("%w: %s", ErrNotAPath, expr.Format(n)))
	}
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}

	p := &parser{m: m, path: Path{Root: root}}
	return p.parse(root.T, steps)
}

type parser struct {
	m    *model.Model
	path Path
}

func (p *parser) push(it Item) { p.path.Items = append(p.path.Items, it) }

func (p *parser) last() *Item { return &p.path.Items[len(p.path.Items)-1] }

func (p *parser) parse(rootType *expr.Type, steps []step) Path {
	cur := rootType
	// structure is set while the last item absorbs members of an embedded
	// structure.
	var structure *model.TypeInfo
	for i, s := range steps {
		if structure == nil && cur.Kind == expr.TypeStructure {
			t, ok := p.m.Type(cur.Name)
			if !ok {
				return invalid(&ModelError{Member: cur.Name})
			}
			structure = t
			p.push(Item{Kind: Structure, Type: cur})
		}

		switch {
		case structure != nil:
			f, ok := structure.Field(s.name)
			if !ok {
				return invalid(&ModelError{Type: structure.Name, Member: s.name})
			}
			it := p.last()
			if it.Name == "" {
				it.Name = s.name
			} else {
				it.Name += "." + s.name
			}
			it.Node, it.Type, it.Field = s.node, s.node.T, f
			structure = nil
			switch f.Kind {
			case model.FieldPrimitive:
				it.Kind = Primitive
			case model.FieldStructure:
				it.Kind = Structure
				structure = f.Target
			case model.FieldReference:
				it.Kind = Entity
			default:
				return invalid(fmt.Errorf("%w: set %s inside structure", ErrNotAPath, f))
			}
			cur = s.node.T

		case cur.Kind == expr.TypeEntity:
			t, ok := p.m.Type(cur.Name)
			if !ok {
				return invalid(&ModelError{Member: cur.Name})
			}
			parentIsRef := len(p.path.Items) > 0 && p.last().Kind == Entity
			if s.name == model.KeyMember {
				if parentIsRef {
					it := p.last()
					it.Kind, it.Node, it.Type = Key, s.node, s.node.T
				} else {
					p.push(Item{Name: model.KeyMember, Kind: Key, Node: s.node, Type: s.node.T})
				}
				cur = s.node.T
				continue
			}
			f, ok := t.Field(s.name)
			if !ok {
				return invalid(&ModelError{Type: t.Name, Member: s.name})
			}
			if parentIsRef && f.IsKey {
				it := p.last()
				it.Name += "." + s.name
				it.Kind, it.Node, it.Type, it.Field = Primitive, s.node, s.node.T, f
				cur = s.node.T
				continue
			}
			it := Item{Name: s.name, Node: s.node, Type: s.node.T, Field: f}
			switch f.Kind {
			case model.FieldPrimitive:
				it.Kind = Primitive
			case model.FieldStructure:
				it.Kind = Structure
				structure = f.Target
			case model.FieldReference:
				it.Kind = Entity
			case model.FieldEntitySet:
				it.Kind = EntitySet
				if i != len(steps)-1 {
					return invalid(fmt.Errorf("%w: member of entity set %s", ErrNotAPath, f))
				}
			}
			p.push(it)
			cur = s.node.T

		case cur.Kind == expr.TypeAnonymous:
			mt, ok := cur.Member(s.name)
			if !ok {
				return invalid(&ModelError{Type: cur.String(), Member: s.name})
			}
			p.push(Item{Name: s.name, Kind: Anonymous, Node: s.node, Type: mt})
			cur = mt

		case cur.Kind == expr.TypeGrouping:
			if s.name != model.KeyMember {
				return invalid(&ModelError{Type: cur.String(), Member: s.name})
			}
			p.push(Item{Name: s.name, Kind: Grouping, Node: s.node, Type: cur.Key})
			cur = cur.Key

		default:
			return invalid(fmt.Errorf("%w: member %q of non-persistent %s", ErrNotAPath, s.name, cur))
		}
	}
	return p.path
}
