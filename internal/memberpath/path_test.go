package memberpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/testutil"
)

func mem(obj expr.Node, name string, t *expr.Type) *expr.Member {
	return &expr.Member{Object: obj, Name: name, T: t}
}

func kinds(p Path) []ItemKind {
	out := make([]ItemKind, len(p.Items))
	for i, it := range p.Items {
		out[i] = it.Kind
	}
	return out
}

func names(p Path) []string {
	out := make([]string, len(p.Items))
	for i, it := range p.Items {
		out[i] = it.Name
	}
	return out
}

func TestParse(t *testing.T) {
	m := testutil.SampleModel()
	p := &expr.Parameter{Name: "p", T: expr.EntityType("Person")}
	company := mem(p, "Company", expr.EntityType("Company"))
	country := mem(company, "Country", expr.EntityType("Country"))

	tests := []struct {
		name  string
		node  expr.Node
		names []string
		kinds []ItemKind
	}{
		{
			name:  "two joins and a primitive leaf",
			node:  mem(country, "Name", expr.String),
			names: []string{"Company", "Country", "Name"},
			kinds: []ItemKind{Entity, Entity, Primitive},
		},
		{
			name:  "key field of a reference folds",
			node:  mem(country, "Id", expr.Int),
			names: []string{"Company", "Country.Id"},
			kinds: []ItemKind{Entity, Primitive},
		},
		{
			name:  "key of a reference folds",
			node:  mem(company, "Key", expr.KeyType("Company")),
			names: []string{"Company"},
			kinds: []ItemKind{Key},
		},
		{
			name:  "structure folds inline",
			node:  mem(mem(p, "Address", expr.StructureType("Address")), "City", expr.String),
			names: []string{"Address.City"},
			kinds: []ItemKind{Primitive},
		},
		{
			name:  "own key",
			node:  mem(p, "Key", expr.KeyType("Person")),
			names: []string{"Key"},
			kinds: []ItemKind{Key},
		},
		{
			name:  "entity set terminates",
			node:  mem(p, "Pets", expr.EntitySetOf("Pet")),
			names: []string{"Pets"},
			kinds: []ItemKind{EntitySet},
		},
		{
			name:  "bare parameter",
			node:  p,
			names: []string{},
			kinds: []ItemKind{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := Parse(tt.node, m)
			require.True(t, path.Valid(), path.String())
			assert.Same(t, p, path.Root)
			assert.Equal(t, tt.names, names(path))
			assert.Equal(t, tt.kinds, kinds(path))
		})
	}
}

func TestParse_AnonymousAndGrouping(t *testing.T) {
	m := testutil.SampleModel()
	anon := expr.AnonymousOf(expr.MemberType{Name: "P", Type: expr.EntityType("Person")})
	x := &expr.Parameter{Name: "x", T: anon}
	node := mem(mem(mem(x, "P", expr.EntityType("Person")), "Manager", expr.EntityType("Person")), "Name", expr.String)

	path := Parse(node, m)
	require.True(t, path.Valid())
	assert.Equal(t, []string{"P", "Manager", "Name"}, names(path))
	assert.Equal(t, []ItemKind{Anonymous, Entity, Primitive}, kinds(path))

	g := &expr.Parameter{Name: "g", T: expr.GroupingOf(expr.String, expr.EntityType("Person"))}
	path = Parse(mem(g, "Key", expr.String), m)
	require.True(t, path.Valid())
	assert.Equal(t, []ItemKind{Grouping}, kinds(path))
}

func TestParse_Invalid(t *testing.T) {
	m := testutil.SampleModel()
	p := &expr.Parameter{Name: "p", T: expr.EntityType("Person")}

	path := Parse(mem(p, "Nickname", expr.String), m)
	require.False(t, path.Valid())
	assert.True(t, IsModelError(path.Err()))
	assert.Contains(t, path.Err().Error(), "Nickname")

	path = Parse(mem(mem(p, "Name", expr.String), "Length", expr.Int), m)
	require.False(t, path.Valid())
	assert.ErrorIs(t, path.Err(), ErrNotAPath)

	path = Parse(mem(expr.Const("x"), "Length", expr.Int), m)
	assert.ErrorIs(t, path.Err(), ErrNotAPath)
}
