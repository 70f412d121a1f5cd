package linq

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/testutil"
)

func TestBuilder_WhereSelect(t *testing.T) {
	b := New(testutil.SampleModel())
	q, err := b.From("Person").
		Where(func(p Expr) Expr { return p.Get("Age").Gt(30) }).
		Select(func(p Expr) Expr { return p.Path("Company", "Name") }).
		Build()
	require.NoError(t, err)

	assert.Equal(t, "Select(Where(All<Person>, x0 => (x0.Age > 30)), x1 => x1.Company.Name)", expr.Format(q))
	assert.Equal(t, "query<string>", q.Type().String())
}

func TestBuilder_MemberTypes(t *testing.T) {
	b := New(testutil.SampleModel())
	var got []string
	b.From("Person").Select(func(p Expr) Expr {
		got = append(got,
			p.Get("Manager").Type().String(),
			p.Path("Manager", "Name").Type().String(),
			p.Get("Address").Type().String(),
			p.Path("Address", "City").Type().String(),
			p.Get("Pets").Type().String(),
			p.Get("Key").Type().String(),
			p.Path("Name", "Length").Type().String(),
		)
		return p
	})
	require.NoError(t, b.Err())
	assert.Equal(t, []string{"Person?", "string?", "Address", "string", "set<Pet>", "key<Person>", "int"}, got)
}

func TestBuilder_RecordsFirstError(t *testing.T) {
	b := New(testutil.SampleModel())
	_, err := b.From("Person").
		Where(func(p Expr) Expr { return p.Get("Nickname").Eq("x") }).
		Select(func(p Expr) Expr { return p.Get("Shoe") }).
		Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Nickname")

	_, err = New(testutil.SampleModel()).From("Address").Build()
	require.Error(t, err)
}

func TestBuilder_GroupByResultType(t *testing.T) {
	b := New(testutil.SampleModel())
	q, err := b.From("Person").GroupByResult(
		func(p Expr) Expr { return p.Get("Company") },
		func(k, g Expr) Expr {
			return b.Anonymous(
				F("Company", k.Get("Name")),
				F("Total", g.Seq().Sum(func(x Expr) Expr { return x.Get("Salary") })),
				F("Count", g.Seq().Count()),
			)
		}).Build()
	require.NoError(t, err)
	assert.Equal(t, "query<{Company string, Total decimal, Count int}>", q.Type().String())
}

func TestBuilder_Terminals(t *testing.T) {
	b := New(testutil.SampleModel())
	people := b.From("Person")
	assert.Equal(t, "float", people.Average(func(p Expr) Expr { return p.Get("Age") }).Type().String())
	assert.Equal(t, "decimal", people.Average(func(p Expr) Expr { return p.Get("Salary") }).Type().String())
	assert.Equal(t, "Person?", people.FirstOrDefault().Type().String())
	assert.Equal(t, "bool", people.Any(func(p Expr) Expr { return p.Get("Pets").Seq().Any() }).Type().String())
	require.NoError(t, b.Err())
}

func TestBuilder_InList(t *testing.T) {
	b := New(testutil.SampleModel())
	q, err := b.From("Person").
		Where(func(p Expr) Expr { return p.Get("Name").In([]any{"Ann", "Bo"}) }).
		Build()
	require.NoError(t, err)
	where := q.(*expr.Call)
	body := where.Args[1].(*expr.Lambda).Body.(*expr.Call)
	assert.Equal(t, expr.MethodContains, body.Method.Name)
	assert.IsType(t, &expr.Constant{}, body.Args[0])
}

func TestParser_Chain(t *testing.T) {
	p, err := NewParser(testutil.SampleModel())
	require.NoError(t, err)

	q, err := p.Parse(`Person.where(p, p.Age > 30 && p.Company.Name == "Fjord").orderBy(p, p.Name).select(p, {"name": p.Name, "city": p.Address.City})`)
	require.NoError(t, err)

	sel := q.(*expr.Call)
	assert.Equal(t, expr.MethodSelect, sel.Method.Name)
	assert.Equal(t, expr.Queryable, sel.Method.Set)
	assert.Equal(t, "query<{name string, city string}>", sel.Type().String())
	order := sel.Args[0].(*expr.Call)
	assert.Equal(t, expr.MethodOrderBy, order.Method.Name)
	where := order.Args[0].(*expr.Call)
	assert.Equal(t, "x0 => ((x0.Age > 30) && (x0.Company.Name == \"Fjord\"))", expr.Format(where.Args[1]))
}

func TestParser_NestedTerminalsAndGroups(t *testing.T) {
	p, err := NewParser(testutil.SampleModel())
	require.NoError(t, err)

	q, err := p.Parse(`Person.groupBy(p, p.Company, k, g, {"company": k.Name, "n": g.count(), "pay": g.sum(x, x.Salary)})`)
	require.NoError(t, err)
	assert.Equal(t, "query<{company string, n int, pay decimal}>", q.Type().String())

	q, err = p.Parse(`Person.where(p, p.Pets.any(x, x.Kind == "cat")).count()`)
	require.NoError(t, err)
	assert.Equal(t, expr.MethodCount, q.(*expr.Call).Method.Name)
}

func TestParser_JoinKeysEitherOrder(t *testing.T) {
	p, err := NewParser(testutil.SampleModel())
	require.NoError(t, err)

	for _, src := range []string{
		`Person.join(Company, p, c, p.Company == c, {"person": p.Name, "company": c.Name})`,
		`Person.join(Company, p, c, c == p.Company, {"person": p.Name, "company": c.Name})`,
	} {
		q, err := p.Parse(src)
		require.NoError(t, err, src)
		join := q.(*expr.Call)
		require.Len(t, join.Args, 5)
		outerKey := join.Args[2].(*expr.Lambda)
		innerKey := join.Args[3].(*expr.Lambda)
		assert.Equal(t, "Person", outerKey.Params[0].T.Name, src)
		assert.Equal(t, "x0.Company", expr.Format(outerKey.Body), src)
		assert.Equal(t, "Company", innerKey.Params[0].T.Name, src)
	}
}

func TestParser_GroupJoin(t *testing.T) {
	p, err := NewParser(testutil.SampleModel())
	require.NoError(t, err)
	q, err := p.Parse(`Company.groupJoin(Person, c, p, c == p.Company, g, {"name": c.Name, "staff": g.count()})`)
	require.NoError(t, err)
	assert.Equal(t, expr.MethodGroupJoin, q.(*expr.Call).Method.Name)
	assert.Equal(t, "query<{name string, staff int}>", q.Type().String())
}

func TestParser_LiteralsAndVariables(t *testing.T) {
	cell := expr.NewCell(int64(40))
	p, err := NewParser(testutil.SampleModel(), WithVariable("minAge", cell))
	require.NoError(t, err)

	q, err := p.Parse(`Person.where(p, p.Age >= minAge && p.Salary > decimal("10.5") && p.Name in ["Ann", "Bo"])`)
	require.NoError(t, err)
	body := q.(*expr.Call).Args[1].(*expr.Lambda).Body

	var captured []*expr.Captured
	var decimals []decimal.Decimal
	expr.Walk(body, func(n expr.Node) bool {
		switch v := n.(type) {
		case *expr.Captured:
			captured = append(captured, v)
		case *expr.Constant:
			if d, ok := v.Value.(decimal.Decimal); ok {
				decimals = append(decimals, d)
			}
		}
		return true
	})
	require.Len(t, captured, 1)
	assert.Same(t, cell, captured[0].Cell)
	require.Len(t, decimals, 1)
	assert.Equal(t, "10.5", decimals[0].String())
}

func TestParser_Errors(t *testing.T) {
	p, err := NewParser(testutil.SampleModel())
	require.NoError(t, err)

	tests := []struct {
		name string
		src  string
	}{
		{"syntax", `Person.where(p, `},
		{"unknown identifier", `Person.where(p, q.Age > 1)`},
		{"unknown member", `Person.select(p, p.Shoe)`},
		{"unknown operator", `Person.shuffle()`},
		{"non-equality join", `Person.join(Company, p, c, p.Age > 1, p)`},
		{"has macro", `Person.where(p, has(p.Name))`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse(tt.src)
			require.Error(t, err)
			assert.True(t, IsParseError(err), "got %v", err)
		})
	}
}

func TestParser_ParseLambda(t *testing.T) {
	p, err := NewParser(testutil.SampleModel())
	require.NoError(t, err)

	lam, err := p.ParseLambda(`p => p.Name.startsWith("A") || p.Age < 18`, expr.EntityType("Person"))
	require.NoError(t, err)
	assert.Equal(t, `p => (p.Name.StartsWith("A") || (p.Age < 18))`, expr.Format(lam))

	lam, err = p.ParseLambda(`(o, i) => {"a": o.Name, "b": i.Name}`, expr.EntityType("Person"), expr.EntityType("Pet"))
	require.NoError(t, err)
	assert.Len(t, lam.Params, 2)

	_, err = p.ParseLambda(`p.Age`, expr.EntityType("Person"))
	assert.True(t, IsParseError(err))
	_, err = p.ParseLambda(`(a, b) => a`, expr.EntityType("Person"))
	assert.True(t, IsParseError(err))
}
