package optimizer

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/linq"
	"github.com/roach88/quill/internal/rse"
	"github.com/roach88/quill/internal/testutil"
	"github.com/roach88/quill/internal/translator"
)

func translated(t *testing.T, root expr.Node) translator.ItemProjector {
	t.Helper()
	res, err := translator.Translate(testutil.SampleModel(), root,
		translator.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	return res.Projector
}

func queries(b *linq.Builder) map[string]expr.Node {
	people := b.From("Person")
	return map[string]expr.Node{
		"join": people.
			Where(func(p linq.Expr) linq.Expr { return p.Path("Company", "Name").Eq("Fjord") }).
			Select(func(p linq.Expr) linq.Expr { return p.Get("Name") }).Node(),
		"nested count": people.Select(func(p linq.Expr) linq.Expr {
			return b.Anonymous(linq.F("Name", p.Get("Name")), linq.F("Pets", p.Get("Pets").Seq().Count()))
		}).Node(),
		"group": people.
			GroupBy(func(p linq.Expr) linq.Expr { return p.Get("Age") }).
			Select(func(g linq.Expr) linq.Expr {
				return b.Anonymous(linq.F("Age", g.Get("Key")), linq.F("N", g.Seq().Count()))
			}).Node(),
		"grouping elements": people.GroupBy(func(p linq.Expr) linq.Expr { return p.Path("Address", "City") }).Node(),
		"sorted page": people.
			OrderBy(func(p linq.Expr) linq.Expr { return p.Get("Age") }).
			Select(func(p linq.Expr) linq.Expr { return p.Get("Name") }).
			Skip(1).Take(2).Node(),
		"calculated": people.Select(func(p linq.Expr) linq.Expr {
			return b.Anonymous(linq.F("Next", p.Get("Age").Add(1)), linq.F("Name", p.Get("Name")))
		}).Node(),
		"set": people.Select(func(p linq.Expr) linq.Expr { return p.Get("Name") }).
			Union(b.From("Pet").Select(func(p linq.Expr) linq.Expr { return p.Get("Name") })).Node(),
		"select many": people.SelectManyResult(
			func(p linq.Expr) linq.Expr { return p.Get("Pets") },
			func(p, pet linq.Expr) linq.Expr {
				return b.Anonymous(linq.F("Owner", p.Get("Name")), linq.F("Pet", pet.Get("Name")))
			}).Node(),
		"exists": people.Any(func(p linq.Expr) linq.Expr { return p.Get("Pets").Seq().Any() }).Node(),
	}
}

func TestRemoveRedundantColumns_Idempotent(t *testing.T) {
	b := linq.New(testutil.SampleModel())
	for name, root := range queries(b) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.Err())
			once, err := RemoveRedundantColumns(translated(t, root))
			require.NoError(t, err)
			v := rse.Validate(once.DataSource)
			require.True(t, v.Valid, "%v\n%s", v.Violations, rse.Describe(once.DataSource))

			twice, err := RemoveRedundantColumns(once)
			require.NoError(t, err)
			assert.Equal(t, rse.Describe(once.DataSource), rse.Describe(twice.DataSource))
			assert.Equal(t, expr.Format(once.Item), expr.Format(twice.Item))
		})
	}
}

func TestRemoveRedundantColumns_NarrowsIndexes(t *testing.T) {
	b := linq.New(testutil.SampleModel())
	proj := translated(t, queries(b)["join"])
	out, err := RemoveRedundantColumns(proj)
	require.NoError(t, err)

	want := "Filter (#3 == \"Fjord\")\n" +
		"  Join (1 = 0)\n" +
		"    Select [2,8]\n" +
		"      Index PK_Person\n" +
		"    Alias a0\n" +
		"      Select [0,2]\n" +
		"        Index PK_Company\n"
	assert.Equal(t, want, rse.Describe(out.DataSource))
	assert.Equal(t, "#0", expr.Format(out.Item))
}

func TestRemoveRedundantColumns_DropsUnreadCalculations(t *testing.T) {
	m := testutil.SampleModel()
	person := rse.NewIndex(m.MustType("Person").PrimaryIndex)
	calc := rse.NewCalculate(person, []rse.CalculatedColumn{
		{Name: "c0", Type: expr.Int, Expr: expr.NewBinary(expr.OpAdd, &expr.Column{Index: 3, T: expr.Int}, expr.Const(1))},
		{Name: "c1", Type: expr.String, Expr: &expr.Column{Index: 2, T: expr.String}},
	})
	out, err := RemoveRedundantColumns(translator.ItemProjector{
		Item:       &expr.Column{Index: 9, T: expr.Int},
		DataSource: calc,
	})
	require.NoError(t, err)
	assert.Equal(t, "Calculate c0 = (#0 + 1)\n  Select [3]\n    Index PK_Person\n", rse.Describe(out.DataSource))
	assert.Equal(t, "#1", expr.Format(out.Item))
}

func TestRemoveRedundantColumns_RemapsCorrelatedReferences(t *testing.T) {
	b := linq.New(testutil.SampleModel())
	out, err := RemoveRedundantColumns(translated(t, queries(b)["nested count"]))
	require.NoError(t, err)

	apply, ok := rse.Find(out.DataSource, rse.KindApply).(*rse.Apply)
	require.True(t, ok)
	refs := rse.OuterReferences(apply.Right, apply.Corr)
	require.Len(t, refs, 1)
	assert.Less(t, refs[0], apply.Left.Width())
	assert.Equal(t, 2, apply.Left.Width(), "person row narrowed to Id and Name")
}
