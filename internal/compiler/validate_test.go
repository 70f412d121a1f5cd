package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/linq"
)

var validatedQueries = []string{
	`Person.where(p, p.Age > 30).select(p, p.Name)`,
	`Pet.select(x, {"pet": x.Name, "owner": x.Owner.Name, "city": x.Owner.Address.City})`,
	`Person.select(p, {"name": p.Name, "pets": p.Pets.select(x, x.Name)})`,
	`Person.select(p, {"name": p.Name, "pets": p.Pets.count()})`,
	`Person.groupBy(p, p.Company, k, g, {"company": k.Name, "pay": g.sum(x, x.Salary)})`,
	`Person.groupBy(p, p.Address.City)`,
	`Person.selectMany(p, p.Pets).select(x, x.Kind).distinct()`,
	`Person.orderBy(p, p.Age).skip(1).take(2)`,
	`Person.select(p, p.Manager)`,
	`Person.max(p, p.Age)`,
}

func TestValidate_TranslatedPlans(t *testing.T) {
	for _, optimize := range []bool{true, false} {
		opts := []Option{WithPlanValidation()}
		if !optimize {
			opts = append(opts, WithoutOptimizer())
		}
		c := newCompiler(t, opts...)
		p, err := linq.NewParser(c.Model())
		require.NoError(t, err)

		for _, src := range validatedQueries {
			node, err := p.Parse(src)
			require.NoError(t, err, src)
			pq, err := c.Compile(node)
			require.NoError(t, err, "optimize=%t %s", optimize, src)
			assert.Empty(t, Validate(pq.Query), "optimize=%t %s", optimize, src)
		}
	}
}

func compileSample(t *testing.T, src string) *TranslatedQuery {
	t.Helper()
	c := newCompiler(t)
	p, err := linq.NewParser(c.Model())
	require.NoError(t, err)
	node, err := p.Parse(src)
	require.NoError(t, err)
	pq, err := c.Compile(node)
	require.NoError(t, err)
	return pq.Query
}

func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func TestValidate_BrokenPlans(t *testing.T) {
	base := compileSample(t, `Person.select(p, p.Name)`)
	width := base.Plan.Width()

	tests := []struct {
		name   string
		mutate func(q *TranslatedQuery)
		code   string
	}{
		{"column past width", func(q *TranslatedQuery) {
			q.Item = &expr.Column{Index: width + 3, T: expr.Int}
		}, ErrColumnOutOfRange},
		{"entity layout", func(q *TranslatedQuery) {
			q.Item = &expr.EntityItem{Info: newCompiler(t).Model().MustType("Country"), Columns: []int{0}}
		}, ErrItemLayout},
		{"unbound outer", func(q *TranslatedQuery) {
			q.Item = &expr.Outer{Corr: &expr.Correlation{ID: 42}, Item: &expr.Column{Index: 0, T: expr.Int}, T: expr.Int}
		}, ErrUnboundOuter},
		{"unknown parameter slot", func(q *TranslatedQuery) {
			q.Item = &expr.QueryParam{Slot: 2, Name: "x", T: expr.Int}
		}, ErrParamSlot},
		{"sparse slots", func(q *TranslatedQuery) {
			q.Params = []Param{{Slot: 1, Name: "x", Type: expr.Int}}
		}, ErrParamSlot},
		{"no materializer", func(q *TranslatedQuery) {
			q.Materializer = nil
		}, ErrMissingMaterializer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := *base
			tt.mutate(&q)
			errs := Validate(&q)
			require.NotEmpty(t, errs)
			assert.Contains(t, codes(errs), tt.code)
		})
	}

	assert.Empty(t, Validate(base), "the original is untouched")
}

func TestValidationErrors_Error(t *testing.T) {
	errs := ValidationErrors{
		{Field: "item", Code: ErrColumnOutOfRange, Message: "column #9 out of range [0,2)"},
		{Field: "params", Code: ErrParamSlot, Message: "parameter x has slot 1, want 0"},
	}
	assert.Equal(t,
		"invalid plan: [E301] item: column #9 out of range [0,2); [E304] params: parameter x has slot 1, want 0",
		errs.Error())
}
