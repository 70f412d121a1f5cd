package harness

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quill/internal/testutil"
	"github.com/roach88/quill/internal/value"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func requirePass(t *testing.T, r *Result) {
	t.Helper()
	for _, q := range r.Queries {
		assert.True(t, q.Pass, "query %s: %s (error: %s)", q.Name, strings.Join(q.Failures, "; "), q.Error)
	}
	assert.Empty(t, r.Errors)
	assert.True(t, r.Pass)
}

func TestRun_PeopleScenario(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "people.yaml"))
	require.NoError(t, err)

	h := New(WithLogger(quiet()))
	r, err := h.Run(context.Background(), s)
	require.NoError(t, err)
	requirePass(t, r)
	require.Len(t, r.Queries, len(s.Queries))
	assert.Contains(t, r.Queries[0].Plan, "Index PK_Person")
}

func TestRun_ReportsUnmetExpectations(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "people.yaml"))
	require.NoError(t, err)
	wrong := 3
	s.Queries = []QueryCase{
		{Name: "wrong-result", Query: `Person.select(p, p.Name)`, Expect: &Expect{Result: []any{"Ann"}}},
		{Name: "wrong-count", Query: `Person.select(p, p.Name)`, Expect: &Expect{Count: &wrong}},
		{Name: "unexpected-error", Query: `Person.single()`},
		{Name: "missing-error", Query: `Person.count()`, Expect: &Expect{Error: "CARDINALITY"}},
		{Name: "parse", Query: `Person.where(`},
	}

	r, err := New(WithLogger(quiet())).Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, r.Pass)
	for _, q := range r.Queries {
		assert.False(t, q.Pass, q.Name)
		assert.NotEmpty(t, q.Failures, q.Name)
	}
	assert.Contains(t, r.Queries[0].Failures[0], "result:")
	assert.Contains(t, r.Queries[1].Failures[0], "count:")
	assert.Contains(t, r.Queries[2].Error, "CARDINALITY")
	assert.Contains(t, r.Queries[3].Failures[0], "got success")
	assert.Contains(t, r.Queries[4].Error, "PARSE")
}

func TestRun_RowBudget(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "people.yaml"))
	require.NoError(t, err)
	s.Queries = []QueryCase{{Name: "all", Query: `Person`, Expect: &Expect{Error: "QUOTA_EXCEEDED"}}}

	r, err := New(WithLogger(quiet()), WithMaxRows(2)).Run(context.Background(), s)
	require.NoError(t, err)
	requirePass(t, r)
}

func TestRunAll_SharesCompilerAcrossScenarios(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "people.yaml"))
	require.NoError(t, err)
	scenarios := make([]*Scenario, 8)
	for i := range scenarios {
		c := *s
		// Only the first run of a shape may miss the cache.
		c.Queries = []QueryCase{s.Queries[0], s.Queries[3], s.Queries[4]}
		scenarios[i] = &c
	}

	reg := prometheus.NewRegistry()
	h := New(WithLogger(quiet()), WithParallel(4), WithRegisterer(reg))
	results, err := h.RunAll(context.Background(), scenarios)
	require.NoError(t, err)
	require.Len(t, results, len(scenarios))
	for _, r := range results {
		requirePass(t, r)
	}

	require.Len(t, h.compilers, 1)
	for _, c := range h.compilers {
		assert.Equal(t, 3, c.CacheLen())
	}
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestRunAll_PropagatesLoadErrors(t *testing.T) {
	s := &Scenario{Name: "broken", Model: filepath.Join(t.TempDir(), "missing.cue"), Queries: []QueryCase{{Name: "q", Query: "Person"}}}
	_, err := New(WithLogger(quiet())).RunAll(context.Background(), []*Scenario{s})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenario broken")
}

func TestLoadScenario_Validation(t *testing.T) {
	dir := t.TempDir()
	abs, err := filepath.Abs(filepath.Join("testdata", "models", "sample.cue"))
	require.NoError(t, err)

	tests := []struct {
		name string
		body string
		msg  string
	}{
		{"missing name", "description: d\nmodel: " + abs + "\nqueries: [{name: q, query: Person}]\n", "name is required"},
		{"missing model", "name: n\ndescription: d\nqueries: [{name: q, query: Person}]\n", "model is required"},
		{"missing model file", "name: n\ndescription: d\nmodel: nope.cue\nqueries: [{name: q, query: Person}]\n", "model file not found"},
		{"no queries", "name: n\ndescription: d\nmodel: " + abs + "\n", "queries list is required"},
		{"duplicate query", "name: n\ndescription: d\nmodel: " + abs + "\nqueries: [{name: q, query: Person}, {name: q, query: Pet}]\n", "duplicate name"},
		{"undeclared var", "name: n\ndescription: d\nmodel: " + abs + "\nqueries: [{name: q, query: Person, vars: {x: 1}}]\n", `variable "x" is not declared`},
		{"error and result", "name: n\ndescription: d\nmodel: " + abs + "\nqueries: [{name: q, query: Person, expect: {error: X, result: 1}}]\n", "error excludes result"},
		{"unknown field", "name: n\ndescription: d\nmodel: " + abs + "\nquerys: []\n", "failed to parse YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))
			_, err := LoadScenario(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestLoadScenarios_Directory(t *testing.T) {
	scenarios, err := LoadScenarios(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)
	require.Len(t, scenarios, 1)
	assert.Equal(t, "people", scenarios[0].Name)
	assert.Equal(t, filepath.Join("testdata", "models", "sample.cue"), scenarios[0].Model)
}

func TestLoadScenario_RecordLiteralQueries(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "people.yaml"))
	require.NoError(t, err)

	byName := map[string]string{}
	for _, q := range s.Queries {
		byName[q.Name] = q.Query
	}
	assert.Equal(t, `Person.select(p, {"name": p.Name, "pets": p.Pets.count()})`, byName["pet-counts"])
	assert.Equal(t, `Person.where(p, p.Company.Name == "Fjord").select(p, p.Name)`, byName["fjord-staff"])

	// An unquoted record literal is a YAML mapping, not a query string.
	path := filepath.Join(t.TempDir(), "unquoted.yaml")
	abs, err := filepath.Abs(filepath.Join("testdata", "models", "sample.cue"))
	require.NoError(t, err)
	body := "name: n\ndescription: d\nmodel: " + abs + "\nqueries:\n  - name: q\n    query: Person.select(p, {\"name\": p.Name})\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	_, err = LoadScenario(path)
	require.Error(t, err)
}

func TestFixtureRows(t *testing.T) {
	m := testutil.SampleModel()
	rows, err := FixtureRows(m, map[string][]map[string]any{
		"Country": {{"Id": 1, "Name": "Norway"}},
	})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(1), int64(testutil.CountryTypeID), "Norway"}}, rows["Country"])

	_, err = FixtureRows(m, map[string][]map[string]any{"Country": {{"Id": 1, "Nam": "x"}}})
	assert.ErrorContains(t, err, `unknown column "Nam"`)

	_, err = FixtureRows(m, map[string][]map[string]any{"Country": {{"TypeId": 7}}})
	assert.ErrorContains(t, err, "unknown column")

	_, err = FixtureRows(m, map[string][]map[string]any{"Address": {}})
	assert.ErrorContains(t, err, `unknown entity "Address"`)
}

func TestRender(t *testing.T) {
	ent := &value.Entity{
		Type: "Person",
		Key:  value.Key{Type: "Person", Values: []any{int64(1)}},
		Fields: map[string]any{
			"Name":    "Ann",
			"Salary":  decimal.RequireFromString("5000.50"),
			"Manager": nil,
			"Company": value.Key{Type: "Company", Values: []any{int64(10)}},
			"Address": &value.Structure{Type: "Address", Fields: map[string]any{"City": "Oslo"}},
		},
	}
	got := Render([]any{
		ent,
		value.NewRecord([]string{"n"}, []any{3}),
		&value.Grouping{Key: "Oslo", Items: []any{"Ann"}},
	})
	assert.Equal(t, []any{
		map[string]any{
			"Name":    "Ann",
			"Salary":  "5000.5",
			"Manager": nil,
			"Company": "Company(10)",
			"Address": map[string]any{"City": "Oslo"},
		},
		map[string]any{"n": int64(3)},
		map[string]any{"key": "Oslo", "items": []any{"Ann"}},
	}, got)
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name     string
		expected any
		actual   any
		ok       bool
	}{
		{"int across widths", 3, int64(3), true},
		{"float vs decimal text", 8100.5, "8100.5", true},
		{"map subset", map[string]any{"a": 1}, map[string]any{"a": int64(1), "b": "x"}, true},
		{"map missing key", map[string]any{"c": 1}, map[string]any{"a": int64(1)}, false},
		{"list length", []any{1}, []any{int64(1), int64(2)}, false},
		{"list order", []any{1, 2}, []any{int64(2), int64(1)}, false},
		{"nil", nil, nil, true},
		{"nil vs value", nil, "x", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := match(tt.expected, tt.actual, "result")
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestAssertGolden(t *testing.T) {
	r := NewResult("golden-sample")
	r.AddQuery(QueryResult{Name: "count", Pass: true, Plan: "Index PK_Person", Output: int64(4), Cached: true})
	r.AddQuery(QueryResult{Name: "empty", Pass: true, Plan: "Index PK_Pet", Error: "EMPTY_SEQUENCE"})
	AssertGolden(t, r)
}
