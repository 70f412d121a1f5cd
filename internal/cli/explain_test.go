package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quill/internal/rse"
)

func TestExplain_Text(t *testing.T) {
	out, _, err := execute(t, "-m", sampleModel, "explain", "--var", "minAge=30",
		"Person.where(p, p.Age >= minAge).select(p, p.Name)")
	require.NoError(t, err)

	assert.Contains(t, out, "result sequence")
	assert.Contains(t, out, "Filter ")
	assert.Contains(t, out, "Index PK_Person")
	assert.Contains(t, out, "@0 minAge")
	assert.Contains(t, out, "= 30")
}

func TestExplain_JSON(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "-m", sampleModel, "explain", "--check",
		`Person.where(p, p.Company.Name == "Fjord").select(p, p.Name)`)
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   ExplainResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "sequence", resp.Data.Kind)
	assert.Contains(t, resp.Data.Plan, "Join")
	assert.Contains(t, resp.Data.Plan, "Index PK_Company")
	assert.Empty(t, resp.Data.Violations)
	assert.Positive(t, resp.Data.Width)
}

func TestExplain_ResultKinds(t *testing.T) {
	tests := []struct {
		query string
		kind  string
	}{
		{"Person.sum(p, p.Age)", "scalar"},
		{"Person.where(p, p.Id == 1).single()", "single"},
		{"Person.orderBy(p, p.Name).first()", "first"},
		{"Person.select(p, p.Name)", "sequence"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			out, _, err := execute(t, "--format", "json", "-m", sampleModel, "explain", tt.query)
			require.NoError(t, err)

			var resp struct {
				Data ExplainResult `json:"data"`
			}
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			assert.Equal(t, tt.kind, resp.Data.Kind)
		})
	}
}

func TestExplain_CheckWithoutOptimizer(t *testing.T) {
	for _, args := range [][]string{
		{"--check"},
		{"--check", "--no-optimize"},
	} {
		full := append([]string{"-m", sampleModel, "explain"}, args...)
		full = append(full, `Person.groupBy(p, p.Company, k, g, {"company": k.Name, "n": g.count()})`)
		out, _, err := execute(t, full...)
		require.NoError(t, err, "%v", args)
		assert.Contains(t, out, "Aggregate")
		assert.NotContains(t, out, "✗")
	}
}

func TestExplain_Errors(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		exitCode int
		contains string
	}{
		{"parse", []string{"-m", sampleModel, "explain", "Person.where("}, ExitFailure, "Error [PARSE]"},
		{"unknown entity", []string{"-m", sampleModel, "explain", "Invoice.count()"}, ExitFailure, "Error ["},
		{"missing model", []string{"-m", filepath.Join("testdata", "missing.cue"), "explain", "Person.count()"}, ExitCommandError, ""},
		{"broken model", []string{"-m", brokenModel, "explain", "Order.count()"}, ExitCommandError, ""},
		{"map variable", []string{"-m", sampleModel, "explain", "--var", "x={a: 1}", "Person.count()"}, ExitCommandError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.exitCode, GetExitCode(err))
			assert.Contains(t, out, tt.contains)
		})
	}
}

func TestColorPlan_MatchesDescribe(t *testing.T) {
	s, err := openSession(&RootOptions{Format: "text", Model: sampleModel}, NewExplainCommand(&RootOptions{}), nil, true)
	require.NoError(t, err)
	pq, err := s.compile(`Pet.where(x, x.Owner.Address.City == "Oslo").orderBy(x, x.Name).select(x, x.Name)`)
	require.NoError(t, err)

	assert.Equal(t, rse.Describe(pq.Query.Plan), colorPlan(pq.Query.Plan), "without color the plan text is unchanged")
}

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{
		"age=30",
		"name=Ann",
		`zip="0150"`,
		"rate=2.5",
		"ids=[1, 3]",
		"alive=true",
		"age=31",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(31), vars["age"], "later pairs win")
	assert.Equal(t, "Ann", vars["name"])
	assert.Equal(t, "0150", vars["zip"])
	assert.Equal(t, 2.5, vars["rate"])
	assert.Equal(t, []any{int64(1), int64(3)}, vars["ids"])
	assert.Equal(t, true, vars["alive"])

	for _, bad := range []string{"bad={a: 1}", "novalue", "=3"} {
		_, err = parseVars([]string{bad})
		require.Error(t, err, bad)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	}
}
