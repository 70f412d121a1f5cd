package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Fixtures(t *testing.T) {
	out, _, err := execute(t, "-m", sampleModel, "run", "--fixtures", fixtureRows,
		`Person.where(p, p.Company.Name == "Fjord").select(p, p.Name)`)
	require.NoError(t, err)
	assert.Equal(t, "- Ann\n- Bob\n", out)
}

func TestRun_Variables(t *testing.T) {
	out, _, err := execute(t, "-m", sampleModel, "run", "--fixtures", fixtureRows,
		"--var", "city=Oslo", "--var", "ids=[1, 2, 4]",
		"Person.where(p, p.Address.City == city && p.Id in ids).select(p, p.Name)")
	require.NoError(t, err)
	assert.Equal(t, "- Ann\n- Dee\n", out)
}

func TestRun_JSON(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "-m", sampleModel, "run", "--fixtures", fixtureRows,
		`Person.groupBy(p, p.Company, k, g, {"company": k.Name, "pay": g.sum(x, x.Salary)})`)
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "sequence", resp.Data.Kind)
	assert.NotEmpty(t, resp.Data.TranslationID)
	assert.Equal(t, []any{
		map[string]any{"company": "Fjord", "pay": "8100.5"},
		map[string]any{"company": "Andes", "pay": "7000.25"},
	}, resp.Data.Result)
}

func TestRun_DatabaseFile(t *testing.T) {
	db := filepath.Join(t.TempDir(), "people.db")

	// The first run creates and fills the database; later runs read it.
	_, _, err := execute(t, "-m", sampleModel, "run", "--db", db, "--fixtures", fixtureRows, "Person.count()")
	require.NoError(t, err)

	out, _, err := execute(t, "-m", sampleModel, "run", "--db", db, "Pet.where(x, x.Kind == \"cat\").count()")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	// Loading the same fixtures again inserts nothing new.
	out, _, err = execute(t, "-m", sampleModel, "run", "--db", db, "--fixtures", fixtureRows, "Person.count()")
	require.NoError(t, err)
	assert.Equal(t, "4\n", out)

	// A database belongs to the model it was created for.
	out, _, err = execute(t, "-m", invoiceModel, "run", "--db", db, "Invoice.count()")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "MODEL_MISMATCH")
}

func TestRun_EmptyDatabase(t *testing.T) {
	out, _, err := execute(t, "-m", sampleModel, "run", "Person.select(p, p.Name)")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)
}

func TestRun_QueryErrors(t *testing.T) {
	tests := []struct {
		name  string
		query string
		code  string
	}{
		{"cardinality", "Person.where(p, p.Age == 29).single()", "CARDINALITY"},
		{"empty sequence", "Person.where(p, p.Age > 100).max(p, p.Age)", "EMPTY_SEQUENCE"},
		{"parse", "Person.select(p,", "PARSE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(t, "--format", "json", "-m", sampleModel, "run", "--fixtures", fixtureRows, tt.query)
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))

			var resp CLIResponse
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestRun_RowBudget(t *testing.T) {
	t.Setenv("QUILL_MAX_ROWS", "3")
	out, _, err := execute(t, "-m", sampleModel, "run", "--fixtures", fixtureRows, "Person.select(p, p.Name)")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [QUOTA_EXCEEDED]")
}

func TestRun_BadFixtures(t *testing.T) {
	_, _, err := execute(t, "-m", sampleModel, "run", "--fixtures", filepath.Join("testdata", "missing.yaml"), "Person.count()")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = execute(t, "-m", sampleModel, "run", "--fixtures", brokenModel, "Person.count()")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cmd := NewRootCommand()
	cmd.SetOut(&discard{})
	cmd.SetErr(&discard{})
	cmd.SetArgs([]string{"-m", sampleModel, "run", "--fixtures", fixtureRows, "Person.count()"})
	err := cmd.ExecuteContext(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
