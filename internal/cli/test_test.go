package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestCommand_Pass(t *testing.T) {
	out, _, err := execute(t, "test", scenarioDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ people")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTestCommand_JSON(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "test", scenarioDir)
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "people", resp.Data.Scenarios[0].Name)
	assert.True(t, resp.Data.Scenarios[0].Pass)
}

func TestTestCommand_Filter(t *testing.T) {
	out, _, err := execute(t, "test", scenarioDir, "--filter", "peo*")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ people")

	out, _, err = execute(t, "test", scenarioDir, "--filter", "orders-*")
	require.NoError(t, err)
	assert.Equal(t, "No scenarios found.\n", out)

	_, _, err = execute(t, "test", scenarioDir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand_Golden(t *testing.T) {
	golden := filepath.Join(t.TempDir(), "golden")

	out, _, err := execute(t, "test", scenarioDir, "--golden", golden, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ people (golden updated)")

	data, err := os.ReadFile(filepath.Join(golden, "people.golden"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "scenario: people")
	assert.Contains(t, string(data), "name: fjord-staff")
	assert.NotContains(t, string(data), "cached", "snapshots leave out cache state")

	_, _, err = execute(t, "test", scenarioDir, "--golden", golden)
	require.NoError(t, err, "a fresh snapshot matches itself")

	require.NoError(t, os.WriteFile(filepath.Join(golden, "people.golden"), []byte("scenario: people\n"), 0o644))
	out, _, err = execute(t, "test", scenarioDir, "--golden", golden)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ people")
	assert.Contains(t, out, "golden file mismatch")
}

func TestTestCommand_GoldenMissing(t *testing.T) {
	out, _, err := execute(t, "test", scenarioDir, "--golden", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "golden file missing")
}

func TestTestCommand_FailingScenario(t *testing.T) {
	model, err := filepath.Abs(sampleModel)
	require.NoError(t, err)
	dir := t.TempDir()
	scenario := `name: wrong
description: expects the wrong people
model: ` + model + `
fixtures:
  Country:
    - {Id: 1, Name: Norway}
  Company:
    - {Id: 10, Name: Fjord, Country.Id: 1}
  Person:
    - {Id: 1, Name: Ann, Age: 41, Salary: "1", Address.City: Oslo, Address.Zip: "0150", Company.Id: 10}
queries:
  - name: names
    query: Person.select(p, p.Name)
    expect:
      result: [Bob]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(scenario), 0o644))

	out, _, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong")
	assert.Contains(t, out, "names: ")
	assert.Contains(t, out, "0 passed, 1 failed, 1 total")
}

func TestTestCommand_CommandErrors(t *testing.T) {
	_, _, err := execute(t, "test", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = execute(t, "test", scenarioDir, "--update")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--update requires --golden")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("name: bad\nquerys: []\n"), 0o644))
	_, _, err = execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
