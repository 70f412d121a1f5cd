package harness

import (
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
	"gopkg.in/yaml.v3"
)

// snapshot is the golden form of a result: per query, the plan and either
// the rendered output or the error. Translation ids and cache state are
// left out so that snapshots are deterministic.
type snapshot struct {
	Scenario string          `yaml:"scenario"`
	Queries  []querySnapshot `yaml:"queries"`
}

type querySnapshot struct {
	Name   string `yaml:"name"`
	Plan   string `yaml:"plan,omitempty"`
	Output any    `yaml:"output,omitempty"`
	Error  string `yaml:"error,omitempty"`
}

// Snapshot renders a result in its golden file form.
func Snapshot(r *Result) ([]byte, error) {
	s := snapshot{Scenario: r.Scenario, Queries: make([]querySnapshot, len(r.Queries))}
	for i, q := range r.Queries {
		s.Queries[i] = querySnapshot{Name: q.Name, Plan: q.Plan, Output: q.Output, Error: q.Error}
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", r.Scenario, err)
	}
	return data, nil
}

// AssertGolden compares the result's snapshot against
// testdata/golden/{scenario}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func AssertGolden(t *testing.T, r *Result) {
	t.Helper()

	data, err := Snapshot(r)
	if err != nil {
		t.Fatal(err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, r.Scenario, data)
}
