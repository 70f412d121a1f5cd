package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Scenario defines a query scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Model is the path of the CUE model file or directory.
	// Relative paths are resolved against the scenario file location.
	Model string `yaml:"model"`

	// Fixtures holds rows per entity. Each row maps column names
	// ("Name", "Address.City", "Company.Id") to values; TypeId is filled in.
	Fixtures map[string][]map[string]any `yaml:"fixtures,omitempty"`

	// Vars declares captured variables and their initial values.
	Vars map[string]any `yaml:"vars,omitempty"`

	// Queries are run in order against the same store.
	Queries []QueryCase `yaml:"queries"`
}

// QueryCase is one textual query and its expectations.
type QueryCase struct {
	Name  string `yaml:"name"`
	Query string `yaml:"query"`

	// Vars overrides scenario variables for this query only. The plan is
	// expected to be reused when only variable values change.
	Vars map[string]any `yaml:"vars,omitempty"`

	// Expect is checked against the outcome. Nil only requires success.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies the expected outcome of a query.
type Expect struct {
	// Result is compared with the rendered output. Maps are matched as
	// subsets; lists must match element by element.
	Result any `yaml:"result,omitempty"`

	// Count is the expected number of elements of a sequence result.
	Count *int `yaml:"count,omitempty"`

	// Error is a substring of the expected error, usually its code.
	Error string `yaml:"error,omitempty"`

	// PlanContains lists provider kinds that must occur in the plan.
	PlanContains []string `yaml:"plan_contains,omitempty"`

	// PlanExcludes lists provider kinds that must not occur in the plan.
	PlanExcludes []string `yaml:"plan_excludes,omitempty"`

	// Cached requires the plan to come from (true) or miss (false) the
	// plan cache.
	Cached *bool `yaml:"cached,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// The model path is resolved against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "querys:" vs "queries:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Model != "" && !filepath.IsAbs(scenario.Model) {
		scenario.Model = filepath.Join(filepath.Dir(path), scenario.Model)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// LoadScenarios loads every *.yaml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("scan scenarios: %w", err)
	}
	sort.Strings(paths)
	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Model == "" {
		return fmt.Errorf("model is required")
	}
	if _, err := os.Stat(s.Model); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", s.Model)
	}

	if len(s.Queries) == 0 {
		return fmt.Errorf("queries list is required and must be non-empty")
	}

	seen := make(map[string]bool, len(s.Queries))
	for i, q := range s.Queries {
		if q.Name == "" {
			return fmt.Errorf("queries[%d]: name is required", i)
		}
		if seen[q.Name] {
			return fmt.Errorf("queries[%d]: duplicate name %q", i, q.Name)
		}
		seen[q.Name] = true
		if q.Query == "" {
			return fmt.Errorf("queries[%d]: query is required", i)
		}
		for name := range q.Vars {
			if _, ok := s.Vars[name]; !ok {
				return fmt.Errorf("queries[%d]: variable %q is not declared in vars", i, name)
			}
		}
		if e := q.Expect; e != nil {
			if e.Error != "" && (e.Result != nil || e.Count != nil) {
				return fmt.Errorf("queries[%d].expect: error excludes result and count", i)
			}
			if e.Count != nil && *e.Count < 0 {
				return fmt.Errorf("queries[%d].expect: count must be non-negative", i)
			}
		}
	}

	return nil
}
