package harness

// Result is the outcome of one scenario.
type Result struct {
	// Scenario is the scenario name.
	Scenario string `json:"scenario"`

	// Pass is true if every query met its expectations.
	Pass bool `json:"pass"`

	// Queries holds one entry per query, in scenario order.
	Queries []QueryResult `json:"queries"`

	// Errors contains scenario-level failures such as fixture errors.
	Errors []string `json:"errors,omitempty"`
}

// QueryResult is the outcome of one query.
type QueryResult struct {
	Name string `json:"name"`
	Pass bool   `json:"pass"`

	// Plan is the described provider tree, empty if compilation failed.
	Plan string `json:"plan,omitempty"`

	// Output is the rendered result (see Render).
	Output any `json:"output,omitempty"`

	// Error is the compile or execution error, if any.
	Error string `json:"error,omitempty"`

	// Cached reports whether the plan came from the plan cache.
	Cached bool `json:"cached"`

	// Failures lists the unmet expectations.
	Failures []string `json:"failures,omitempty"`
}

// NewResult creates a new passing result.
func NewResult(scenario string) *Result {
	return &Result{
		Scenario: scenario,
		Pass:     true,
		Queries:  []QueryResult{},
		Errors:   []string{},
	}
}

// AddError adds a scenario-level error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddQuery records a query outcome.
func (r *Result) AddQuery(q QueryResult) {
	r.Queries = append(r.Queries, q)
	if !q.Pass {
		r.Pass = false
	}
}
