package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/quill/internal/rse"
	"github.com/roach88/quill/internal/value"
)

// AssertionError is returned when an expectation is not met.
type AssertionError struct {
	Type     string // Expectation that failed
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// outcome is what a query produced.
type outcome struct {
	plan   rse.Provider
	output any // rendered
	err    error
	cached bool
}

// checkExpect evaluates every expectation and returns the failures.
// Without an expect clause the query only has to succeed.
func checkExpect(e *Expect, o outcome) []error {
	if e == nil || e.Error == "" {
		if o.err != nil {
			return []error{&AssertionError{Type: "error", Expected: "success", Actual: o.err.Error()}}
		}
	}
	if e == nil {
		return nil
	}

	var errs []error
	if e.Error != "" {
		switch {
		case o.err == nil:
			errs = append(errs, &AssertionError{Type: "error", Expected: e.Error, Actual: "success"})
		case !strings.Contains(o.err.Error(), e.Error):
			errs = append(errs, &AssertionError{Type: "error", Expected: e.Error, Actual: o.err.Error()})
		}
	}
	if e.Result != nil && o.err == nil {
		if path, ok := match(e.Result, o.output, "result"); !ok {
			errs = append(errs, &AssertionError{
				Type:     "result",
				Expected: fmt.Sprintf("%v", e.Result),
				Actual:   fmt.Sprintf("%v (first mismatch at %s)", o.output, path),
			})
		}
	}
	if e.Count != nil && o.err == nil {
		items, ok := o.output.([]any)
		switch {
		case !ok:
			errs = append(errs, &AssertionError{Type: "count", Expected: fmt.Sprintf("%d elements", *e.Count), Actual: "a non-sequence result"})
		case len(items) != *e.Count:
			errs = append(errs, &AssertionError{Type: "count", Expected: fmt.Sprintf("%d elements", *e.Count), Actual: fmt.Sprintf("%d", len(items))})
		}
	}
	if o.plan != nil {
		for _, k := range e.PlanContains {
			if countKind(o.plan, k) == 0 {
				errs = append(errs, &AssertionError{Type: "plan_contains", Expected: k, Actual: "not in plan"})
			}
		}
		for _, k := range e.PlanExcludes {
			if n := countKind(o.plan, k); n > 0 {
				errs = append(errs, &AssertionError{Type: "plan_excludes", Expected: "no " + k, Actual: fmt.Sprintf("%d in plan", n)})
			}
		}
	}
	if e.Cached != nil && *e.Cached != o.cached {
		errs = append(errs, &AssertionError{Type: "cached", Expected: fmt.Sprintf("%t", *e.Cached), Actual: fmt.Sprintf("%t", o.cached)})
	}
	return errs
}

func countKind(p rse.Provider, name string) int {
	n := 0
	rse.Walk(p, func(q rse.Provider) bool {
		if q.Kind().String() == name {
			n++
		}
		return true
	})
	return n
}

// match compares expected YAML data with a rendered result. Maps are
// subset matches, lists must have equal length, and scalars are equal if
// they compare equal as values or print the same.
func match(expected, actual any, path string) (string, bool) {
	switch e := expected.(type) {
	case map[string]any:
		a, ok := actual.(map[string]any)
		if !ok {
			return path, false
		}
		for k, ev := range e {
			av, ok := a[k]
			if !ok {
				return path + "." + k, false
			}
			if p, ok := match(ev, av, path+"."+k); !ok {
				return p, false
			}
		}
		return "", true
	case []any:
		a, ok := actual.([]any)
		if !ok || len(a) != len(e) {
			return path, false
		}
		for i := range e {
			if p, ok := match(e[i], a[i], fmt.Sprintf("%s[%d]", path, i)); !ok {
				return p, false
			}
		}
		return "", true
	}
	if value.Equal(expected, actual) {
		return "", true
	}
	if expected != nil && actual != nil && value.Format(expected) == value.Format(actual) {
		return "", true
	}
	return path, false
}
