package rse

import (
	"fmt"

	"github.com/roach88/quill/internal/expr"
)

// ValidationResult lists column contract violations found in a plan.
type ValidationResult struct {
	// Valid is true when no violation was found.
	Valid bool

	// Violations describes each broken contract, outermost provider first.
	Violations []string
}

// Validate checks that every column reference in p is in range for the
// provider it appears in and that every correlated reference is bound by an
// enclosing Apply. free lists correlations bound outside p.
//
// Validate is a pure function with no side effects.
func Validate(p Provider, free ...*expr.Correlation) ValidationResult {
	v := &validator{violations: []string{}, bound: map[*expr.Correlation]int{}}
	for _, c := range free {
		v.bound[c] = -1
	}
	v.visit(p)
	return ValidationResult{Valid: len(v.violations) == 0, Violations: v.violations}
}

type validator struct {
	violations []string
	// bound maps correlations in scope to the width of their outer row
	// (-1 when unknown).
	bound map[*expr.Correlation]int
}

func (v *validator) addViolation(p Provider, format string, args ...any) {
	v.violations = append(v.violations, Label(p)+": "+fmt.Sprintf(format, args...))
}

func (v *validator) column(p Provider, idx, width int) {
	if idx < 0 || idx >= width {
		v.addViolation(p, "column %d out of range [0,%d)", idx, width)
	}
}

func (v *validator) visit(p Provider) {
	if p == nil {
		v.violations = append(v.violations, "nil provider")
		return
	}
	switch t := p.(type) {
	case *Select:
		for _, c := range t.Columns {
			v.column(p, c, t.Source.Width())
		}
	case *Join:
		for _, pr := range t.Pairs {
			v.column(p, pr.Left, t.Left.Width())
			v.column(p, pr.Right, t.Right.Width())
		}
	case *Sort:
		for _, o := range t.Order {
			v.column(p, o.Column, t.Source.Width())
		}
	case *Reindex:
		for _, o := range t.Order {
			v.column(p, o.Column, t.Source.Width())
		}
	case *Aggregate:
		for _, g := range t.Group {
			v.column(p, g, t.Source.Width())
		}
		for _, a := range t.Aggregates {
			if a.Column < 0 && a.Func != Count {
				v.addViolation(p, "%s needs a column", a.Func)
				continue
			}
			if a.Column >= 0 {
				v.column(p, a.Column, t.Source.Width())
			}
		}
	case *SetOp:
		if t.Left.Width() != t.Right.Width() {
			v.addViolation(p, "inputs have %d and %d columns", t.Left.Width(), t.Right.Width())
		}
	}

	width := 0
	if srcs := p.Sources(); len(srcs) > 0 {
		width = srcs[0].Width()
	}
	for _, e := range Exprs(p) {
		v.expression(p, e, width)
	}

	if ap, ok := p.(*Apply); ok {
		v.visit(ap.Left)
		prev, had := v.bound[ap.Corr]
		v.bound[ap.Corr] = ap.Left.Width()
		v.visit(ap.Right)
		if had {
			v.bound[ap.Corr] = prev
		} else {
			delete(v.bound, ap.Corr)
		}
		return
	}
	for _, s := range p.Sources() {
		v.visit(s)
	}
}

func (v *validator) expression(p Provider, e expr.Node, width int) {
	expr.Walk(e, func(n expr.Node) bool {
		switch t := n.(type) {
		case *expr.Column:
			v.column(p, t.Index, width)
		case *expr.OuterColumn:
			w, ok := v.bound[t.Corr]
			switch {
			case !ok:
				v.addViolation(p, "unbound correlation %s", t.Corr)
			case w >= 0 && (t.Index < 0 || t.Index >= w):
				v.addViolation(p, "outer column %s#%d out of range [0,%d)", t.Corr, t.Index, w)
			}
		case *expr.Lambda, *expr.Parameter, *expr.Source:
			v.addViolation(p, "untranslated %s", expr.Format(n))
			return false
		}
		return true
	})
}
