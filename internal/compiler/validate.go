package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/rse"
)

// Plan validation error codes (E300-E399)
const (
	ErrPlanContract        = "E300" // provider column contract broken
	ErrColumnOutOfRange    = "E301" // row template reads past the row width
	ErrItemLayout          = "E302" // entity or structure item has the wrong column count
	ErrUnboundOuter        = "E303" // outer item without an enclosing subquery
	ErrParamSlot           = "E304" // parameter slots not dense or unknown slot read
	ErrMissingMaterializer = "E305" // plan has no compiled materializer
)

// ValidationError represents a broken invariant in a compiled plan.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors is returned by Compile when plan validation is enabled
// and the translated plan is broken.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return "invalid plan: " + strings.Join(msgs, "; ")
}

// Validate checks a translated query: provider column contracts, the row
// template against the plan width, nested subquery templates against their
// relations, and parameter slots.
// Returns all errors found (does not fail-fast).
func Validate(q *TranslatedQuery) []ValidationError {
	v := &planValidator{outer: map[*expr.Correlation]int{}, slots: len(q.Params)}

	for _, msg := range rse.Validate(q.Plan).Violations {
		v.add("plan", ErrPlanContract, "%s", msg)
	}
	for i, p := range q.Params {
		if p.Slot != i {
			v.add("params", ErrParamSlot, "parameter %s has slot %d, want %d", p.Name, p.Slot, i)
		}
	}
	if q.Materializer == nil {
		v.add("materializer", ErrMissingMaterializer, "no materializer compiled")
	}
	v.item("item", q.Item, q.Plan.Width())
	return v.errs
}

type planValidator struct {
	errs []ValidationError
	// outer maps the correlations of enclosing subqueries to the width of
	// the row they bind.
	outer map[*expr.Correlation]int
	slots int
}

func (v *planValidator) add(field, code, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
}

func (v *planValidator) columns(field string, cols []int, width int) {
	for _, c := range cols {
		if c < 0 || c >= width {
			v.add(field, ErrColumnOutOfRange, "column #%d out of range [0,%d)", c, width)
		}
	}
}

// item checks a row template evaluated over rows of the given width.
func (v *planValidator) item(field string, n expr.Node, width int) {
	expr.Walk(n, func(n expr.Node) bool {
		switch t := n.(type) {
		case *expr.Column:
			v.columns(field, []int{t.Index}, width)
		case *expr.EntityItem:
			v.columns(field, t.Columns, width)
			if len(t.Columns) != len(t.Info.Columns) {
				v.add(field, ErrItemLayout, "%s item maps %d columns, layout has %d", t.Info.Name, len(t.Columns), len(t.Info.Columns))
			}
		case *expr.KeyItem:
			v.columns(field, t.Columns, width)
		case *expr.StructureItem:
			v.columns(field, t.Columns, width)
			if len(t.Columns) != len(t.Info.Columns) {
				v.add(field, ErrItemLayout, "%s item maps %d columns, layout has %d", t.Info.Name, len(t.Columns), len(t.Info.Columns))
			}
		case *expr.QueryParam:
			if t.Slot < 0 || t.Slot >= v.slots {
				v.add(field, ErrParamSlot, "read of unknown parameter slot %d", t.Slot)
			}
		case *expr.SubQuery:
			v.subquery(field, t, width)
			return false
		case *expr.GroupingItem:
			if t.Elements != nil {
				v.subquery(field+".elements", t.Elements, width)
			}
		case *expr.Outer:
			w, ok := v.outer[t.Corr]
			if !ok {
				v.add(field, ErrUnboundOuter, "outer item of %s outside its subquery", t.Corr)
				return false
			}
			v.item(field+".outer", t.Item, w)
			return false
		}
		return true
	})
}

func (v *planValidator) subquery(field string, sq *expr.SubQuery, width int) {
	rel, ok := sq.Relation.(rse.Provider)
	if !ok {
		v.add(field, ErrPlanContract, "subquery relation %T is not a plan", sq.Relation)
		return
	}
	v.outer[sq.Corr] = width
	defer delete(v.outer, sq.Corr)

	free := make([]*expr.Correlation, 0, len(v.outer))
	for c := range v.outer {
		free = append(free, c)
	}
	for _, msg := range rse.Validate(rel, free...).Violations {
		v.add(field+".subquery", ErrPlanContract, "%s", msg)
	}
	v.item(field+".subquery", sq.Projector, rel.Width())
}
