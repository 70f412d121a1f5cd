package rse

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/quill/internal/expr"
)

// Describe renders the plan as an indented tree, one provider per line.
func Describe(p Provider) string {
	var b strings.Builder
	describe(&b, p, 0)
	return b.String()
}

func describe(b *strings.Builder, p Provider, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(Label(p))
	b.WriteString("\n")
	for _, s := range p.Sources() {
		describe(b, s, depth+1)
	}
}

// Label renders a single provider without its sources.
func Label(p Provider) string {
	switch t := p.(type) {
	case *Index:
		return "Index " + t.Index.Name
	case *Alias:
		return "Alias " + t.Name
	case *Filter:
		return "Filter " + expr.Format(t.Predicate)
	case *Select:
		return "Select " + ints(t.Columns)
	case *Join:
		parts := make([]string, len(t.Pairs))
		for i, pr := range t.Pairs {
			parts[i] = fmt.Sprintf("%d = %d", pr.Left, pr.Right)
		}
		return t.Kind().String() + " (" + strings.Join(parts, ", ") + ")"
	case *Sort:
		return "Sort " + orders(t.Order)
	case *Reindex:
		return "Reindex " + orders(t.Order)
	case *Aggregate:
		parts := make([]string, len(t.Aggregates))
		for i, a := range t.Aggregates {
			if a.Column < 0 {
				parts[i] = a.Func.String() + "(*)"
			} else {
				parts[i] = fmt.Sprintf("%s(#%d)", a.Func, a.Column)
			}
		}
		return "Aggregate group " + ints(t.Group) + " " + strings.Join(parts, ", ")
	case *Calculate:
		parts := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			parts[i] = c.Name + " = " + expr.Format(c.Expr)
		}
		return "Calculate " + strings.Join(parts, ", ")
	case *Distinct:
		return "Distinct"
	case *Skip:
		return "Skip " + expr.Format(t.Count)
	case *Take:
		return "Take " + expr.Format(t.Count)
	case *Apply:
		mode := "cross"
		if t.Outer {
			mode = "outer"
		}
		return fmt.Sprintf("Apply %s %s %s", mode, t.Corr, t.Sequence)
	case *Existence:
		return "Existence " + t.Name
	case *SetOp:
		return t.Op.String()
	}
	return fmt.Sprintf("<%T>", p)
}

func ints(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func orders(os []Order) string {
	parts := make([]string, len(os))
	for i, o := range os {
		dir := "asc"
		if o.Descending {
			dir = "desc"
		}
		parts[i] = fmt.Sprintf("#%d %s", o.Column, dir)
	}
	return strings.Join(parts, ", ")
}
