package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/roach88/quill/internal/compiler"
	"github.com/roach88/quill/internal/rse"
)

// ExplainOptions holds flags for the explain command.
type ExplainOptions struct {
	*RootOptions
	Vars       []string // captured variables, name=value
	Check      bool     // validate the compiled plan
	NoOptimize bool     // skip redundant column removal
}

// ExplainResult describes a compiled query.
type ExplainResult struct {
	Query      string         `json:"query"`
	Kind       string         `json:"kind"`
	Type       string         `json:"type"`
	Width      int            `json:"width"`
	Plan       string         `json:"plan"`
	Params     []ExplainParam `json:"params"`
	Violations []string       `json:"violations,omitempty"`
}

// ExplainParam is one runtime parameter slot.
type ExplainParam struct {
	Slot  int    `json:"slot"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

var (
	sourceColor = color.New(color.FgGreen, color.Bold)
	joinColor   = color.New(color.FgYellow, color.Bold)
	kindColor   = color.New(color.FgCyan, color.Bold)
	detailColor = color.New(color.Faint)
)

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExplainOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "explain <query>",
		Short: "Print the relational plan of a query",
		Long: `Parse a query, translate it against the model and print the provider
tree, the result kind and the runtime parameter slots.

Examples:
  quill explain -m model.cue 'Person.where(p, p.Age > 30).select(p, p.Name)'
  quill explain -m model.cue --var minAge=30 'Person.where(p, p.Age > minAge).count()'
  quill explain -m model.cue --check --no-optimize 'Pet.select(x, x.Owner.Name)'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Vars, "var", nil, "captured variable as name=value, value read as YAML (repeatable)")
	cmd.Flags().BoolVar(&opts.Check, "check", false, "validate plan column contracts and the row template")
	cmd.Flags().BoolVar(&opts.NoOptimize, "no-optimize", false, "skip redundant column removal")

	return cmd
}

func runExplain(opts *ExplainOptions, query string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	s, err := openSession(opts.RootOptions, cmd, opts.Vars, !opts.NoOptimize)
	if err != nil {
		return err
	}
	pq, err := s.compile(query)
	if err != nil {
		return formatter.Fail(ExitFailure, err)
	}
	formatter.VerboseLog("translation %s (cached=%t)", pq.TranslationID, pq.Cached)

	result := explainResult(query, pq)
	if opts.Check {
		for _, v := range compiler.Validate(pq.Query) {
			result.Violations = append(result.Violations, v.Error())
		}
	}

	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		writeExplainText(cmd.OutOrStdout(), result, pq.Query.Plan)
	}

	if len(result.Violations) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("plan has %d contract violation(s)", len(result.Violations)))
	}
	return nil
}

func explainResult(query string, pq *compiler.ParameterizedQuery) ExplainResult {
	q := pq.Query
	result := ExplainResult{
		Query:  query,
		Kind:   q.Kind.String(),
		Type:   q.Type.String(),
		Width:  q.Plan.Width(),
		Plan:   rse.Describe(q.Plan),
		Params: make([]ExplainParam, len(q.Params)),
	}
	for i, p := range q.Params {
		result.Params[i] = ExplainParam{Slot: p.Slot, Name: p.Name, Type: p.Type.String()}
		if p.Slot < len(pq.Values) {
			result.Params[i].Value = pq.Values[p.Slot]
		}
	}
	return result
}

func writeExplainText(w io.Writer, r ExplainResult, plan rse.Provider) {
	fmt.Fprintf(w, "%s %s\n", kindColor.Sprint("result"), r.Kind)
	fmt.Fprintf(w, "%s %s\n", kindColor.Sprint("type"), r.Type)
	fmt.Fprintln(w)
	fmt.Fprint(w, colorPlan(plan))
	if len(r.Params) > 0 {
		fmt.Fprintln(w)
		for _, p := range r.Params {
			fmt.Fprintf(w, "@%d %s %s = %v\n", p.Slot, p.Name, detailColor.Sprint(p.Type), p.Value)
		}
	}
	if len(r.Violations) > 0 {
		fmt.Fprintln(w)
		bad := color.New(color.FgRed)
		for _, v := range r.Violations {
			fmt.Fprintf(w, "%s %s\n", bad.Sprint("✗"), v)
		}
	}
}

// colorPlan renders the plan like rse.Describe with the provider kind
// highlighted. Sources are green, joins and applies yellow.
func colorPlan(p rse.Provider) string {
	var b strings.Builder
	var visit func(p rse.Provider, depth int)
	visit = func(p rse.Provider, depth int) {
		head, rest, _ := strings.Cut(rse.Label(p), " ")
		c := kindColor
		switch p.(type) {
		case *rse.Index:
			c = sourceColor
		case *rse.Join, *rse.Apply:
			c = joinColor
		}
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString(c.Sprint(head))
		if rest != "" {
			b.WriteString(" ")
			b.WriteString(detailColor.Sprint(rest))
		}
		b.WriteString("\n")
		for _, s := range p.Sources() {
			visit(s, depth+1)
		}
	}
	visit(p, 0)
	return b.String()
}
