package translator

import (
	"fmt"
	"log/slog"

	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/model"
	"github.com/roach88/quill/internal/rse"
)

// ResultKind tells the materializer how to turn rows into the query result.
type ResultKind int

const (
	// ResultSequence yields every row.
	ResultSequence ResultKind = iota + 1
	// ResultScalar unwraps the single row of an aggregate or existence test.
	ResultScalar
	ResultFirst
	ResultFirstOrDefault
	ResultSingle
	ResultSingleOrDefault
)

var resultKindNames = map[ResultKind]string{
	ResultSequence:        "sequence",
	ResultScalar:          "scalar",
	ResultFirst:           "first",
	ResultFirstOrDefault:  "first-or-default",
	ResultSingle:          "single",
	ResultSingleOrDefault: "single-or-default",
}

func (k ResultKind) String() string {
	if s, ok := resultKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ResultKind(%d)", int(k))
}

// Result is a translated query.
type Result struct {
	Kind ResultKind
	// Aggregate is set for scalar results computed by an aggregate.
	Aggregate rse.AggregateFunc
	Projector ItemProjector
	// Type is the query result type: the sequence type for sequences, the
	// element or scalar type otherwise.
	Type *expr.Type
}

// Plan returns the provider tree.
func (r *Result) Plan() rse.Provider { return r.Projector.DataSource }

type translator struct {
	model  *model.Model
	logger *slog.Logger

	corrs   int
	aliases int
	calcs   int
}

// Translate lowers a query expression to a provider tree and a row
// template. root must be a query sequence or a terminal operator applied to
// one. Every call uses a fresh translator; Translate is safe for concurrent
// use with a shared model.
func Translate(m *model.Model, root expr.Node, opts ...Option) (*Result, error) {
	t := &translator{model: m, logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	res, err := t.translateRoot(root)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("query translated",
		"kind", res.Kind.String(),
		"joins", rse.CountKind(res.Plan(), rse.KindJoin)+rse.CountKind(res.Plan(), rse.KindLeftJoin),
		"applies", rse.CountKind(res.Plan(), rse.KindApply),
		"width", res.Plan().Width(),
	)
	return res, nil
}

func (t *translator) translateRoot(root expr.Node) (*Result, error) {
	var ctx Context
	if call, ok := root.(*expr.Call); ok && expr.IsQueryOperator(call) && isTerminal(call.Method.Name) {
		term, _, err := t.buildTerminal(ctx, call)
		if err != nil {
			return nil, err
		}
		return &Result{
			Kind:      term.kind,
			Aggregate: term.agg,
			Projector: ItemProjector{Item: term.item, DataSource: term.source},
			Type:      term.typ,
		}, nil
	}
	if root == nil || !root.Type().IsSequence() {
		return nil, unsupported(root, "query root is not a sequence")
	}
	proj, _, err := t.visitSequence(ctx, root)
	if err != nil {
		return nil, err
	}
	return &Result{Kind: ResultSequence, Projector: proj.Projector, Type: proj.Type}, nil
}

func (t *translator) newCorr() *expr.Correlation {
	t.corrs++
	return &expr.Correlation{ID: t.corrs}
}

func (t *translator) newAlias() string {
	name := fmt.Sprintf("a%d", t.aliases)
	t.aliases++
	return name
}

func isTerminal(name string) bool {
	switch name {
	case expr.MethodCount, expr.MethodLongCount, expr.MethodSum, expr.MethodMin, expr.MethodMax,
		expr.MethodAverage, expr.MethodFirst, expr.MethodFirstOrDefault, expr.MethodSingle,
		expr.MethodSingleOrDefault, expr.MethodAny, expr.MethodAll, expr.MethodContains:
		return true
	}
	return false
}

// visitSequence translates an expression that produces a sequence.
func (t *translator) visitSequence(ctx Context, n expr.Node) (*Projection, Context, error) {
	switch s := n.(type) {
	case *expr.Source:
		info, ok := t.model.Type(s.Entity)
		if !ok || !info.IsEntity() {
			return nil, ctx, modelError(n, fmt.Errorf("unknown entity %q", s.Entity))
		}
		return &Projection{
			Type: expr.QueryableOf(expr.EntityType(info.Name)),
			Projector: ItemProjector{
				Item:       entityItem(info, 0, false),
				DataSource: rse.NewIndex(info.PrimaryIndex),
			},
		}, ctx, nil
	case *expr.Call:
		if !expr.IsQueryOperator(s) {
			return nil, ctx, unsupported(n, "%s does not produce a query sequence", s.Method)
		}
		if isTerminal(s.Method.Name) {
			return nil, ctx, unsupported(n, "terminal %s used as a sequence", s.Method.Name)
		}
		return t.visitOperator(ctx, s)
	case *expr.Parameter, *expr.Member:
		return t.visitNestedSequence(ctx, n)
	}
	return nil, ctx, unsupported(n, "%T is not a query sequence", n)
}

func (t *translator) visitOperator(ctx Context, call *expr.Call) (*Projection, Context, error) {
	switch call.Method.Name {
	case expr.MethodWhere:
		return t.visitWhere(ctx, call)
	case expr.MethodSelect:
		return t.visitSelect(ctx, call)
	case expr.MethodSelectMany:
		return t.visitSelectMany(ctx, call)
	case expr.MethodJoin:
		return t.visitJoin(ctx, call)
	case expr.MethodGroupJoin:
		return t.visitGroupJoin(ctx, call)
	case expr.MethodGroupBy:
		return t.visitGroupBy(ctx, call)
	case expr.MethodOrderBy, expr.MethodOrderByDescending, expr.MethodThenBy, expr.MethodThenByDescending:
		return t.visitSort(ctx, call)
	case expr.MethodDistinct, expr.MethodSkip, expr.MethodTake:
		return t.visitLimit(ctx, call)
	case expr.MethodConcat, expr.MethodUnion, expr.MethodIntersect, expr.MethodExcept:
		return t.visitSetOperation(ctx, call)
	}
	return nil, ctx, unsupported(call, "operator %s", call.Method.Name)
}

// lambdaArg returns argument i of call as a lambda with params parameters.
func lambdaArg(call *expr.Call, i, params int) (*expr.Lambda, error) {
	if i >= len(call.Args) || call.Args[i] == nil {
		return nil, argumentError(call, "%s needs a selector", call.Method.Name)
	}
	lam, ok := expr.Unquote(call.Args[i])
	if !ok {
		return nil, argumentError(call.Args[i], "%s argument %d is not a lambda", call.Method.Name, i)
	}
	if len(lam.Params) != params {
		return nil, unsupported(lam, "%s selector with %d parameters", call.Method.Name, len(lam.Params))
	}
	return lam, nil
}

// optionalLambda returns argument i when present.
func optionalLambda(call *expr.Call, i, params int) (*expr.Lambda, error) {
	if i >= len(call.Args) {
		return nil, nil
	}
	return lambdaArg(call, i, params)
}

func sourceArg(call *expr.Call) (expr.Node, error) {
	if len(call.Args) == 0 || call.Args[0] == nil {
		return nil, argumentError(call, "%s has no source", call.Method.Name)
	}
	return call.Args[0], nil
}
