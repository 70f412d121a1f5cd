package materializer

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/quill/internal/evaluator"
	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/model"
	"github.com/roach88/quill/internal/rse"
	"github.com/roach88/quill/internal/translator"
	"github.com/roach88/quill/internal/value"
)

// Materializer turns the rows of a plan into the query result. Sequence
// results are []any; scalar and element results are single values.
type Materializer func(ctx context.Context, rows rse.Rows, env *Env) (any, error)

// SubqueryExecutor runs the relation of a materialization-time subquery.
// env has the subquery's correlation bound to the current row.
type SubqueryExecutor interface {
	ExecuteSubquery(ctx context.Context, rel rse.Provider, env *evaluator.RowEnv) (rse.Rows, error)
}

// Env carries what a Materializer needs beyond the rows.
type Env struct {
	// Params holds the values of the query's QueryParam slots.
	Params []any
	// Subqueries runs nested relations. It may be nil for items without
	// subqueries or groupings.
	Subqueries SubqueryExecutor
}

// ErrNoExecutor is returned when an item needs a subquery but Env has no
// executor.
var ErrNoExecutor = errors.New("no subquery executor")

type options struct {
	aggregate rse.AggregateFunc
	typ       *expr.Type
}

// Option configures Compile.
type Option func(*options)

// WithAggregate marks a scalar result computed by fn over possibly empty
// input. t is the result type.
func WithAggregate(fn rse.AggregateFunc, t *expr.Type) Option {
	return func(o *options) {
		o.aggregate = fn
		o.typ = t
	}
}

// ForResult compiles the materializer of a translated query.
func ForResult(res *translator.Result) (Materializer, error) {
	return Compile(res.Projector, res.Kind, WithAggregate(res.Aggregate, res.Type))
}

// Compile builds a Materializer for rows laid out by proj.DataSource.
func Compile(proj translator.ItemProjector, kind translator.ResultKind, opts ...Option) (Materializer, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	read, err := compileItem(proj.Item)
	if err != nil {
		return nil, err
	}
	switch kind {
	case translator.ResultSequence:
		return func(ctx context.Context, rows rse.Rows, env *Env) (any, error) {
			return readAll(ctx, rows, env, nil, read)
		}, nil
	case translator.ResultScalar:
		return scalar(read, o), nil
	case translator.ResultFirst, translator.ResultFirstOrDefault,
		translator.ResultSingle, translator.ResultSingleOrDefault:
		return element(read, kind), nil
	}
	return nil, fmt.Errorf("materializer: unknown result kind %s", kind)
}

// reader builds one value from the row bound in row.
type reader func(ctx context.Context, row *evaluator.RowEnv, env *Env) (any, error)

func readAll(ctx context.Context, rows rse.Rows, env *Env, outer *evaluator.RowEnv, read reader) ([]any, error) {
	defer rows.Close()
	base := rowEnv(env, outer)
	out := make([]any, 0)
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := read(ctx, base.WithRow(rows.Tuple()), env)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func rowEnv(env *Env, outer *evaluator.RowEnv) *evaluator.RowEnv {
	if outer != nil {
		return outer
	}
	re := &evaluator.RowEnv{}
	if env != nil {
		re.Params = env.Params
	}
	return re
}

// scalar unwraps the single row of an aggregate or existence plan.
func scalar(read reader, o options) Materializer {
	return func(ctx context.Context, rows rse.Rows, env *Env) (any, error) {
		all, err := readAll(ctx, rows, env, nil, read)
		if err != nil {
			return nil, err
		}
		var v any
		if len(all) > 0 {
			v = all[0]
		}
		if v != nil {
			return v, nil
		}
		switch o.aggregate {
		case rse.Sum:
			return zeroOf(o.typ), nil
		case rse.Count:
			return int64(0), nil
		case rse.Min, rse.Max, rse.Avg:
			if o.typ != nil && o.typ.Nullable {
				return nil, nil
			}
			return nil, &Error{Code: CodeEmptySequence, Message: fmt.Sprintf("%s over an empty sequence", o.aggregate)}
		}
		return v, nil
	}
}

// element applies First/Single semantics. The plan already limits the rows
// to one (First) or two (Single).
func element(read reader, kind translator.ResultKind) Materializer {
	single := kind == translator.ResultSingle || kind == translator.ResultSingleOrDefault
	orDefault := kind == translator.ResultFirstOrDefault || kind == translator.ResultSingleOrDefault
	return func(ctx context.Context, rows rse.Rows, env *Env) (any, error) {
		all, err := readAll(ctx, rows, env, nil, read)
		if err != nil {
			return nil, err
		}
		switch {
		case len(all) == 0 && orDefault:
			return nil, nil
		case len(all) == 0:
			return nil, &Error{Code: CodeEmptySequence, Message: fmt.Sprintf("%s over an empty sequence", kind)}
		case single && len(all) > 1:
			return nil, &Error{Code: CodeCardinality, Message: "sequence contains more than one element"}
		}
		return all[0], nil
	}
}

func compileItem(n expr.Node) (reader, error) {
	switch t := n.(type) {
	case nil:
		return nil, fmt.Errorf("materializer: nil item")
	case *expr.EntityItem:
		return entityReader(t.Info, t.Columns), nil
	case *expr.KeyItem:
		return keyReader(t.Info, t.Columns), nil
	case *expr.StructureItem:
		return structureReader(t.Info, t.Columns), nil
	case *expr.New:
		return recordReader(t)
	case *expr.SubQuery:
		return subqueryReader(t)
	case *expr.GroupingItem:
		return groupingReader(t)
	case *expr.Outer:
		inner, err := compileItem(t.Item)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, row *evaluator.RowEnv, env *Env) (any, error) {
			outer, ok := row.Outers[t.Corr]
			if !ok {
				return nil, fmt.Errorf("%w: %s", evaluator.ErrUnboundColumn, t.Corr)
			}
			return inner(ctx, row.WithRow(outer), env)
		}, nil
	}
	if c := composite(n); c != nil {
		return nil, fmt.Errorf("materializer: %T inside scalar expression %s", c, expr.Format(n))
	}
	return func(_ context.Context, row *evaluator.RowEnv, _ *Env) (any, error) {
		return evaluator.Eval(n, row)
	}, nil
}

// composite returns the first item node under a scalar expression.
func composite(n expr.Node) expr.Node {
	var found expr.Node
	expr.Walk(n, func(c expr.Node) bool {
		if found != nil {
			return false
		}
		switch c.(type) {
		case *expr.EntityItem, *expr.KeyItem, *expr.StructureItem, *expr.New,
			*expr.SubQuery, *expr.GroupingItem, *expr.Outer:
			found = c
			return false
		}
		return true
	})
	return found
}

func pick(row *evaluator.RowEnv, cols []int) ([]any, error) {
	out := make([]any, len(cols))
	for i, c := range cols {
		v, err := row.Column(c)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func allNil(vals []any) bool {
	for _, v := range vals {
		if v != nil {
			return false
		}
	}
	return true
}

// entityReader yields nil when every key column is null, which is how an
// unmatched left join or an empty optional reference arrives.
func entityReader(info *model.TypeInfo, cols []int) reader {
	key := info.KeySegment()
	return func(_ context.Context, row *evaluator.RowEnv, _ *Env) (any, error) {
		vals, err := pick(row, cols)
		if err != nil {
			return nil, err
		}
		if allNil(vals[key.Offset:key.End()]) {
			return nil, nil
		}
		return &value.Entity{
			Type:   info.Name,
			Key:    value.Key{Type: info.Name, Values: vals[key.Offset:key.End()]},
			Fields: fields(info, vals),
		}, nil
	}
}

func keyReader(info *model.TypeInfo, cols []int) reader {
	return func(_ context.Context, row *evaluator.RowEnv, _ *Env) (any, error) {
		vals, err := pick(row, cols)
		if err != nil {
			return nil, err
		}
		if allNil(vals) {
			return nil, nil
		}
		return value.Key{Type: info.Name, Values: vals}, nil
	}
}

func structureReader(info *model.TypeInfo, cols []int) reader {
	return func(_ context.Context, row *evaluator.RowEnv, _ *Env) (any, error) {
		vals, err := pick(row, cols)
		if err != nil {
			return nil, err
		}
		return &value.Structure{Type: info.Name, Fields: fields(info, vals)}, nil
	}
}

// fields decodes vals, laid out as info's row, into named field values.
// Entity sets are not loaded.
func fields(info *model.TypeInfo, vals []any) map[string]any {
	out := make(map[string]any, len(info.Fields))
	for _, f := range info.Fields {
		seg := vals[f.Segment.Offset:f.Segment.End()]
		switch f.Kind {
		case model.FieldPrimitive:
			out[f.Name] = seg[0]
		case model.FieldStructure:
			out[f.Name] = &value.Structure{Type: f.Target.Name, Fields: fields(f.Target, seg)}
		case model.FieldReference:
			if allNil(seg) {
				out[f.Name] = nil
				continue
			}
			out[f.Name] = value.Key{Type: f.Target.Name, Values: append([]any(nil), seg...)}
		}
	}
	return out
}

func recordReader(n *expr.New) (reader, error) {
	args := make([]reader, len(n.Args))
	for i, a := range n.Args {
		r, err := compileItem(a)
		if err != nil {
			return nil, err
		}
		args[i] = r
	}
	return func(ctx context.Context, row *evaluator.RowEnv, env *Env) (any, error) {
		vals := make([]any, len(args))
		for i, r := range args {
			v, err := r(ctx, row, env)
			if err != nil {
				return nil, fmt.Errorf("member %s: %w", n.Names[i], err)
			}
			vals[i] = v
		}
		return value.NewRecord(n.Names, vals), nil
	}, nil
}

// subqueryReader runs sq.Relation once per current row.
func subqueryReader(sq *expr.SubQuery) (reader, error) {
	rel, ok := sq.Relation.(rse.Provider)
	if !ok {
		return nil, fmt.Errorf("materializer: subquery relation %T is not a provider", sq.Relation)
	}
	read, err := compileItem(sq.Projector)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, row *evaluator.RowEnv, env *Env) (any, error) {
		if env == nil || env.Subqueries == nil {
			return nil, ErrNoExecutor
		}
		bound := row.WithOuter(sq.Corr, row.Row)
		rows, err := env.Subqueries.ExecuteSubquery(ctx, rel, bound)
		if err != nil {
			return nil, err
		}
		return readAll(ctx, rows, env, bound, read)
	}, nil
}

func groupingReader(g *expr.GroupingItem) (reader, error) {
	key, err := compileItem(g.Key)
	if err != nil {
		return nil, err
	}
	elems, err := subqueryReader(g.Elements)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, row *evaluator.RowEnv, env *Env) (any, error) {
		k, err := key(ctx, row, env)
		if err != nil {
			return nil, err
		}
		items, err := elems(ctx, row, env)
		if err != nil {
			return nil, err
		}
		return &value.Grouping{Key: k, Items: items.([]any)}, nil
	}, nil
}

func zeroOf(t *expr.Type) any {
	if t != nil {
		if vt, ok := t.ValueType(); ok {
			return value.Zero(vt)
		}
	}
	return int64(0)
}
