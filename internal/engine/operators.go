package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/quill/internal/evaluator"
	"github.com/roach88/quill/internal/rse"
	"github.com/roach88/quill/internal/value"
)

func (r *run) evalProvider(ctx context.Context, p rse.Provider, env *evaluator.RowEnv) ([]rse.Tuple, error) {
	switch t := p.(type) {
	case *rse.Index:
		rows, err := r.engine.storage.Scan(ctx, t.Index)
		if err != nil {
			return nil, &RuntimeError{Code: ErrCodeStorage, Message: "scan " + t.Index.Name, Provider: "Index", Err: err}
		}
		return rows, nil

	case *rse.Alias:
		return r.eval(ctx, t.Source, env)

	case *rse.Filter:
		src, err := r.eval(ctx, t.Source, env)
		if err != nil {
			return nil, err
		}
		var out []rse.Tuple
		for _, row := range src {
			v, err := evaluator.Eval(t.Predicate, env.WithRow(row))
			if err != nil {
				return nil, fmt.Errorf("filter: %w", err)
			}
			if value.Truthy(v) {
				out = append(out, row)
			}
		}
		return out, nil

	case *rse.Select:
		src, err := r.eval(ctx, t.Source, env)
		if err != nil {
			return nil, err
		}
		out := make([]rse.Tuple, len(src))
		for i, row := range src {
			picked := make(rse.Tuple, len(t.Columns))
			for j, c := range t.Columns {
				picked[j] = row[c]
			}
			out[i] = picked
		}
		return out, nil

	case *rse.Sort:
		return r.sorted(ctx, t.Source, t.Order, env)

	case *rse.Reindex:
		return r.sorted(ctx, t.Source, t.Order, env)

	case *rse.Join:
		return r.join(ctx, t, env)

	case *rse.Apply:
		return r.apply(ctx, t, env)

	case *rse.Aggregate:
		src, err := r.eval(ctx, t.Source, env)
		if err != nil {
			return nil, err
		}
		return aggregate(t, src)

	case *rse.Calculate:
		src, err := r.eval(ctx, t.Source, env)
		if err != nil {
			return nil, err
		}
		out := make([]rse.Tuple, len(src))
		for i, row := range src {
			next := make(rse.Tuple, len(row), len(row)+len(t.Columns))
			copy(next, row)
			for _, c := range t.Columns {
				v, err := evaluator.Eval(c.Expr, env.WithRow(row))
				if err != nil {
					return nil, fmt.Errorf("calculate %s: %w", c.Name, err)
				}
				next = append(next, v)
			}
			out[i] = next
		}
		return out, nil

	case *rse.Distinct:
		src, err := r.eval(ctx, t.Source, env)
		if err != nil {
			return nil, err
		}
		return distinct(src), nil

	case *rse.Skip:
		src, err := r.eval(ctx, t.Source, env)
		if err != nil {
			return nil, err
		}
		n, err := t.Rows(env)
		if err != nil {
			return nil, fmt.Errorf("skip: %w", err)
		}
		if n >= len(src) {
			return nil, nil
		}
		return src[n:], nil

	case *rse.Take:
		src, err := r.eval(ctx, t.Source, env)
		if err != nil {
			return nil, err
		}
		n, err := t.Rows(env)
		if err != nil {
			return nil, fmt.Errorf("take: %w", err)
		}
		if n < len(src) {
			src = src[:n]
		}
		return src, nil

	case *rse.Existence:
		src, err := r.eval(ctx, t.Source, env)
		if err != nil {
			return nil, err
		}
		return []rse.Tuple{{len(src) > 0}}, nil

	case *rse.SetOp:
		return r.setOp(ctx, t, env)
	}
	return nil, &RuntimeError{Code: ErrCodeUnsupported, Message: fmt.Sprintf("%T", p), Provider: p.Kind().String()}
}

// sorted is a stable sort, so rows with equal keys keep source order.
func (r *run) sorted(ctx context.Context, src rse.Provider, order []rse.Order, env *evaluator.RowEnv) ([]rse.Tuple, error) {
	in, err := r.eval(ctx, src, env)
	if err != nil {
		return nil, err
	}
	out := append([]rse.Tuple(nil), in...)
	var cmpErr error
	sort.SliceStable(out, func(i, j int) bool {
		for _, o := range order {
			c, err := value.Compare(out[i][o.Column], out[j][o.Column])
			if err != nil && cmpErr == nil {
				cmpErr = err
			}
			if c == 0 {
				continue
			}
			if o.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	if cmpErr != nil {
		return nil, fmt.Errorf("sort: %w", cmpErr)
	}
	return out, nil
}

// join is a hash join on the right input. Keys containing nil never match.
func (r *run) join(ctx context.Context, j *rse.Join, env *evaluator.RowEnv) ([]rse.Tuple, error) {
	left, err := r.eval(ctx, j.Left, env)
	if err != nil {
		return nil, err
	}
	right, err := r.eval(ctx, j.Right, env)
	if err != nil {
		return nil, err
	}
	rightCols := make([]int, len(j.Pairs))
	leftCols := make([]int, len(j.Pairs))
	for i, p := range j.Pairs {
		leftCols[i] = p.Left
		rightCols[i] = p.Right
	}
	buckets := make(map[string][]rse.Tuple)
	for _, row := range right {
		if key, ok := joinKey(row, rightCols); ok {
			buckets[key] = append(buckets[key], row)
		}
	}
	rw := j.Right.Width()
	var out []rse.Tuple
	for _, l := range left {
		var matches []rse.Tuple
		if key, ok := joinKey(l, leftCols); ok {
			matches = buckets[key]
		}
		if len(matches) == 0 && j.Outer {
			out = append(out, concat(l, make(rse.Tuple, rw)))
			continue
		}
		for _, m := range matches {
			out = append(out, concat(l, m))
		}
	}
	return out, nil
}

func joinKey(row rse.Tuple, cols []int) (string, bool) {
	vals := make([]any, len(cols))
	for i, c := range cols {
		if row[c] == nil {
			return "", false
		}
		vals[i] = row[c]
	}
	return value.TupleKey(vals), true
}

// apply evaluates the right side once per left row.
func (r *run) apply(ctx context.Context, a *rse.Apply, env *evaluator.RowEnv) ([]rse.Tuple, error) {
	left, err := r.eval(ctx, a.Left, env)
	if err != nil {
		return nil, err
	}
	rw := a.Right.Width()
	var out []rse.Tuple
	for _, l := range left {
		right, err := r.eval(ctx, a.Right, env.WithOuter(a.Corr, l))
		if err != nil {
			return nil, err
		}
		switch a.Sequence {
		case rse.SequenceFirst:
			if len(right) > 1 {
				right = right[:1]
			}
		case rse.SequenceSingle:
			if len(right) > 1 {
				return nil, &RuntimeError{
					Code:     ErrCodeCardinality,
					Message:  fmt.Sprintf("correlated subquery %s returned %d rows", a.Corr, len(right)),
					Provider: "Apply",
				}
			}
		}
		if len(right) == 0 && a.Outer {
			out = append(out, concat(l, make(rse.Tuple, rw)))
			continue
		}
		for _, m := range right {
			out = append(out, concat(l, m))
		}
	}
	return out, nil
}

func (r *run) setOp(ctx context.Context, s *rse.SetOp, env *evaluator.RowEnv) ([]rse.Tuple, error) {
	left, err := r.eval(ctx, s.Left, env)
	if err != nil {
		return nil, err
	}
	right, err := r.eval(ctx, s.Right, env)
	if err != nil {
		return nil, err
	}
	switch s.Op {
	case rse.KindConcat:
		return append(append([]rse.Tuple(nil), left...), right...), nil
	case rse.KindUnion:
		return distinct(append(append([]rse.Tuple(nil), left...), right...)), nil
	}
	inRight := make(map[string]bool, len(right))
	for _, row := range right {
		inRight[value.TupleKey(row)] = true
	}
	keep := s.Op == rse.KindIntersect
	var out []rse.Tuple
	for _, row := range distinct(left) {
		if inRight[value.TupleKey(row)] == keep {
			out = append(out, row)
		}
	}
	return out, nil
}

// distinct keeps the first occurrence of every row.
func distinct(rows []rse.Tuple) []rse.Tuple {
	seen := make(map[string]bool, len(rows))
	var out []rse.Tuple
	for _, row := range rows {
		k := value.TupleKey(row)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, row)
	}
	return out
}

func concat(a, b rse.Tuple) rse.Tuple {
	out := make(rse.Tuple, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
