package engine

import (
	"fmt"

	"github.com/roach88/quill/internal/rse"
	"github.com/roach88/quill/internal/value"
)

// accumulator folds one aggregate column of one group.
type accumulator struct {
	fn    rse.AggregateFunc
	col   int
	count int64
	acc   any
}

func (a *accumulator) add(row rse.Tuple) error {
	if a.col < 0 {
		a.count++
		return nil
	}
	v := row[a.col]
	if v == nil {
		return nil
	}
	a.count++
	switch a.fn {
	case rse.Sum, rse.Avg:
		if a.acc == nil {
			a.acc = value.Normalize(v)
			return nil
		}
		s, err := value.Arith(value.Add, a.acc, v)
		if err != nil {
			return err
		}
		a.acc = s
	case rse.Min, rse.Max:
		if a.acc == nil {
			a.acc = v
			return nil
		}
		c, err := value.Compare(v, a.acc)
		if err != nil {
			return err
		}
		if (a.fn == rse.Min && c < 0) || (a.fn == rse.Max && c > 0) {
			a.acc = v
		}
	}
	return nil
}

// result returns nil for Sum, Min, Max and Avg over no values.
func (a *accumulator) result() (any, error) {
	switch a.fn {
	case rse.Count:
		return a.count, nil
	case rse.Avg:
		if a.count == 0 {
			return nil, nil
		}
		return value.Arith(value.Div, a.acc, a.count)
	}
	return a.acc, nil
}

type group struct {
	key  rse.Tuple
	accs []*accumulator
}

// aggregate groups rows in order of first appearance. Without group columns
// it yields exactly one row.
func aggregate(a *rse.Aggregate, rows []rse.Tuple) ([]rse.Tuple, error) {
	newGroup := func(key rse.Tuple) *group {
		g := &group{key: key, accs: make([]*accumulator, len(a.Aggregates))}
		for i, ag := range a.Aggregates {
			g.accs[i] = &accumulator{fn: ag.Func, col: ag.Column}
		}
		return g
	}
	var order []*group
	byKey := make(map[string]*group)
	if len(a.Group) == 0 {
		g := newGroup(nil)
		order = append(order, g)
		byKey[""] = g
	}
	for _, row := range rows {
		key := make(rse.Tuple, len(a.Group))
		for i, c := range a.Group {
			key[i] = row[c]
		}
		k := value.TupleKey(key)
		g, ok := byKey[k]
		if !ok {
			g = newGroup(key)
			byKey[k] = g
			order = append(order, g)
		}
		for _, acc := range g.accs {
			if err := acc.add(row); err != nil {
				return nil, fmt.Errorf("aggregate: %w", err)
			}
		}
	}
	out := make([]rse.Tuple, len(order))
	for i, g := range order {
		row := make(rse.Tuple, 0, len(a.Group)+len(g.accs))
		row = append(row, g.key...)
		for _, acc := range g.accs {
			v, err := acc.result()
			if err != nil {
				return nil, fmt.Errorf("aggregate: %w", err)
			}
			row = append(row, v)
		}
		out[i] = row
	}
	return out, nil
}
