// Package compiler turns query expressions into cached, parameterized plans.
//
// A compile runs in four steps:
//
//  1. Parameter extraction: captured values become QueryParam slots and
//     closed subtrees fold into literals (evaluator.ExtractParameters).
//  2. Keying: the rewritten expression's shape is hashed under
//     canon.DomainPlan together with the model digest.
//  3. Lookup: the plan cache answers repeated shapes; concurrent misses on
//     one key share a single translation.
//  4. On a miss: translate, remove redundant columns, compile the
//     materializer.
//
// Plans never hold parameter values. Values travel next to the plan in a
// ParameterizedQuery, so one cached plan serves every execution that differs
// only in captured values.
package compiler

import (
	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/materializer"
	"github.com/roach88/quill/internal/rse"
	"github.com/roach88/quill/internal/translator"
)

// Param describes one runtime parameter slot of a plan.
type Param struct {
	Slot int
	Name string
	Type *expr.Type
}

// TranslatedQuery is a reusable plan: the provider tree, the row template
// and its compiled materializer.
type TranslatedQuery struct {
	// Key is the plan cache key.
	Key string

	Kind      translator.ResultKind
	Aggregate rse.AggregateFunc
	Type      *expr.Type

	Plan rse.Provider
	Item expr.Node

	Params       []Param
	Materializer materializer.Materializer
}

// Projector returns the plan's row template and data source.
func (q *TranslatedQuery) Projector() translator.ItemProjector {
	return translator.ItemProjector{Item: q.Item, DataSource: q.Plan}
}

// ParameterizedQuery pairs a plan with the values of one execution.
type ParameterizedQuery struct {
	Query  *TranslatedQuery
	Values []any

	// TranslationID identifies this compile in logs.
	TranslationID string

	// Cached reports whether the plan came from the cache.
	Cached bool
}
