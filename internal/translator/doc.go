// Package translator lowers query expressions to relational provider trees.
//
// A query is a chain of operator calls (Where, Select, GroupBy, ...) rooted
// at an entity source. The translator walks the chain from the source
// outwards and keeps, for every step, a Projection: the provider built so
// far plus a row template (ItemProjector) describing how each result
// element is read from a provider row.
//
// ROW TEMPLATES:
//
//	Column         one scalar column of the current row
//	EntityItem     a full entity row (key, TypeId, fields)
//	KeyItem        the key columns of an entity
//	StructureItem  the flattened columns of a structure
//	New            an anonymous value of named templates
//	SubQuery       a sequence read per row at materialization time
//	GroupingItem   a group key plus its elements subquery
//	Outer          a template read from a correlated outer row
//
// BINDINGS AND SCOPES:
//
// Lambda parameters are bound to templates over a scope. The Context holds
// the provider of every open scope; member paths that cross an entity
// reference append a Join to the scope's provider (see joinReference) and
// return the Context holding the extended row. A caller that handed a
// derived Context to a lambda body takes the rows back with restore, so
// the joins are memoized per navigation in the scope's ResultMapping and
// two predicates over p.Company.Name share one Join.
//
// Columns are only ever appended: joins, calculated columns and applies
// extend a row to the right. Templates already handed out stay valid until
// an operator narrows the row (Distinct, Skip, Take, set operations) and
// remaps them explicitly.
//
// CORRELATION:
//
// Nested terminals (p.Pets.Count()) enter a new depth with a fresh
// Correlation. References to parameters of an enclosing depth are lifted
// to OuterColumn/Outer templates. When the nested plan is complete it is
// attached with an Apply on the enclosing scope and its result template is
// unlifted back into the enclosing row. Aggregates directly over a group
// parameter are instead fused into the group's Aggregate.
//
// Translate is synchronous and allocates a translator per call. The model
// is only read.
package translator
