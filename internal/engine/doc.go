// Package engine is the reference executor for translated query plans.
//
// The engine evaluates a provider tree bottom-up over rows read from a
// Storage, then hands the result rows to the plan's materializer. It exists
// so that plans can be checked end to end; it makes no attempt to be fast.
//
// EXECUTION MODEL:
//
// Every provider is evaluated to a fully buffered []rse.Tuple. Correlated
// providers (Apply right sides, materialization-time subqueries) are
// evaluated once per outer row with the correlation bound in the row
// environment. Parameter values are bound once per execution.
//
// ROW BUDGET:
//
// Each execution carries a RowQuota. Every row a provider produces is
// charged against it, so a runaway correlated plan fails with
// QUOTA_EXCEEDED instead of exhausting memory.
//
// ORDERING:
//
// Providers without an explicit Sort preserve the storage order of their
// inputs. Join emits left rows in order, each followed by its matches in
// right order. Aggregate emits groups in order of first appearance.
//
// NULLS:
//
// Join and group keys compare with value semantics. A join key containing
// nil never matches. Aggregates skip nil inputs; Count over a column counts
// non-nil values and Count(*) counts rows.
package engine
