// Package rse defines the dialect-neutral relational plan produced by the
// query translator ("provider tree").
//
// VOCABULARY:
//
//	Index      scan of an entity's primary index
//	Alias      renames the columns of its source (Alias.Column)
//	Filter     keeps rows satisfying a row predicate
//	Select     keeps and reorders a subset of columns
//	Join       inner equi-join; LeftJoin keeps unmatched left rows
//	Sort       orders rows; Reindex re-sorts an already ordered source
//	Aggregate  groups by columns and computes aggregate columns
//	Calculate  appends computed columns
//	Distinct   removes duplicate rows
//	Skip/Take  row-count limits with runtime-evaluated counts
//	Apply      correlated subquery evaluated per left row
//	Existence  one boolean row: whether the source has any row
//	Concat/Union/Intersect/Except  set operations over equal-width inputs
//
// COLUMN CONTRACTS:
//
// Every provider computes its Header when constructed:
//
//	Index                         index columns
//	Filter/Sort/Reindex/Distinct  source columns
//	Skip/Take/Alias               source columns
//	Select                        chosen source columns in the given order
//	Join/LeftJoin/Apply           left columns ++ right columns
//	Aggregate                     group columns ++ aggregate columns
//	Calculate                     source columns ++ calculated columns
//	Existence                     one bool column
//	set operations                left columns (widths must match)
//
// Row expressions inside providers (filter predicates, calculated columns)
// reference columns with expr.Column and correlated outer rows with
// expr.OuterColumn.
//
// SEALED INTERFACES:
//
// Provider is sealed with a marker method. Executors and optimizers switch
// exhaustively over the concrete types.
package rse
