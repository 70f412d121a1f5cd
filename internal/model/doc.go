// Package model describes the persistent domain model that queries are
// translated against.
//
// The model is produced once by a Builder (or the CUE loader in
// internal/schema) and is read-only afterwards. Every handle is integer
// indexed so the translator can reference types, fields and indexes without
// holding maps.
//
// ROW LAYOUT:
//
// Each entity owns exactly one primary index. A primary-index row is laid out
// as follows:
//
//	[key columns...] [TypeId] [non-key fields in declaration order...]
//
// Structures flatten inline with dotted column names ("Address.City").
// References contribute the key columns of their target ("Owner.Id").
// Entity sets own no columns: they are resolved through the paired reference
// field on the element type.
//
// Every FieldInfo carries a Segment (offset, length) into the declaring
// type's row. For structures the segment is relative to the structure's own
// layout; the owning entity shifts it when flattening.
package model
