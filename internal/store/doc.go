// Package store provides a SQLite-backed engine.Storage.
//
// Every entity of a domain model gets one table whose columns follow the
// entity's primary index layout: key columns, then TypeId, then the non-key
// fields in declaration order. Column names are the model's column names
// ("Address.City", "Manager.Id") quoted as identifiers.
//
// # Value encoding
//
//   - Bool: INTEGER 0/1
//   - Int: INTEGER
//   - Float: REAL
//   - Decimal: TEXT in its exact decimal form
//   - String: TEXT
//   - Time: TEXT in RFC 3339 with nanoseconds, UTC
//
// Scans return rows ordered by the key columns so that results are
// deterministic across runs.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// A database is bound to one model. Migrate records the model digest in
// quill_meta and refuses a database created for a different model.
package store
