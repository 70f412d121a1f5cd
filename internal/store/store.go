package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/quill/internal/canon"
	"github.com/roach88/quill/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Empty database
// 1 - quill_meta table, one table per entity
const currentSchemaVersion = 1

// ErrModelMismatch is returned by Migrate when the database was created for
// a different model.
var ErrModelMismatch = errors.New("database belongs to a different model")

// Store reads and writes entity rows in SQLite. It implements
// engine.Storage.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for migrations and loads.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and the bookkeeping schema automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// Use ":memory:" for a private in-memory database.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time. A single connection also
	// keeps ":memory:" databases from splitting across connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// Migrate creates the tables of m's entities. It is idempotent for the same
// model and fails with ErrModelMismatch for a database created from another
// model.
func (s *Store) Migrate(ctx context.Context, m *model.Model) error {
	digest, err := canon.Hash(canon.DomainModel, m.Describe())
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT value FROM quill_meta WHERE key = 'model'`).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("migrate: read model digest: %w", err)
	case existing != digest:
		return fmt.Errorf("migrate: %w", ErrModelMismatch)
	default:
		return nil
	}

	for _, t := range m.Entities() {
		if _, err := tx.ExecContext(ctx, createTableSQL(t.PrimaryIndex)); err != nil {
			return fmt.Errorf("migrate: create %s: %w", t.Name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO quill_meta (key, value) VALUES ('model', ?)`, digest); err != nil {
		return fmt.Errorf("migrate: record model digest: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("migrate: set user_version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate: commit: %w", err)
	}

	s.logger.Info("schema migrated", "entities", len(m.Entities()), "model", digest[:12])
	return nil
}

// createTableSQL renders the DDL of one primary index.
func createTableSQL(ix *model.IndexInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", quoteIdent(ix.Type.Name))
	for _, c := range ix.Columns {
		fmt.Fprintf(&b, "    %s %s", quoteIdent(c.Name), sqlType(c.Type))
		if !c.Nullable {
			b.WriteString(" NOT NULL")
		}
		b.WriteString(",\n")
	}
	keys := make([]string, ix.KeyColumnCount)
	for i := range keys {
		keys[i] = quoteIdent(ix.Columns[i].Name)
	}
	fmt.Fprintf(&b, "    PRIMARY KEY (%s)\n) STRICT", strings.Join(keys, ", "))
	return b.String()
}

func sqlType(vt model.ValueType) string {
	switch vt {
	case model.Bool, model.Int:
		return "INTEGER"
	case model.Float:
		return "REAL"
	default:
		return "TEXT"
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
