package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/quill/internal/model"
)

// Insert writes rows laid out by t's primary index. Rows whose key already
// exists are silently ignored, so loading the same fixture twice is
// idempotent. Returns the number of rows actually inserted.
func (s *Store) Insert(ctx context.Context, t *model.TypeInfo, rows [][]any) (int, error) {
	ix := t.PrimaryIndex
	if ix == nil {
		return 0, fmt.Errorf("insert %s: not an entity", t.Name)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("insert %s: begin tx: %w", t.Name, err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, insertSQL(ix))
	if err != nil {
		return 0, fmt.Errorf("insert %s: prepare: %w", t.Name, err)
	}
	defer stmt.Close()

	inserted := 0
	args := make([]any, len(ix.Columns))
	for i, row := range rows {
		if len(row) != len(ix.Columns) {
			return 0, fmt.Errorf("insert %s: row %d has %d values, want %d", t.Name, i, len(row), len(ix.Columns))
		}
		for j, c := range ix.Columns {
			if args[j], err = encodeColumn(c, row[j]); err != nil {
				return 0, fmt.Errorf("insert %s: row %d: %w", t.Name, i, err)
			}
		}
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return 0, fmt.Errorf("insert %s: row %d: %w", t.Name, i, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("insert %s: rows affected: %w", t.Name, err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("insert %s: commit: %w", t.Name, err)
	}
	return inserted, nil
}

// Load inserts fixture rows keyed by entity name.
func (s *Store) Load(ctx context.Context, m *model.Model, data map[string][][]any) error {
	for _, t := range m.Entities() {
		rows, ok := data[t.Name]
		if !ok {
			continue
		}
		n, err := s.Insert(ctx, t, rows)
		if err != nil {
			return err
		}
		s.logger.Debug("rows loaded", "entity", t.Name, "rows", n)
	}
	for name := range data {
		if t, ok := m.Type(name); !ok || !t.IsEntity() {
			return fmt.Errorf("load: unknown entity %q", name)
		}
	}
	return nil
}

func insertSQL(ix *model.IndexInfo) string {
	cols := make([]string, len(ix.Columns))
	marks := make([]string, len(ix.Columns))
	for i, c := range ix.Columns {
		cols[i] = quoteIdent(c.Name)
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		quoteIdent(ix.Type.Name), strings.Join(cols, ", "), strings.Join(marks, ", "))
}
