package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/quill/internal/model"
	"github.com/roach88/quill/internal/rse"
)

// Scan returns all rows of the index's entity ordered by the key columns.
// It implements engine.Storage.
//
// Returns an empty slice (not nil) if the table holds no rows.
func (s *Store) Scan(ctx context.Context, ix *model.IndexInfo) ([]rse.Tuple, error) {
	rows, err := s.db.QueryContext(ctx, scanSQL(ix))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", ix.Name, err)
	}
	defer rows.Close()

	out := []rse.Tuple{}
	for rows.Next() {
		raw := make([]any, len(ix.Columns))
		ptrs := make([]any, len(raw))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", ix.Name, err)
		}
		tuple := make(rse.Tuple, len(raw))
		for i, c := range ix.Columns {
			if tuple[i], err = decodeColumn(c, raw[i]); err != nil {
				return nil, fmt.Errorf("scan %s: %w", ix.Name, err)
			}
		}
		out = append(out, tuple)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", ix.Name, err)
	}
	return out, nil
}

// Count returns the number of rows stored for an entity.
func (s *Store) Count(ctx context.Context, t *model.TypeInfo) (int, error) {
	var n int
	q := "SELECT COUNT(*) FROM " + quoteIdent(t.Name)
	if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", t.Name, err)
	}
	return n, nil
}

func scanSQL(ix *model.IndexInfo) string {
	cols := make([]string, len(ix.Columns))
	for i, c := range ix.Columns {
		cols[i] = quoteIdent(c.Name)
	}
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		strings.Join(cols, ", "), quoteIdent(ix.Type.Name), strings.Join(cols[:ix.KeyColumnCount], ", "))
}
