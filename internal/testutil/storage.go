package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/quill/internal/model"
)

// MemoryStorage serves index scans from rows held in memory, keyed by
// entity name. It satisfies engine.Storage.
//
// Thread-safety: safe for concurrent use.
type MemoryStorage struct {
	mu    sync.RWMutex
	rows  map[string][][]any
	scans map[string]int
}

// NewMemoryStorage creates a storage over rows laid out in primary index
// order.
func NewMemoryStorage(rows map[string][][]any) *MemoryStorage {
	return &MemoryStorage{rows: rows, scans: make(map[string]int)}
}

// SampleStorage returns a storage holding SampleRows.
func SampleStorage() *MemoryStorage {
	return NewMemoryStorage(SampleRows())
}

// Scan returns the rows of the index's entity.
func (s *MemoryStorage) Scan(ctx context.Context, index *model.IndexInfo) ([][]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.rows[index.Type.Name]
	if !ok {
		return nil, fmt.Errorf("no rows for %s", index.Name)
	}
	s.scans[index.Name]++
	return rows, nil
}

// Scans returns how often the index was scanned.
func (s *MemoryStorage) Scans(index string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scans[index]
}
