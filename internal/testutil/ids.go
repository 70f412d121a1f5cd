package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDGenerator returns translation ids "<prefix>-1", "<prefix>-2", ...
//
// Log output of a test run is reproducible when the compiler uses it instead
// of random UUIDs.
//
// Thread-safety: safe for concurrent use.
type SequentialIDGenerator struct {
	mu     sync.Mutex
	prefix string
	next   int
}

// NewSequentialIDGenerator creates a generator. An empty prefix becomes
// "translation".
func NewSequentialIDGenerator(prefix string) *SequentialIDGenerator {
	if prefix == "" {
		prefix = "translation"
	}
	return &SequentialIDGenerator{prefix: prefix}
}

// Generate returns the next id.
//
// Implements compiler.IDGenerator.
func (g *SequentialIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("%s-%d", g.prefix, g.next)
}
