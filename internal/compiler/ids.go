package compiler

import (
	"github.com/google/uuid"
)

// IDGenerator produces translation ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 translation ids. Log lines
// of one process sort by compile start when keyed on the id.
//
// Stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a hyphenated UUIDv7.
//
// Panics if the random source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
