package store

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/quill/internal/model"
	"github.com/roach88/quill/internal/value"
)

// encodeColumn converts v to the SQLite representation of column c.
// Decimals are stored as exact text so that no precision is lost.
func encodeColumn(c model.Column, v any) (any, error) {
	v, err := value.Convert(v, c.Type)
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", c.Name, err)
	}
	if v == nil {
		if !c.Nullable {
			return nil, fmt.Errorf("column %s: null in non-nullable column", c.Name)
		}
		return nil, nil
	}
	switch t := v.(type) {
	case decimal.Decimal:
		return t.String(), nil
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), nil
	case bool:
		if t {
			return int64(1), nil
		}
		return int64(0), nil
	}
	return v, nil
}

// decodeColumn converts a value read from SQLite back to the runtime
// representation of column c.
func decodeColumn(c model.Column, raw any) (any, error) {
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}
	v, err := value.Convert(raw, c.Type)
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", c.Name, err)
	}
	return v, nil
}
