package harness

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/quill/internal/value"
)

// Render converts a materialized result into plain data that YAML can
// express: maps, lists and scalars. Entities and structures become maps of
// their fields, references their key text, groupings {key, items}, and
// decimals and times their text form.
func Render(v any) any {
	switch t := value.Normalize(v).(type) {
	case nil:
		return nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Render(item)
		}
		return out
	case *value.Entity:
		return renderFields(t.Fields)
	case *value.Structure:
		return renderFields(t.Fields)
	case *value.Record:
		out := make(map[string]any, len(t.Names))
		for i, n := range t.Names {
			out[n] = Render(t.Values[i])
		}
		return out
	case *value.Grouping:
		return map[string]any{"key": Render(t.Key), "items": Render(t.Items)}
	case value.Key:
		return t.String()
	case decimal.Decimal:
		return t.String()
	case time.Time:
		return value.Format(t)
	default:
		return t
	}
}

func renderFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = Render(v)
	}
	return out
}
