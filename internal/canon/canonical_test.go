package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"sorted keys", map[string]any{"b": 1, "a": "x"}, `{"a":"x","b":1}`},
		{"nested", map[string]any{"k": []any{true, nil, int64(3)}}, `{"k":[true,null,3]}`},
		{"no html escaping", "<a&b>", `"<a&b>"`},
		{"control chars", "a\nb\u0001", `"a\nb\u0001"`},
		{"line separator stays literal", "x\u2028y", "\"x\u2028y\""},
		{"nfc", "e\u0301", "\"\u00e9\""},
		{"utf16 order", map[string]any{"\U0001F600": 1, "\uFFFD": 2}, "{\"\U0001F600\":1,\"\uFFFD\":2}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshal_RejectsFloats(t *testing.T) {
	_, err := Marshal(map[string]any{"f": 1.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")
}

func TestHash_DomainSeparated(t *testing.T) {
	v := map[string]any{"op": "Where"}
	a := MustHash(DomainPlan, v)
	b := MustHash(DomainModel, v)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, MustHash(DomainPlan, map[string]any{"op": "Where"}))
}
