package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowQuota_WithinLimit(t *testing.T) {
	q := NewRowQuota(10)
	require.NoError(t, q.Charge(4))
	require.NoError(t, q.Charge(6))
	assert.Equal(t, 10, q.Current())
	assert.Equal(t, 10, q.MaxRows())
}

func TestRowQuota_ExceedsLimit(t *testing.T) {
	q := NewRowQuota(5)
	require.NoError(t, q.Charge(5))

	err := q.Charge(1)
	require.Error(t, err)
	assert.True(t, IsRowsExceededError(err))
	assert.True(t, IsQuotaError(err))

	var re *RowsExceededError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 6, re.Rows)
	assert.Equal(t, 5, re.Limit)
	assert.Contains(t, err.Error(), "6 rows > 5 limit")
}

func TestRowQuota_Disabled(t *testing.T) {
	for _, limit := range []int{0, -1} {
		q := NewRowQuota(limit)
		require.NoError(t, q.Charge(1_000_000_000), "limit %d", limit)
	}
}

func TestNewQuotaError(t *testing.T) {
	err := NewQuotaError("Join", 12, 10)
	assert.Equal(t, ErrCodeQuotaExceeded, err.Code)
	assert.True(t, IsQuotaError(err))
	assert.True(t, IsRowsExceededError(err))
	assert.False(t, IsCardinalityError(err))
	assert.Contains(t, err.Error(), "provider=Join")

	wrapped := fmt.Errorf("execute: %w", err)
	assert.True(t, IsQuotaError(wrapped))
}

func TestRuntimeError_Codes(t *testing.T) {
	cause := fmt.Errorf("disk gone")
	err := &RuntimeError{Code: ErrCodeStorage, Message: "scan PK_Person", Provider: "Index", Err: cause}
	assert.True(t, IsStorageError(err))
	assert.False(t, IsQuotaError(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "STORAGE: scan PK_Person (provider=Index): disk gone", err.Error())

	assert.True(t, IsCardinalityError(&RuntimeError{Code: ErrCodeCardinality}))
}
