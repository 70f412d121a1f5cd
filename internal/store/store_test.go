package store

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quill/internal/model"
	"github.com/roach88/quill/internal/testutil"
)

// createTestStore opens a migrated store in a temp directory.
func createTestStore(t *testing.T, m *model.Model) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background(), m))
	return s
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Pragmas(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer s.Close()

	var mode string
	require.NoError(t, s.DB().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, s.DB().QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)
}

func TestMigrate_Idempotent(t *testing.T) {
	m := testutil.SampleModel()
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err)
		require.NoError(t, s.Migrate(ctx, m), "iteration %d", i)
		s.Close()
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"Person", "Company", "Country", "Pet"} {
		var name string
		err := s.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %q not found", table)
	}
	var version int
	require.NoError(t, s.DB().QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestMigrate_RejectsOtherModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx, testutil.SampleModel()))
	s.Close()

	other := model.NewBuilder().
		AddEntity("Invoice", model.KeyField("Id", model.Int)).
		MustBuild()
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	assert.ErrorIs(t, s.Migrate(ctx, other), ErrModelMismatch)
}

func TestScan_RoundTripsSampleRows(t *testing.T) {
	m := testutil.SampleModel()
	s := createTestStore(t, m)
	ctx := context.Background()
	require.NoError(t, s.Load(ctx, m, testutil.SampleRows()))

	for name, want := range testutil.SampleRows() {
		t.Run(name, func(t *testing.T) {
			got, err := s.Scan(ctx, m.MustType(name).PrimaryIndex)
			require.NoError(t, err)
			require.Len(t, got, len(want))
			for i := range want {
				for j := range want[i] {
					if d, ok := want[i][j].(decimal.Decimal); ok {
						assert.True(t, d.Equal(got[i][j].(decimal.Decimal)), "row %d col %d", i, j)
						continue
					}
					assert.Equal(t, want[i][j], got[i][j], "row %d col %d", i, j)
				}
			}
		})
	}
}

func TestScan_OrdersByKey(t *testing.T) {
	m := testutil.SampleModel()
	s := createTestStore(t, m)
	ctx := context.Background()
	country := m.MustType("Country")

	_, err := s.Insert(ctx, country, [][]any{
		{3, testutil.CountryTypeID, "Peru"},
		{1, testutil.CountryTypeID, "Norway"},
	})
	require.NoError(t, err)

	got, err := s.Scan(ctx, country.PrimaryIndex)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Norway", got[0][2])
	assert.Equal(t, "Peru", got[1][2])
}

func TestScan_EmptyTable(t *testing.T) {
	m := testutil.SampleModel()
	s := createTestStore(t, m)

	got, err := s.Scan(context.Background(), m.MustType("Pet").PrimaryIndex)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestInsert_IgnoresDuplicateKeys(t *testing.T) {
	m := testutil.SampleModel()
	s := createTestStore(t, m)
	ctx := context.Background()
	country := m.MustType("Country")
	rows := [][]any{{1, testutil.CountryTypeID, "Norway"}}

	n, err := s.Insert(ctx, country, rows)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.Insert(ctx, country, rows)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	count, err := s.Count(ctx, country)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestInsert_Validation(t *testing.T) {
	m := testutil.SampleModel()
	s := createTestStore(t, m)
	ctx := context.Background()
	country := m.MustType("Country")

	tests := []struct {
		name string
		row  []any
		msg  string
	}{
		{"short row", []any{1, testutil.CountryTypeID}, "has 2 values, want 3"},
		{"null name", []any{1, testutil.CountryTypeID, nil}, "null in non-nullable column"},
		{"bad key", []any{"one", testutil.CountryTypeID, "Norway"}, "column Id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Insert(ctx, country, [][]any{tt.row})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}

	_, err := s.Insert(ctx, m.MustType("Address"), nil)
	assert.ErrorContains(t, err, "not an entity")
}

func TestLoad_UnknownEntity(t *testing.T) {
	m := testutil.SampleModel()
	s := createTestStore(t, m)
	err := s.Load(context.Background(), m, map[string][][]any{"Invoice": {{1}}})
	assert.ErrorContains(t, err, `unknown entity "Invoice"`)
}

func TestEncodeColumn_Types(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 5, time.FixedZone("x", 3600))
	tests := []struct {
		col  model.Column
		in   any
		want any
	}{
		{model.Column{Name: "b", Type: model.Bool}, true, int64(1)},
		{model.Column{Name: "i", Type: model.Int}, 7, int64(7)},
		{model.Column{Name: "f", Type: model.Float}, 1.5, 1.5},
		{model.Column{Name: "d", Type: model.Decimal}, "10.10", "10.1"},
		{model.Column{Name: "t", Type: model.Time}, at, "2024-03-01T11:00:00.000000005Z"},
		{model.Column{Name: "n", Type: model.String, Nullable: true}, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.col.Name, func(t *testing.T) {
			got, err := encodeColumn(tt.col, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			back, err := decodeColumn(tt.col, got)
			require.NoError(t, err)
			if tt.in == nil {
				assert.Nil(t, back)
			}
		})
	}
}
