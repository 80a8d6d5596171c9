package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T, ttl time.Duration) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	st, err := NewSQLite(context.Background(), dbPath, ttl)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

func TestSQLite_SetAndGet(t *testing.T) {
	st := newTestSQLiteStore(t, 0)
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, "cep:01310100", Entry{Found: true, Value: []byte(`{"uf":"SP"}`)}))

	e, ok, err := st.Get(ctx, "cep:01310100")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, e.Found)
	assert.JSONEq(t, `{"uf":"SP"}`, string(e.Value))
}

func TestSQLite_Absence(t *testing.T) {
	st := newTestSQLiteStore(t, 0)
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, "cep:99999999", Absent))

	e, ok, err := st.Get(ctx, "cep:99999999")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, e.Found)
}

func TestSQLite_Missing(t *testing.T) {
	st := newTestSQLiteStore(t, 0)

	_, ok, err := st.Get(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLite_Overwrite(t *testing.T) {
	st := newTestSQLiteStore(t, 0)
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, "k", Absent))
	require.NoError(t, st.Set(ctx, "k", Entry{Found: true, Value: []byte("v")}))

	e, ok, err := st.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, e.Found)
	assert.Equal(t, "v", string(e.Value))
}

func TestSQLite_ExpiredEntriesAreMisses(t *testing.T) {
	st := newTestSQLiteStore(t, time.Hour)
	ctx := context.Background()

	st.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	require.NoError(t, st.Set(ctx, "old", Absent))
	st.now = time.Now

	_, ok, err := st.Get(ctx, "old")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	st, err := NewSQLite(ctx, dbPath, 0)
	require.NoError(t, err)
	require.NoError(t, st.Set(ctx, "k", Entry{Found: true, Value: []byte("v")}))
	require.NoError(t, st.Close())

	reopened, err := NewSQLite(ctx, dbPath, 0)
	require.NoError(t, err)
	defer reopened.Close() //nolint:errcheck

	e, ok, err := reopened.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(e.Value))
}

func TestSQLite_CountAndPurge(t *testing.T) {
	st := newTestSQLiteStore(t, 0)
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, "a", Absent))
	require.NoError(t, st.Set(ctx, "b", Absent))
	require.NoError(t, st.Set(ctx, "c", Entry{Found: true, Value: []byte("x")}))

	found, absent, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), found)
	assert.Equal(t, int64(2), absent)

	n, err := st.Purge(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = st.Purge(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
