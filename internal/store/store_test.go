package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// exerciseStore runs the behaviour every driver must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "exerciseProgress")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "exerciseProgress", []byte(`{"current_streak":1}`)))
	got, err := s.Get(ctx, "exerciseProgress")
	require.NoError(t, err)
	require.Equal(t, `{"current_streak":1}`, string(got))

	require.NoError(t, s.Set(ctx, "exerciseProgress", []byte(`{"current_streak":2}`)))
	got, err = s.Get(ctx, "exerciseProgress")
	require.NoError(t, err)
	require.Equal(t, `{"current_streak":2}`, string(got))

	_, err = s.Get(ctx, "mentalWellnessProgress")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	value := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", value))
	value[0] = 'z'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	got[1] = 'z'

	again, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "abc", string(again))
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "progress.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	exerciseStore(t, s)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "progress.db")

	first, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "mentalWellnessProgress", []byte(`{"meditation":0.4}`)))
	require.NoError(t, first.Close())

	second, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	got, err := second.Get(ctx, "mentalWellnessProgress")
	require.NoError(t, err)
	require.JSONEq(t, `{"meditation":0.4}`, string(got))
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()

	backend, err := Open(ctx, Config{})
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, backend)

	backend, err = Open(ctx, Config{Driver: "SQLite", SQLitePath: filepath.Join(t.TempDir(), "p.db")})
	require.NoError(t, err)
	require.IsType(t, &SQLiteStore{}, backend)
	require.NoError(t, backend.Close())

	_, err = Open(ctx, Config{Driver: "etcd"})
	require.Error(t, err)

	_, err = Open(ctx, Config{Driver: DriverPostgres})
	require.Error(t, err)
}
