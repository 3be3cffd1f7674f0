package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_AppliesMigrationsIdempotently(t *testing.T) {
	s := newTestStore(t)

	var count int
	row := s.db.QueryRow("SELECT COUNT(*) FROM _migrations")
	require.NoError(t, row.Scan(&count))
	require.Equal(t, 1, count)

	// Re-running migrate on an already-migrated store must not error or
	// duplicate rows.
	require.NoError(t, s.migrate())
	row = s.db.QueryRow("SELECT COUNT(*) FROM _migrations")
	require.NoError(t, row.Scan(&count))
	require.Equal(t, 1, count)
}
