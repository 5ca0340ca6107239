package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_Pragmas(t *testing.T) {
	s := setupTestStore(t)

	for name, want := range map[string]string{
		"journal_mode": "wal",
		"foreign_keys": "1",
		"busy_timeout": "5000",
		"user_version": "2",
	} {
		got, err := s.pragma(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}

func TestOpen_MigrationsCreateIndexes(t *testing.T) {
	s := setupTestStore(t)

	var n int
	err := s.DB().QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'index' AND name IN ('idx_security_events_player', 'idx_snapshots_player')
	`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")

	s1, err := Open(path)
	require.NoError(t, err)
	j := newJournaled(t, s1, "p1")
	j.commit(t, "equip", equipOp(0, "AK74"))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	counts, err := s2.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["transactions"])
	assert.Equal(t, int64(1), counts["operations"])
	assert.Equal(t, int64(1), counts["snapshots"])
	assert.Equal(t, int64(0), counts["security_events"])
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	counts, err := s.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts["transactions"])
}

func TestClose_NilDB(t *testing.T) {
	var s Store
	assert.NoError(t, s.Close())
}
