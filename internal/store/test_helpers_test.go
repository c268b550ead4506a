package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/scenebridge/internal/testutil"
)

// createTestStore opens a fresh ledger with a deterministic seq source.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	s.SetSequencer(testutil.NewDeterministicClock())
	t.Cleanup(func() { s.Close() })
	return s
}
