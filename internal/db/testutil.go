package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// openTestStore opens a store in a temp dir with a fixed clock. It is
// closed when the test completes.
func openTestStore(t *testing.T, now time.Time) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "state", "test.db"))
	require.NoError(t, err)
	store.now = func() time.Time { return now }
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
