//go:build integration
// +build integration

package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cvemind/cvemind/pkg/persistence/sqlite"
	"github.com/cvemind/cvemind/test/integration/persistence"
)

// TestStore is an integration test for the SQLite persistence store backed by a database file.
func TestStore(t *testing.T) {
	if testing.Short() {
		t.Skip("An integration test")
	}

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "cvemind.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	store, err := sqlite.NewStore(db)
	require.NoError(t, err)

	persistence.TestStoreInterface(t, store)
}
