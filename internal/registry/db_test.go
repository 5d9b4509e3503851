package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenDB_CreatesParentDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "deep", "nested", "registry.db")

	db, err := OpenDB(dbPath)
	require.NoError(t, err)
	defer db.Close()

	require.FileExists(t, dbPath)
}

func TestOpenDB_ForeignKeysEnabled(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	defer db.Close()

	var enabled int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&enabled))
	require.Equal(t, 1, enabled)
}

func TestOpenDB_Reopen(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "registry.db")

	store, err := OpenStore(dbPath, filepath.Join(tmpDir, "models"))
	require.NoError(t, err)
	id := registerTestModel(t, store, "persist", "1.0.0")
	require.NoError(t, store.Close())

	// Data survives a close and reopen of the same catalog.
	store, err = OpenStore(dbPath, filepath.Join(tmpDir, "models"))
	require.NoError(t, err)
	defer store.Close()

	rec, err := store.GetModel("persist", "1.0.0")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, id, rec.ID)
}
