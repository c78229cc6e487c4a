// Package testutil provides shared test helpers for setting up memory
// directories and record stores.
package testutil

import (
	"os"
	"testing"

	"github.com/magpielabs/magpie/internal/memfs"
	"github.com/magpielabs/magpie/internal/store"
)

// TestDB creates a temporary SQLite record store that is automatically
// cleaned up.
func TestDB(t *testing.T) *store.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "magpie-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := store.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestRepo creates a temporary memory directory with a memfs.Repo.
func TestRepo(t *testing.T) *memfs.Repo {
	t.Helper()
	repo, err := memfs.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return repo
}
