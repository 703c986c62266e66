// ABOUTME: Tests for the SQLite document store
// ABOUTME: Covers file creation, persistence across reopen, migrations, and both drivers

package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath, Options{})
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath, Options{})
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_UnknownDriver(t *testing.T) {
	_, err := NewSQLiteStore(":memory:", Options{Driver: "postgres"})
	assert.Error(t, err)
}

func TestSQLiteStore_MigratesToCurrentVersion(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	v, err := store.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion(), v)

	// Every table in the schema is usable
	for _, tbl := range Tables() {
		n, err := store.CountAllRows(context.Background(), tbl)
		require.NoError(t, err, "table %s", tbl.Name)
		assert.Equal(t, 0, n)
	}
}

func TestSQLiteStore_RefusesNewerSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath, Options{})
	require.NoError(t, err)
	_, err = store.db.Exec("PRAGMA user_version = 999")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = NewSQLiteStore(dbPath, Options{})
	assert.Error(t, err)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath, Options{})
	require.NoError(t, err)
	require.NoError(t, store.ReplaceRows(ctx, Sessions, "did:a", []Row{row("s1", `{"title":"kept"}`)}))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(dbPath, Options{})
	require.NoError(t, err)
	defer reopened.Close()

	rows, err := reopened.ListRows(ctx, Sessions, "did:a")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.JSONEq(t, `{"title":"kept"}`, string(rows[0].Data))
}

func TestSQLiteStore_ConcurrentReplacesAcrossTables(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, len(Tables()))
	for _, tbl := range Tables() {
		wg.Add(1)
		go func(tbl Table) {
			defer wg.Done()
			errs <- store.ReplaceRows(ctx, tbl, "did:a", []Row{row("x", `1`), row("y", `2`)})
		}(tbl)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	for _, tbl := range Tables() {
		n, err := store.CountRows(ctx, tbl, "did:a")
		require.NoError(t, err)
		assert.Equal(t, 2, n, "table %s", tbl.Name)
	}
}

func TestSQLiteStore_MattnDriver(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cgo.db"), Options{Driver: DriverMattn})
	if err != nil {
		// go-sqlite3 needs cgo; without it the driver refuses to connect
		t.Skipf("mattn/go-sqlite3 unavailable: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.ReplaceRows(ctx, Files, "did:a", []Row{row("f1", `{"name":"a.txt"}`)}))
	rows, err := store.ListRows(ctx, Files, "did:a")
	require.NoError(t, err)
	assert.Equal(t, []string{"f1"}, ids(rows))
}

func TestDSN(t *testing.T) {
	assert.Equal(t, ":memory:", dsn(DriverModernc, ":memory:"))
	assert.Equal(t, "a.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dsn(DriverModernc, "a.db"))
	assert.Equal(t, "a.db?_busy_timeout=5000&_journal_mode=WAL", dsn(DriverMattn, "a.db"))
}

// newTestStore creates a SQLiteStore in a temporary directory.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath, Options{})
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	return store
}
