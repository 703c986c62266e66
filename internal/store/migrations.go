// ABOUTME: Versioned schema migrations for the SQLite document store
// ABOUTME: PRAGMA user_version records the applied version; each migration runs in its own transaction

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migration moves the schema from version-1 to version.
type migration struct {
	version int
	name    string
	apply   func(ctx context.Context, tx *sql.Tx) error
}

// migrations must stay in ascending version order and are never edited once
// released; add a new one instead.
var migrations = []migration{
	{
		version: 1,
		name:    "create entity tables",
		apply: func(ctx context.Context, tx *sql.Tx) error {
			return createEntityTables(ctx, tx, Sessions, Drafts, Installed, Files, Memories, Accounts)
		},
	},
	{
		version: 2,
		name:    "add settings table",
		apply: func(ctx context.Context, tx *sql.Tx) error {
			return createEntityTables(ctx, tx, Settings)
		},
	},
	{
		version: 3,
		name:    "index rows by account",
		apply: func(ctx context.Context, tx *sql.Tx) error {
			for _, t := range []Table{Sessions, Drafts, Installed, Files, Memories, Accounts, Settings} {
				query := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q(accountId)`, "idx_"+t.Name+"_account", t.Name)
				if _, err := tx.ExecContext(ctx, query); err != nil {
					return fmt.Errorf("indexing %s: %w", t.Name, err)
				}
			}
			return nil
		},
	},
}

// SchemaVersion is the version the current code migrates to.
func SchemaVersion() int {
	return migrations[len(migrations)-1].version
}

// createEntityTables creates tables with the entity row layout:
// (<keyField>, accountId, data, updatedAt) keyed by (<keyField>, accountId).
func createEntityTables(ctx context.Context, tx *sql.Tx, tables ...Table) error {
	for _, t := range tables {
		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %q (
				%q        TEXT NOT NULL,
				accountId TEXT NOT NULL,
				data      TEXT NOT NULL,
				updatedAt INTEGER NOT NULL,
				PRIMARY KEY (%q, accountId)
			)
		`, t.Name, t.KeyField, t.KeyField)
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("creating %s: %w", t.Name, err)
		}
	}
	return nil
}

// migrate applies every migration newer than the database's user_version.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	current, err := s.userVersion(ctx)
	if err != nil {
		return err
	}
	if current > SchemaVersion() {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, SchemaVersion())
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		err := s.withTx(ctx, func(tx *sql.Tx) error {
			if err := m.apply(ctx, tx); err != nil {
				return err
			}
			// PRAGMA does not accept bound parameters
			_, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version))
			return err
		})
		if err != nil {
			return fmt.Errorf("applying migration %d (%s): %w", m.version, m.name, err)
		}
		s.logger.Info("applied migration", "version", m.version, "name", m.name)
	}
	return nil
}

// userVersion reads the schema version recorded in the database.
func (s *SQLiteStore) userVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

// Version returns the schema version recorded in the database.
func (s *SQLiteStore) Version(ctx context.Context) (int, error) {
	return s.userVersion(ctx)
}
