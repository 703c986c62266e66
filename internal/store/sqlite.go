// ABOUTME: SQLite implementation of the DocumentStore interface
// ABOUTME: Supports modernc.org/sqlite (pure Go, default) and mattn/go-sqlite3 (cgo) drivers

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Driver names accepted by NewSQLiteStore
const (
	DriverModernc = "sqlite"  // modernc.org/sqlite
	DriverMattn   = "sqlite3" // github.com/mattn/go-sqlite3, requires cgo
)

// busyTimeoutMillis is how long a connection waits on a locked database.
const busyTimeoutMillis = 5000

// Options configures a SQLiteStore. Zero values select the defaults.
type Options struct {
	Driver string
	Logger *slog.Logger
}

// SQLiteStore implements the DocumentStore interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	tables map[string]Table
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path and migrates it to
// the current schema. Parent directories are created if needed.
// Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string, opts Options) (*SQLiteStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	driver := opts.Driver
	if driver == "" {
		driver = DriverModernc
	}
	if driver != DriverModernc && driver != DriverMattn {
		return nil, fmt.Errorf("unsupported sqlite driver %q (use %q or %q)", driver, DriverModernc, DriverMattn)
	}

	inMemory := path == ":memory:"
	if !inMemory {
		// Ensure parent directory exists
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn(driver, path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every connection to :memory: is a separate database
	if inMemory {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		tables: make(map[string]Table),
		logger: logger,
	}
	for _, t := range Tables() {
		s.tables[t.Name] = t
	}

	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Debug("SQLite store initialized", "path", path, "driver", driver)
	return s, nil
}

// dsn builds a connection string that enables WAL and a busy timeout on
// every pooled connection.
func dsn(driver, path string) string {
	if path == ":memory:" {
		return path
	}
	switch driver {
	case DriverMattn:
		return fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL", path, busyTimeoutMillis)
	default:
		return fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, busyTimeoutMillis)
	}
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Debug("closing SQLite store")
	return s.db.Close()
}

// table checks that t is part of the schema.
func (s *SQLiteStore) table(t Table) (Table, error) {
	known, ok := s.tables[t.Name]
	if !ok || known.KeyField != t.KeyField {
		return Table{}, fmt.Errorf("%w: %s", ErrUnknownTable, t.Name)
	}
	return known, nil
}

// ListRows returns every row the account has in the table, oldest insert first.
func (s *SQLiteStore) ListRows(ctx context.Context, t Table, accountID string) ([]Row, error) {
	t, err := s.table(t)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %q, accountId, data, updatedAt
		FROM %q
		WHERE accountId = ?
		ORDER BY rowid
	`, t.KeyField, t.Name)

	rows, err := s.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying %s rows: %w", t.Name, err)
	}
	return scanRows(rows, t)
}

// ListAllRows returns every row of the table regardless of account.
func (s *SQLiteStore) ListAllRows(ctx context.Context, t Table) ([]Row, error) {
	t, err := s.table(t)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %q, accountId, data, updatedAt
		FROM %q
		ORDER BY rowid
	`, t.KeyField, t.Name)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying %s rows: %w", t.Name, err)
	}
	return scanRows(rows, t)
}

func scanRows(rows *sql.Rows, t Table) ([]Row, error) {
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var data string
		var updatedAt int64

		if err := rows.Scan(&r.EntityID, &r.AccountID, &data, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", t.Name, err)
		}
		r.Data = []byte(data)
		r.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s rows: %w", t.Name, err)
	}
	return out, nil
}

// ReplaceRows deletes every row the account has in the table and inserts
// rows in their place, in one transaction. Rows with an empty AccountID are
// filed under accountID; rows naming another account are rejected.
func (s *SQLiteStore) ReplaceRows(ctx context.Context, t Table, accountID string, rows []Row) error {
	t, err := s.table(t)
	if err != nil {
		return err
	}
	if accountID == "" {
		return ErrEmptyAccountID
	}
	for _, r := range rows {
		if err := validateRow(r, accountID); err != nil {
			return err
		}
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		del := fmt.Sprintf(`DELETE FROM %q WHERE accountId = ?`, t.Name)
		if _, err := tx.ExecContext(ctx, del, accountID); err != nil {
			return fmt.Errorf("clearing %s rows: %w", t.Name, err)
		}
		if err := insertRows(ctx, tx, t, accountID, rows); err != nil {
			return err
		}
		s.logger.Debug("replaced rows", "table", t.Name, "account", accountID, "count", len(rows))
		return nil
	})
}

// ReplaceAllRows empties the table and inserts rows, each under its own
// AccountID, in one transaction.
func (s *SQLiteStore) ReplaceAllRows(ctx context.Context, t Table, rows []Row) error {
	t, err := s.table(t)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if err := validateRow(r, r.AccountID); err != nil {
			return err
		}
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %q`, t.Name)); err != nil {
			return fmt.Errorf("clearing %s: %w", t.Name, err)
		}
		if err := insertRows(ctx, tx, t, "", rows); err != nil {
			return err
		}
		s.logger.Debug("replaced table", "table", t.Name, "count", len(rows))
		return nil
	})
}

// insertRows inserts rows inside tx. An empty accountID keeps each row's own.
// A duplicate entity id within one replace set keeps the last row.
func insertRows(ctx context.Context, tx *sql.Tx, t Table, accountID string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		INSERT OR REPLACE INTO %q (%q, accountId, data, updatedAt)
		VALUES (?, ?, ?, ?)
	`, t.Name, t.KeyField)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing %s insert: %w", t.Name, err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range rows {
		account := accountID
		if account == "" {
			account = r.AccountID
		}
		updatedAt := r.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = now
		}
		if _, err := stmt.ExecContext(ctx, r.EntityID, account, string(r.Data), updatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("inserting %s row %s: %w", t.Name, r.EntityID, err)
		}
	}
	return nil
}

// withTx runs fn in a transaction, committing on success.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// DeleteRow removes one entity of one account.
// Returns ErrNotFound if the row doesn't exist.
func (s *SQLiteStore) DeleteRow(ctx context.Context, t Table, entityID, accountID string) error {
	t, err := s.table(t)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM %q WHERE %q = ? AND accountId = ?`, t.Name, t.KeyField)
	result, err := s.db.ExecContext(ctx, query, entityID, accountID)
	if err != nil {
		return fmt.Errorf("deleting %s row: %w", t.Name, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted row", "table", t.Name, "entity", entityID, "account", accountID)
	return nil
}

// DeleteRows removes every row the account has in the table.
func (s *SQLiteStore) DeleteRows(ctx context.Context, t Table, accountID string) error {
	t, err := s.table(t)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM %q WHERE accountId = ?`, t.Name)
	result, err := s.db.ExecContext(ctx, query, accountID)
	if err != nil {
		return fmt.Errorf("deleting %s rows: %w", t.Name, err)
	}

	rowsAffected, _ := result.RowsAffected()
	s.logger.Debug("deleted account rows", "table", t.Name, "account", accountID, "count", rowsAffected)
	return nil
}

// DeleteAllRows empties the table for every account.
func (s *SQLiteStore) DeleteAllRows(ctx context.Context, t Table) error {
	t, err := s.table(t)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %q`, t.Name))
	if err != nil {
		return fmt.Errorf("clearing %s: %w", t.Name, err)
	}

	rowsAffected, _ := result.RowsAffected()
	s.logger.Debug("cleared table", "table", t.Name, "count", rowsAffected)
	return nil
}

// CountRows returns how many rows the account has in the table.
func (s *SQLiteStore) CountRows(ctx context.Context, t Table, accountID string) (int, error) {
	t, err := s.table(t)
	if err != nil {
		return 0, err
	}

	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %q WHERE accountId = ?`, t.Name)
	if err := s.db.QueryRowContext(ctx, query, accountID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s rows: %w", t.Name, err)
	}
	return n, nil
}

// CountAllRows returns how many rows the table holds.
func (s *SQLiteStore) CountAllRows(ctx context.Context, t Table) (int, error) {
	t, err := s.table(t)
	if err != nil {
		return 0, err
	}

	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %q`, t.Name)).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s rows: %w", t.Name, err)
	}
	return n, nil
}

// Accounts returns the distinct accounts with rows in the table, sorted.
func (s *SQLiteStore) Accounts(ctx context.Context, t Table) ([]string, error) {
	t, err := s.table(t)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT DISTINCT accountId FROM %q ORDER BY accountId`, t.Name)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying %s accounts: %w", t.Name, err)
	}
	defer rows.Close()

	var accounts []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// Ensure SQLiteStore implements DocumentStore interface
var _ DocumentStore = (*SQLiteStore)(nil)
