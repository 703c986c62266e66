// ABOUTME: Mock DocumentStore implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject database failures

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory DocumentStore implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	rows     map[string][]Row // keyed by table name, insertion order
	failNext error
	writes   int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		rows: make(map[string][]Row),
	}
}

// FailNext makes the next operation return err.
func (m *MockStore) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

// Writes returns how many write operations have succeeded.
func (m *MockStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// takeFailure returns and clears the injected failure. Must be called with mu held.
func (m *MockStore) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func checkTable(t Table) error {
	known, err := LookupTable(t.Name)
	if err != nil {
		return err
	}
	if known.KeyField != t.KeyField {
		return ErrUnknownTable
	}
	return nil
}

// copyRow returns r with its own copy of Data.
func copyRow(r Row) Row {
	r.Data = append([]byte(nil), r.Data...)
	return r
}

// ListRows returns an account's rows in insertion order.
func (m *MockStore) ListRows(ctx context.Context, t Table, accountID string) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	if err := checkTable(t); err != nil {
		return nil, err
	}

	var out []Row
	for _, r := range m.rows[t.Name] {
		if r.AccountID == accountID {
			out = append(out, copyRow(r))
		}
	}
	return out, nil
}

// ListAllRows returns every row of the table.
func (m *MockStore) ListAllRows(ctx context.Context, t Table) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	if err := checkTable(t); err != nil {
		return nil, err
	}

	out := make([]Row, 0, len(m.rows[t.Name]))
	for _, r := range m.rows[t.Name] {
		out = append(out, copyRow(r))
	}
	return out, nil
}

// ReplaceRows swaps the account's rows for rows.
func (m *MockStore) ReplaceRows(ctx context.Context, t Table, accountID string, rows []Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}
	if err := checkTable(t); err != nil {
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

	kept := m.without(t, func(r Row) bool { return r.AccountID == accountID })
	for _, r := range rows {
		r.AccountID = accountID
		kept = upsert(kept, stamp(r))
	}
	m.rows[t.Name] = kept
	m.writes++
	return nil
}

// ReplaceAllRows swaps the whole table for rows.
func (m *MockStore) ReplaceAllRows(ctx context.Context, t Table, rows []Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}
	if err := checkTable(t); err != nil {
		return err
	}
	for _, r := range rows {
		if err := validateRow(r, r.AccountID); err != nil {
			return err
		}
	}

	var kept []Row
	for _, r := range rows {
		kept = upsert(kept, stamp(r))
	}
	m.rows[t.Name] = kept
	m.writes++
	return nil
}

// stamp copies r and fills a missing UpdatedAt.
func stamp(r Row) Row {
	r = copyRow(r)
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}
	r.UpdatedAt = r.UpdatedAt.Truncate(time.Millisecond)
	return r
}

// upsert appends r, dropping an earlier row with the same key (last wins,
// matching INSERT OR REPLACE).
func upsert(rows []Row, r Row) []Row {
	for i, existing := range rows {
		if existing.EntityID == r.EntityID && existing.AccountID == r.AccountID {
			rows = append(rows[:i], rows[i+1:]...)
			break
		}
	}
	return append(rows, r)
}

// without returns the table's rows minus those matching drop. Must be called with mu held.
func (m *MockStore) without(t Table, drop func(Row) bool) []Row {
	var kept []Row
	for _, r := range m.rows[t.Name] {
		if !drop(r) {
			kept = append(kept, r)
		}
	}
	return kept
}

// DeleteRow removes one row. Returns ErrNotFound if it doesn't exist.
func (m *MockStore) DeleteRow(ctx context.Context, t Table, entityID, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}
	if err := checkTable(t); err != nil {
		return err
	}

	before := len(m.rows[t.Name])
	m.rows[t.Name] = m.without(t, func(r Row) bool {
		return r.EntityID == entityID && r.AccountID == accountID
	})
	if len(m.rows[t.Name]) == before {
		return ErrNotFound
	}
	m.writes++
	return nil
}

// DeleteRows removes every row of the account.
func (m *MockStore) DeleteRows(ctx context.Context, t Table, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}
	if err := checkTable(t); err != nil {
		return err
	}

	m.rows[t.Name] = m.without(t, func(r Row) bool { return r.AccountID == accountID })
	m.writes++
	return nil
}

// DeleteAllRows empties the table.
func (m *MockStore) DeleteAllRows(ctx context.Context, t Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}
	if err := checkTable(t); err != nil {
		return err
	}

	delete(m.rows, t.Name)
	m.writes++
	return nil
}

// CountRows returns how many rows the account has.
func (m *MockStore) CountRows(ctx context.Context, t Table, accountID string) (int, error) {
	rows, err := m.ListRows(ctx, t, accountID)
	return len(rows), err
}

// CountAllRows returns how many rows the table holds.
func (m *MockStore) CountAllRows(ctx context.Context, t Table) (int, error) {
	rows, err := m.ListAllRows(ctx, t)
	return len(rows), err
}

// Accounts returns the distinct accounts with rows, sorted.
func (m *MockStore) Accounts(ctx context.Context, t Table) ([]string, error) {
	rows, err := m.ListAllRows(ctx, t)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var accounts []string
	for _, r := range rows {
		if !seen[r.AccountID] {
			seen[r.AccountID] = true
			accounts = append(accounts, r.AccountID)
		}
	}
	sort.Strings(accounts)
	return accounts, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements DocumentStore interface
var _ DocumentStore = (*MockStore)(nil)
