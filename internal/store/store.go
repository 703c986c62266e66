// ABOUTME: DocumentStore interface, table descriptors, and the entity row type
// ABOUTME: Every row is keyed by (entity id, account id) inside a per-domain table

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// ErrUnknownTable is returned for a table that is not part of the schema
var ErrUnknownTable = errors.New("unknown table")

// ErrEmptyEntityID is returned when a row has no entity id
var ErrEmptyEntityID = errors.New("empty entity id")

// ErrEmptyAccountID is returned when a row cannot be filed under an account
var ErrEmptyAccountID = errors.New("empty account id")

// ErrInvalidPayload is returned when a row's data is not valid JSON
var ErrInvalidPayload = errors.New("invalid JSON payload")

// Table describes one domain table. KeyField names the entity id column and
// is also the key used in the row wire format.
type Table struct {
	Name     string
	KeyField string
}

// Domain tables
var (
	Sessions  = Table{Name: "sessions", KeyField: "sessionId"}
	Drafts    = Table{Name: "drafts", KeyField: "draftId"}
	Installed = Table{Name: "installed", KeyField: "capId"}
	Files     = Table{Name: "files", KeyField: "fileId"}
	Memories  = Table{Name: "memories", KeyField: "memoryId"}
	Accounts  = Table{Name: "accounts", KeyField: "did"}
	Settings  = Table{Name: "settings", KeyField: "settingId"}
)

// Tables returns every table in the current schema.
func Tables() []Table {
	return []Table{Sessions, Drafts, Installed, Files, Memories, Accounts, Settings}
}

// LookupTable returns the table with the given name.
func LookupTable(name string) (Table, error) {
	for _, t := range Tables() {
		if t.Name == name {
			return t, nil
		}
	}
	return Table{}, fmt.Errorf("%w: %s", ErrUnknownTable, name)
}

// Row is one persisted record scoped to one account.
type Row struct {
	EntityID  string
	AccountID string
	Data      json.RawMessage
	UpdatedAt time.Time
}

// MarshalRow encodes r in the table's wire format:
// {"<keyField>": id, "accountId": ..., "data": ..., "updatedAt": unix millis}.
func (t Table) MarshalRow(r Row) ([]byte, error) {
	data := r.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return json.Marshal(map[string]any{
		t.KeyField:  r.EntityID,
		"accountId": r.AccountID,
		"data":      data,
		"updatedAt": r.UpdatedAt.UnixMilli(),
	})
}

// DocumentStore is the multi-tenant embedded document database.
// All operations on one table are partitioned by account id; there is no
// querying beyond "all rows for this account" and no cross-table transaction.
type DocumentStore interface {
	// ListRows returns an account's rows in insertion order.
	ListRows(ctx context.Context, table Table, accountID string) ([]Row, error)
	// ListAllRows returns every row of the table regardless of account.
	ListAllRows(ctx context.Context, table Table) ([]Row, error)

	// ReplaceRows deletes every row of the account and inserts rows, atomically.
	ReplaceRows(ctx context.Context, table Table, accountID string, rows []Row) error
	// ReplaceAllRows empties the table and inserts rows, each filed under its own account.
	ReplaceAllRows(ctx context.Context, table Table, rows []Row) error

	DeleteRow(ctx context.Context, table Table, entityID, accountID string) error
	DeleteRows(ctx context.Context, table Table, accountID string) error
	DeleteAllRows(ctx context.Context, table Table) error

	CountRows(ctx context.Context, table Table, accountID string) (int, error)
	CountAllRows(ctx context.Context, table Table) (int, error)

	// Accounts returns the distinct account ids with rows in the table, sorted.
	Accounts(ctx context.Context, table Table) ([]string, error)

	// Close releases any resources held by the store
	Close() error
}

// validateRow checks a row before it is written under accountID.
func validateRow(r Row, accountID string) error {
	if r.EntityID == "" {
		return ErrEmptyEntityID
	}
	if accountID == "" {
		return ErrEmptyAccountID
	}
	if r.AccountID != "" && r.AccountID != accountID {
		return fmt.Errorf("row %s belongs to account %s, not %s", r.EntityID, r.AccountID, accountID)
	}
	if !json.Valid(r.Data) {
		return fmt.Errorf("%w: row %s", ErrInvalidPayload, r.EntityID)
	}
	return nil
}
