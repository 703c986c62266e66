// ABOUTME: Generic account-scoped storage adapter over the document store
// ABOUTME: Implements the flat Load/Save/Remove contract plus a typed collection API

package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/hearth/internal/identity"
	"github.com/2389/hearth/internal/store"
)

// Scope selects which rows an adapter reads and writes.
type Scope int

const (
	// ScopeAccount partitions every operation by the active account.
	ScopeAccount Scope = iota
	// ScopeAllAccounts spans the whole table. Used only for account records.
	ScopeAllAccounts
)

func (s Scope) String() string {
	if s == ScopeAllAccounts {
		return "all-accounts"
	}
	return "account"
}

// Blob is the persisted state wrapper exchanged through the flat contract.
type Blob struct {
	State   map[string]json.RawMessage `json:"state"`
	Version int                        `json:"version"`
}

// Options configures an Adapter.
type Options struct {
	Table store.Table
	// Field is the key of the collection inside the blob's state object.
	Field   string
	Version int
	Scope   Scope
	Logger  *slog.Logger
}

// Adapter persists one collection of one domain store.
type Adapter[C any] struct {
	db       store.DocumentStore
	resolver identity.AccountResolver
	codec    Codec[C]
	table    store.Table
	field    string
	version  int
	scope    Scope
	logger   *slog.Logger
}

// New creates an adapter for the collection under opts.Field in opts.Table.
// resolver may be nil for ScopeAllAccounts.
func New[C any](db store.DocumentStore, resolver identity.AccountResolver, codec Codec[C], opts Options) *Adapter[C] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter[C]{
		db:       db,
		resolver: resolver,
		codec:    codec,
		table:    opts.Table,
		field:    opts.Field,
		version:  opts.Version,
		scope:    opts.Scope,
		logger:   logger.With("component", "adapter", "table", opts.Table.Name),
	}
}

// Table returns the table this adapter writes.
func (a *Adapter[C]) Table() store.Table { return a.table }

// Field returns the blob state field this adapter owns.
func (a *Adapter[C]) Field() string { return a.field }

// account resolves the active account at call time. Never captured ahead of
// time so an in-flight save cannot land in a newly switched account.
func (a *Adapter[C]) account(ctx context.Context) (string, bool) {
	if a.scope == ScopeAllAccounts {
		return "", true
	}
	if a.resolver == nil {
		return "", false
	}
	id, ok := a.resolver.CurrentAccount(ctx)
	if !ok || id == "" {
		return "", false
	}
	return id.String(), true
}

func (a *Adapter[C]) listRows(ctx context.Context, account string) ([]store.Row, error) {
	if a.scope == ScopeAllAccounts {
		return a.db.ListAllRows(ctx, a.table)
	}
	return a.db.ListRows(ctx, a.table, account)
}

// Load returns the persisted blob for the active account. It reports false
// when there is no account, nothing stored, or the rows cannot be read.
func (a *Adapter[C]) Load(ctx context.Context, name string) (string, bool) {
	coll, ok := a.LoadCollection(ctx)
	if !ok {
		return "", false
	}

	raw, err := json.Marshal(coll)
	if err != nil {
		a.logger.Error("encoding collection", "store", name, "error", err)
		return "", false
	}
	blob, err := json.Marshal(Blob{
		State:   map[string]json.RawMessage{a.field: raw},
		Version: a.version,
	})
	if err != nil {
		a.logger.Error("encoding blob", "store", name, "error", err)
		return "", false
	}
	return string(blob), true
}

// Account returns the account operations would use right now. Always
// ("", true) for ScopeAllAccounts.
func (a *Adapter[C]) Account(ctx context.Context) (string, bool) {
	return a.account(ctx)
}

// LoadCollection returns the active account's collection. It reports false
// when there is no account, no rows, or an error (which is logged).
func (a *Adapter[C]) LoadCollection(ctx context.Context) (C, bool) {
	coll, err := a.FetchCollection(ctx)
	switch {
	case errors.Is(err, identity.ErrNoAccount):
		a.logger.Debug("load skipped, no active account")
		return coll, false
	case err != nil:
		a.logger.Error("loading collection", "error", err)
		return coll, false
	}
	return coll, !a.codec.Empty(coll)
}

// FetchCollection is LoadCollection for callers that must tell a failed read
// from an empty one. Nothing stored yields the zero collection and no error.
// Returns identity.ErrNoAccount without an account.
func (a *Adapter[C]) FetchCollection(ctx context.Context) (C, error) {
	var zero C

	account, ok := a.account(ctx)
	if !ok {
		return zero, identity.ErrNoAccount
	}

	rows, err := a.listRows(ctx, account)
	if err != nil {
		return zero, fmt.Errorf("listing %s rows for %s: %w", a.table.Name, account, err)
	}
	if len(rows) == 0 {
		return zero, nil
	}

	coll, err := a.codec.Assemble(rows)
	if err != nil {
		return zero, fmt.Errorf("assembling %s collection for %s: %w", a.table.Name, account, err)
	}
	return coll, nil
}

// Save persists the blob's field for the active account. Without an account,
// with a malformed blob, or with a missing or empty field it does nothing.
func (a *Adapter[C]) Save(ctx context.Context, name, value string) {
	var blob Blob
	if err := json.Unmarshal([]byte(value), &blob); err != nil {
		a.logger.Error("decoding blob", "store", name, "error", err)
		return
	}

	raw, ok := blob.State[a.field]
	if !ok || string(raw) == "null" {
		return
	}

	var coll C
	if err := json.Unmarshal(raw, &coll); err != nil {
		a.logger.Error("decoding collection", "store", name, "field", a.field, "error", err)
		return
	}

	if err := a.SaveCollection(ctx, coll); err != nil && !errors.Is(err, identity.ErrNoAccount) {
		a.logger.Error("saving collection", "store", name, "error", err)
	}
}

// SaveCollection replaces the active account's rows with coll. An empty
// collection is a no-op. Returns identity.ErrNoAccount without an account.
func (a *Adapter[C]) SaveCollection(ctx context.Context, coll C) error {
	if a.codec.Empty(coll) {
		return nil
	}

	account, ok := a.account(ctx)
	if !ok {
		a.logger.Debug("save skipped, no active account")
		return identity.ErrNoAccount
	}

	rows, err := a.codec.Explode(coll)
	if err != nil {
		return fmt.Errorf("exploding %s collection: %w", a.table.Name, err)
	}

	if a.scope == ScopeAllAccounts {
		for i := range rows {
			if rows[i].AccountID == "" {
				rows[i].AccountID = rows[i].EntityID
			}
		}
		err = a.db.ReplaceAllRows(ctx, a.table, rows)
	} else {
		err = a.db.ReplaceRows(ctx, a.table, account, rows)
	}
	if err != nil {
		return fmt.Errorf("replacing %s rows: %w", a.table.Name, err)
	}

	a.logger.Debug("saved collection", "account", account, "scope", a.scope, "count", len(rows))
	return nil
}

// DeleteEntity removes one entity of the active account. A missing entity
// is not an error.
func (a *Adapter[C]) DeleteEntity(ctx context.Context, entityID string) error {
	account, ok := a.account(ctx)
	if !ok {
		return identity.ErrNoAccount
	}
	if a.scope == ScopeAllAccounts {
		account = entityID
	}

	err := a.db.DeleteRow(ctx, a.table, entityID, account)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("deleting %s entity %s: %w", a.table.Name, entityID, err)
	}
	return nil
}

// Remove deletes every row of the active account, or of every account for
// ScopeAllAccounts. Errors are logged.
func (a *Adapter[C]) Remove(ctx context.Context, name string) {
	account, ok := a.account(ctx)
	if !ok {
		a.logger.Debug("remove skipped, no active account", "store", name)
		return
	}

	var err error
	if a.scope == ScopeAllAccounts {
		err = a.db.DeleteAllRows(ctx, a.table)
	} else {
		err = a.db.DeleteRows(ctx, a.table, account)
	}
	if err != nil {
		a.logger.Error("removing rows", "store", name, "account", account, "error", err)
		return
	}
	a.logger.Debug("removed rows", "store", name, "account", account, "scope", a.scope)
}
