// ABOUTME: Account record management for the workspace
// ABOUTME: Creates, lists, and deletes accounts and attaches WebAuthn credentials

package workspace

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/2389/hearth/internal/identity"
)

// DIDPrefix prefixes the identifiers of accounts created on this device.
const DIDPrefix = "did:hearth:"

// CreateAccount records a new account. With the store identity source the
// first account created becomes active.
func (w *Workspace) CreateAccount(ctx context.Context, name, displayName string) (AccountRecord, error) {
	if name == "" {
		return AccountRecord{}, fmt.Errorf("account name is required")
	}

	rec := AccountRecord{
		DID:         DIDPrefix + uuid.NewString(),
		Name:        name,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}
	if _, storeSource := w.source.(identity.SourceFunc); storeSource {
		_, hasActive := w.identity.Get().Active()
		rec.Active = !hasActive
	}

	w.identity.Set(ctx, func(s IdentityState) IdentityState {
		s.Accounts = withEntry(s.Accounts, rec.DID, rec)
		return s
	})

	w.logger.Info("created account", "account", rec.DID, "active", rec.Active)
	if rec.Active {
		if err := w.syncAccount(ctx); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

// Accounts lists the account records ordered by creation time.
func (w *Workspace) Accounts() []AccountRecord {
	state := w.identity.Get()
	out := make([]AccountRecord, 0, len(state.Accounts))
	for _, a := range state.Accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].DID < out[j].DID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Account returns one account record.
func (w *Workspace) Account(did string) (AccountRecord, error) {
	a, ok := w.identity.Get().Accounts[did]
	if !ok {
		return AccountRecord{}, fmt.Errorf("%w: %s", ErrUnknownAccount, did)
	}
	return a, nil
}

// DeleteAccount removes an account record. The account's data rows in the
// other tables are left alone; Wipe them first to remove them.
func (w *Workspace) DeleteAccount(ctx context.Context, did string) error {
	state := w.identity.Get()
	if _, ok := state.Accounts[did]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, did)
	}

	if err := w.accounts.DeleteEntity(ctx, did); err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}

	current, _ := w.resolver.CurrentAccount(ctx)
	w.identity.Reset(IdentityState{Accounts: withoutEntry(state.Accounts, did)})
	if current.String() == did {
		w.switchMu.Lock()
		w.resetAccountStores()
		w.switchMu.Unlock()
	}

	w.logger.Info("deleted account", "account", did)
	return nil
}

// AddCredential attaches a WebAuthn credential to an account.
func (w *Workspace) AddCredential(ctx context.Context, did string, cred webauthn.Credential) error {
	if _, err := w.Account(did); err != nil {
		return err
	}
	w.identity.Set(ctx, func(s IdentityState) IdentityState {
		a := s.Accounts[did]
		a.Credentials = append(append([]webauthn.Credential(nil), a.Credentials...), cred)
		s.Accounts = withEntry(s.Accounts, did, a)
		return s
	})
	return nil
}

// withEntry returns a copy of m with key set to v. Store state is shared with
// subscribers, so maps are never written in place.
func withEntry[T any](m map[string]T, key string, v T) map[string]T {
	out := make(map[string]T, len(m)+1)
	for k, e := range m {
		out[k] = e
	}
	out[key] = v
	return out
}

// withoutEntry returns a copy of m without key.
func withoutEntry[T any](m map[string]T, key string) map[string]T {
	out := make(map[string]T, len(m))
	for k, e := range m {
		if k != key {
			out[k] = e
		}
	}
	return out
}
