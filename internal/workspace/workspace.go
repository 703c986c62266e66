// ABOUTME: Workspace wires the document store, identity, rehydration, and every persisted store together
// ABOUTME: Handles hydration, account switching, logout, and wipe for the active account

package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/hearth/internal/adapter"
	"github.com/2389/hearth/internal/config"
	"github.com/2389/hearth/internal/identity"
	"github.com/2389/hearth/internal/memory"
	"github.com/2389/hearth/internal/persist"
	"github.com/2389/hearth/internal/rehydrate"
	"github.com/2389/hearth/internal/store"
)

// Persisted store names
const (
	SessionsStore   = "sessions"
	CapBuilderStore = "capbuilder"
	FilesStore      = "files"
	SettingsStore   = "settings"
)

// sessionTokenTTL is how long tokens minted by SwitchAccount stay valid.
const sessionTokenTTL = 30 * 24 * time.Hour

var (
	// ErrUnknownAccount is returned when switching to an account with no record.
	ErrUnknownAccount = errors.New("unknown account")
	// ErrSwitchUnsupported is returned when the identity source cannot be changed.
	ErrSwitchUnsupported = errors.New("identity source does not support switching accounts")
)

// Options overrides parts of the workspace, mostly for tests.
type Options struct {
	// Coordinator defaults to rehydrate.Default().
	Coordinator *rehydrate.Coordinator
	// Store replaces the SQLite database named in the config. The caller
	// keeps ownership of it.
	Store store.DocumentStore
	// Source replaces the identity source named in the config. Switching and
	// logout work when it has Set and Clear methods.
	Source identity.Source
	// Embedder defaults to a HashEmbedder of the configured dimensions.
	Embedder memory.Embedder
	Logger   *slog.Logger
}

// settableSource is a Source that can be switched in process.
type settableSource interface {
	identity.Source
	Set(identity.AccountID)
	Clear()
}

// Workspace is the local persistence substrate of the application.
type Workspace struct {
	cfg    *config.Config
	db     store.DocumentStore
	ownsDB bool
	coord  *rehydrate.Coordinator
	logger *slog.Logger

	resolver    *identity.Resolver
	source      identity.Source
	fileSource  *identity.FileSource
	tokenSource *identity.TokenSource

	accounts    *adapter.Adapter[map[string]AccountRecord]
	sessionRows *adapter.Adapter[map[string]ChatSession]
	fileRows    *adapter.Adapter[map[string]StoredFile]

	identity   *persist.Store[IdentityState]
	sessions   *persist.Store[SessionsState]
	capbuilder *persist.Store[CapBuilderState]
	files      *persist.Store[FilesState]
	settings   *persist.Store[SettingsState]
	memory     *memory.Index

	// switchMu serializes account changes. loadedFor is the account the
	// account-scoped stores hold.
	switchMu  sync.Mutex
	hydrated  bool
	loadedFor identity.AccountID
}

// Open builds the workspace described by cfg. Every store is registered with
// the coordinator before Open returns; call Hydrate to load them.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Workspace, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	coord := opts.Coordinator
	if coord == nil {
		coord = rehydrate.Default()
	}

	embedder := opts.Embedder
	if embedder == nil {
		if cfg.Memory.Model != "" && cfg.Memory.Model != memory.HashModel {
			return nil, fmt.Errorf("unsupported memory model %q", cfg.Memory.Model)
		}
		embedder = memory.NewHashEmbedder(cfg.Memory.Dimensions)
	}

	w := &Workspace{
		cfg:    cfg,
		db:     opts.Store,
		coord:  coord,
		logger: logger.With("component", "workspace"),
	}

	if w.db == nil {
		db, err := store.NewSQLiteStore(cfg.Database.Path, store.Options{
			Driver: cfg.Database.Driver,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		w.db = db
		w.ownsDB = true
	}

	// Account records belong to no single account
	w.accounts = adapter.New[map[string]AccountRecord](w.db, nil, adapter.MapCodec[AccountRecord]{}, adapter.Options{
		Table:   store.Accounts,
		Field:   "accounts",
		Version: 1,
		Scope:   adapter.ScopeAllAccounts,
		Logger:  logger,
	})
	w.identity = persist.New(IdentityState{}, persist.NewConfig(coord, persist.Options[IdentityState]{
		Name:    cfg.Identity.StoreName,
		Storage: w.accounts,
		Version: 1,
	}), logger)

	if err := w.buildSource(ctx, opts.Source, logger); err != nil {
		w.Close()
		return nil, err
	}
	w.resolver = identity.NewResolver(w.source, coord, identity.Options{
		StoreName:   cfg.Identity.StoreName,
		WaitTimeout: cfg.Identity.WaitTimeout,
		Logger:      logger,
	})

	w.sessionRows = adapter.New[map[string]ChatSession](w.db, w.resolver, adapter.MapCodec[ChatSession]{}, adapter.Options{
		Table: store.Sessions, Field: "sessions", Version: 1, Logger: logger,
	})
	w.sessions = persist.New(SessionsState{}, persist.NewConfig(coord, persist.Options[SessionsState]{
		Name:    SessionsStore,
		Storage: w.sessionRows,
		Version: 1,
		Partialize: func(s SessionsState) any {
			return map[string]any{"sessions": s.Sessions}
		},
	}), logger)

	drafts := adapter.New[map[string]DraftCap](w.db, w.resolver, adapter.MapCodec[DraftCap]{}, adapter.Options{
		Table: store.Drafts, Field: "drafts", Version: 1, Logger: logger,
	})
	installed := adapter.New[[]InstalledCap](w.db, w.resolver,
		adapter.NewListCodec(func(c InstalledCap) string { return c.ID }),
		adapter.Options{Table: store.Installed, Field: "installed", Version: 1, Logger: logger})
	w.capbuilder = persist.New(CapBuilderState{}, persist.NewConfig(coord, persist.Options[CapBuilderState]{
		Name:    CapBuilderStore,
		Storage: adapter.NewComposite(1, drafts, installed),
		Version: 1,
	}), logger)

	w.fileRows = adapter.New[map[string]StoredFile](w.db, w.resolver, adapter.MapCodec[StoredFile]{}, adapter.Options{
		Table: store.Files, Field: "files", Version: 1, Logger: logger,
	})
	w.files = persist.New(FilesState{}, persist.NewConfig(coord, persist.Options[FilesState]{
		Name:    FilesStore,
		Storage: w.fileRows,
		Version: 1,
	}), logger)

	settings := adapter.New[map[string]string](w.db, w.resolver, adapter.MapCodec[string]{}, adapter.Options{
		Table: store.Settings, Field: "settings", Version: 1, Logger: logger,
	})
	w.settings = persist.New(SettingsState{}, persist.NewConfig(coord, persist.Options[SettingsState]{
		Name:    SettingsStore,
		Storage: settings,
		Version: 1,
	}), logger)

	w.memory = memory.NewIndex(memory.NewAdapter(w.db, w.resolver, logger), embedder, memory.Options{
		DefaultLimit: cfg.Memory.DefaultLimit,
		CacheTTL:     cfg.Memory.CacheTTL,
		CacheSize:    cfg.Memory.CacheSize,
		Logger:       logger,
	})

	return w, nil
}

// buildSource picks the identity source named in the config.
func (w *Workspace) buildSource(ctx context.Context, override identity.Source, logger *slog.Logger) error {
	if override != nil {
		w.source = override
		return nil
	}

	switch w.cfg.Identity.Source {
	case config.SourceFile:
		fs := identity.NewFileSource(w.cfg.Identity.File, logger)
		if err := fs.Watch(ctx); err != nil {
			// Falls back to reading the file on every resolution
			w.logger.Warn("not watching account file", "path", fs.Path(), "error", err)
		}
		fs.OnChange(func(ctx context.Context, id identity.AccountID) {
			if err := w.syncAccount(ctx); err != nil {
				w.logger.Warn("reloading stores after account file change", "account", id, "error", err)
			}
		})
		w.fileSource = fs
		w.source = fs
	case config.SourceToken:
		w.tokenSource = identity.NewTokenSource([]byte(w.cfg.Identity.TokenSecret), identity.TokenFromFile(w.cfg.Identity.TokenFile))
		w.source = w.tokenSource
	case config.SourceStore, "":
		w.source = identity.SourceFunc(func(context.Context) (identity.AccountID, error) {
			if a, ok := w.identity.Get().Active(); ok {
				return identity.AccountID(a.DID), nil
			}
			return "", nil
		})
	default:
		return fmt.Errorf("unknown identity source %q", w.cfg.Identity.Source)
	}
	return nil
}

// Close releases the account file watcher, the memory cache, and the
// database if the workspace opened it.
func (w *Workspace) Close() error {
	if w.fileSource != nil {
		w.fileSource.Close()
	}
	if w.memory != nil {
		w.memory.Close()
	}
	if w.ownsDB {
		return w.db.Close()
	}
	return nil
}

// Hydrate loads every store and the memory index concurrently. Stores that
// need the active account wait for the identity store through the resolver.
func (w *Workspace) Hydrate(ctx context.Context) error {
	w.switchMu.Lock()
	defer w.switchMu.Unlock()

	if err := w.hydrate(ctx, true); err != nil {
		return err
	}
	w.hydrated = true
	return nil
}

func (w *Workspace) hydrate(ctx context.Context, withIdentity bool) error {
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)

	run := func(name string, fn func(context.Context) error) {
		g.Go(func() error {
			if err := fn(gctx); err != nil {
				w.logger.Warn("hydrating store", "store", name, "error", err)
			}
			return gctx.Err()
		})
	}

	if withIdentity {
		run(w.identity.Name(), w.identity.Hydrate)
	}
	run(SessionsStore, w.sessions.Hydrate)
	run(CapBuilderStore, w.capbuilder.Hydrate)
	run(FilesStore, w.files.Hydrate)
	run(SettingsStore, w.settings.Hydrate)
	g.Go(func() error { return w.memory.Load(gctx) })

	// The stores resolve on their own; this is the account they most likely
	// loaded. They refuse to write if it does not match theirs.
	w.loadedFor, _ = w.resolver.CurrentAccount(ctx)

	if err := g.Wait(); err != nil {
		return fmt.Errorf("hydrating workspace: %w", err)
	}

	w.logger.Debug("workspace hydrated",
		"account", w.loadedFor,
		"duration", time.Since(start),
		"all_rehydrated", w.coord.IsAllRehydrated())
	return nil
}

// resetAccountStores drops the in-memory state of every account-scoped store.
// Callers hold switchMu.
func (w *Workspace) resetAccountStores() {
	w.sessions.Reset(SessionsState{})
	w.capbuilder.Reset(CapBuilderState{})
	w.files.Reset(FilesState{})
	w.settings.Reset(SettingsState{})
	w.memory.Unload()
	w.loadedFor = ""
}

// syncAccount reloads the account-scoped stores when the active account is no
// longer the one they were loaded for. Sources can change outside the
// workspace: another process rewriting the account or token file, or a
// custom source set directly.
func (w *Workspace) syncAccount(ctx context.Context) error {
	w.switchMu.Lock()
	defer w.switchMu.Unlock()

	if !w.hydrated {
		return nil
	}
	current, _ := w.resolver.CurrentAccount(ctx)
	if current == w.loadedFor {
		return nil
	}

	w.logger.Info("active account changed, reloading stores", "from", w.loadedFor, "to", current)
	w.resetAccountStores()
	return w.hydrate(ctx, false)
}

// CurrentAccount returns the active account.
func (w *Workspace) CurrentAccount(ctx context.Context) (identity.AccountID, bool) {
	return w.resolver.CurrentAccount(ctx)
}

// requireAccount returns the active account after making sure the stores
// hold its data.
func (w *Workspace) requireAccount(ctx context.Context) (identity.AccountID, error) {
	if err := w.syncAccount(ctx); err != nil {
		return "", err
	}
	id, ok := w.resolver.CurrentAccount(ctx)
	if !ok {
		return "", identity.ErrNoAccount
	}
	return id, nil
}

// SwitchAccount makes did the active account and reloads the account-scoped
// stores for it.
func (w *Workspace) SwitchAccount(ctx context.Context, did string) error {
	w.switchMu.Lock()
	defer w.switchMu.Unlock()

	if err := w.setActive(ctx, did); err != nil {
		return err
	}
	w.logger.Info("switched account", "account", did)

	w.resetAccountStores()
	return w.hydrate(ctx, false)
}

func (w *Workspace) setActive(ctx context.Context, did string) error {
	switch {
	case w.fileSource != nil:
		return w.fileSource.Write(identity.AccountID(did))
	case w.tokenSource != nil:
		token, err := w.tokenSource.Issue(identity.AccountID(did), sessionTokenTTL)
		if err != nil {
			return fmt.Errorf("issuing session token: %w", err)
		}
		return writeTokenFile(w.cfg.Identity.TokenFile, token)
	}

	if s, ok := w.source.(settableSource); ok {
		s.Set(identity.AccountID(did))
		return nil
	}
	if _, ok := w.source.(identity.SourceFunc); !ok {
		return ErrSwitchUnsupported
	}

	if _, ok := w.identity.Get().Accounts[did]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, did)
	}
	w.identity.Set(ctx, func(s IdentityState) IdentityState {
		accounts := make(map[string]AccountRecord, len(s.Accounts))
		for k, a := range s.Accounts {
			a.Active = k == did
			accounts[k] = a
		}
		s.Accounts = accounts
		return s
	})
	return nil
}

func writeTokenFile(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	return nil
}

// Logout deactivates the current account and drops its state from memory.
// Stored rows are kept.
func (w *Workspace) Logout(ctx context.Context) error {
	w.switchMu.Lock()
	defer w.switchMu.Unlock()

	var err error
	switch {
	case w.fileSource != nil:
		err = w.fileSource.Clear()
	case w.tokenSource != nil:
		if rmErr := os.Remove(w.cfg.Identity.TokenFile); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = fmt.Errorf("removing token file: %w", rmErr)
		}
	default:
		if s, ok := w.source.(settableSource); ok {
			s.Clear()
		} else {
			w.identity.Set(ctx, func(s IdentityState) IdentityState {
				accounts := make(map[string]AccountRecord, len(s.Accounts))
				for k, a := range s.Accounts {
					a.Active = false
					accounts[k] = a
				}
				s.Accounts = accounts
				return s
			})
		}
	}

	w.resetAccountStores()
	if err != nil {
		w.logger.Warn("logout incomplete", "error", err)
		return err
	}
	w.logger.Info("logged out")
	return nil
}

// Wipe deletes every stored row of the active account and empties the
// in-memory stores. Account records are kept.
func (w *Workspace) Wipe(ctx context.Context) error {
	account, err := w.requireAccount(ctx)
	if err != nil {
		return err
	}

	w.sessions.Clear(ctx)
	w.capbuilder.Clear(ctx)
	w.files.Clear(ctx)
	w.settings.Clear(ctx)
	w.memory.Clear(ctx)

	w.sessions.Reset(SessionsState{})
	w.capbuilder.Reset(CapBuilderState{})
	w.files.Reset(FilesState{})
	w.settings.Reset(SettingsState{})

	w.logger.Info("wiped account data", "account", account)
	return nil
}

// Status is a snapshot of the workspace.
type Status struct {
	Account       string
	Stores        map[string]bool
	AllRehydrated bool
	MemoryReady   bool
	Memories      int
	Sessions      int
}

// Status reports the active account and rehydration progress.
func (w *Workspace) Status(ctx context.Context) Status {
	account, _ := w.resolver.CurrentAccount(ctx)
	return Status{
		Account:       account.String(),
		Stores:        w.coord.Status(),
		AllRehydrated: w.coord.IsAllRehydrated(),
		MemoryReady:   w.memory.Ready(),
		Memories:      w.memory.Len(),
		Sessions:      len(w.sessions.Get().Sessions),
	}
}

// Memory returns the semantic memory index.
func (w *Workspace) Memory() *memory.Index { return w.memory }

// Coordinator returns the rehydration coordinator the stores registered with.
func (w *Workspace) Coordinator() *rehydrate.Coordinator { return w.coord }

// Resolver returns the account resolver every adapter uses.
func (w *Workspace) Resolver() *identity.Resolver { return w.resolver }

// TokenSource returns the token source when identity.source is token.
func (w *Workspace) TokenSource() (*identity.TokenSource, bool) {
	return w.tokenSource, w.tokenSource != nil
}
