// ABOUTME: Reactive state container that hydrates from and persists to its config's storage
// ABOUTME: Notifies subscribers on every change and writes only the partialized state

package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"github.com/2389/hearth/internal/adapter"
)

// accountScoped is storage partitioned by the active account.
type accountScoped interface {
	Account(ctx context.Context) (string, bool)
}

// Store holds state of type S and keeps it persisted through a Config.
type Store[S any] struct {
	cfg    Config[S]
	logger *slog.Logger

	mu       sync.RWMutex
	state    S
	hydrated bool
	// loadedFor is the account the state was hydrated for.
	loadedFor string

	subMu  sync.Mutex
	subs   map[uint64]func(S)
	nextID uint64
}

// New creates a store starting at initial. Use nil maps in initial for
// collections that are filled by hydration.
func New[S any](initial S, cfg Config[S], logger *slog.Logger) *Store[S] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store[S]{
		cfg:    cfg,
		state:  initial,
		subs:   make(map[uint64]func(S)),
		logger: logger.With("component", "persist", "store", cfg.Name),
	}
}

// Name returns the store name.
func (s *Store[S]) Name() string { return s.cfg.Name }

// Get returns the current state.
func (s *Store[S]) Get() S {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Hydrated reports whether Hydrate has run.
func (s *Store[S]) Hydrated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hydrated
}

// Hydrate loads persisted state and merges it over the current state. The
// rehydration hook fires in every case. A malformed blob or failed migration
// leaves the state untouched and is returned.
func (s *Store[S]) Hydrate(ctx context.Context) error {
	// Resolved before loading: if the account moves mid-load, the state is
	// attributed to the old one and later writes are refused.
	account := s.account(ctx)
	value, ok := s.cfg.Storage.Load(ctx, s.cfg.Name)

	var err error
	s.mu.Lock()
	s.loadedFor = account
	if ok {
		var next S
		next, err = s.merge(s.state, value)
		if err == nil {
			s.state = next
		}
	}
	s.hydrated = true
	state := s.state
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("hydrating store", "error", err)
	} else {
		s.logger.Debug("hydrated store", "found", ok)
	}

	s.cfg.OnRehydrateStorage()(state, err)
	if ok && err == nil {
		s.notify(state)
	}
	return err
}

// merge decodes a persisted blob over current. Top-level fields present in
// the blob replace those of current; the others keep their value. Decoding
// goes into a fresh value so maps already handed out are never written.
func (s *Store[S]) merge(current S, value string) (S, error) {
	var blob adapter.Blob
	if err := json.Unmarshal([]byte(value), &blob); err != nil {
		return current, fmt.Errorf("decoding blob: %w", err)
	}

	raw, err := json.Marshal(blob.State)
	if err != nil {
		return current, fmt.Errorf("encoding state: %w", err)
	}

	if blob.Version != s.cfg.Version {
		if s.cfg.Migrate == nil {
			s.logger.Warn("discarding persisted state from another version",
				"persisted", blob.Version,
				"current", s.cfg.Version)
			return current, nil
		}
		raw, err = s.cfg.Migrate(raw, blob.Version)
		if err != nil {
			return current, fmt.Errorf("migrating from version %d: %w", blob.Version, err)
		}
	}

	var decoded S
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return current, fmt.Errorf("decoding state: %w", err)
	}
	var present map[string]json.RawMessage
	if err := json.Unmarshal(raw, &present); err != nil {
		// Not an object: the decoded value is the whole state
		return decoded, nil
	}
	return overlay(current, decoded, present), nil
}

// overlay returns current with every struct field named in present taken
// from decoded. Names match the way encoding/json matches them.
func overlay[S any](current, decoded S, present map[string]json.RawMessage) S {
	cv := reflect.ValueOf(current)
	if cv.Kind() != reflect.Struct {
		return decoded
	}

	next := reflect.New(cv.Type()).Elem()
	next.Set(cv)
	dv := reflect.ValueOf(decoded)

	for i := 0; i < cv.NumField(); i++ {
		f := cv.Type().Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		for key := range present {
			if strings.EqualFold(key, name) {
				next.Field(i).Set(dv.Field(i))
				break
			}
		}
	}
	return next.Interface().(S)
}

// Set applies fn to the state, notifies subscribers and persists the
// partialized result.
func (s *Store[S]) Set(ctx context.Context, fn func(S) S) {
	s.mu.Lock()
	s.state = fn(s.state)
	state := s.state
	s.mu.Unlock()

	s.notify(state)
	s.persist(ctx, state)
}

// Reset replaces the state without persisting it. Logout uses it to drop the
// previous account's data from memory. The account the store was hydrated
// for is unchanged.
func (s *Store[S]) Reset(state S) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	s.notify(state)
}

func (s *Store[S]) persist(ctx context.Context, state S) {
	if _, scoped := s.cfg.Storage.(accountScoped); scoped {
		current := s.account(ctx)
		s.mu.RLock()
		loadedFor, hydrated := s.loadedFor, s.hydrated
		s.mu.RUnlock()

		if current != "" && (!hydrated || current != loadedFor) {
			s.logger.Warn("not persisting state loaded for another account",
				"loaded_for", loadedFor,
				"current", current)
			return
		}
	}

	blob, err := s.Marshal(state)
	if err != nil {
		s.logger.Error("encoding state", "error", err)
		return
	}
	s.cfg.Storage.Save(ctx, s.cfg.Name, string(blob))
}

// account returns the account the storage resolves to now, or "" when the
// storage is not account-scoped or there is no account.
func (s *Store[S]) account(ctx context.Context) string {
	scoped, ok := s.cfg.Storage.(accountScoped)
	if !ok {
		return ""
	}
	id, _ := scoped.Account(ctx)
	return id
}

// Marshal renders state as the persisted blob.
func (s *Store[S]) Marshal(state S) ([]byte, error) {
	return json.Marshal(struct {
		State   any `json:"state"`
		Version int `json:"version"`
	}{
		State:   s.cfg.Partialize(state),
		Version: s.cfg.Version,
	})
}

// Clear removes the persisted state for the active account.
func (s *Store[S]) Clear(ctx context.Context) {
	s.cfg.Storage.Remove(ctx, s.cfg.Name)
}

// Subscribe registers fn to receive every new state. Returns a function that
// unsubscribes.
func (s *Store[S]) Subscribe(fn func(S)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store[S]) notify(state S) {
	s.subMu.Lock()
	fns := make([]func(S), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}
