// ABOUTME: Persist-config factory wiring a store to its storage and the rehydration coordinator
// ABOUTME: Registers the store at build time and marks it rehydrated after every load

package persist

import (
	"encoding/json"

	"github.com/2389/hearth/internal/adapter"
	"github.com/2389/hearth/internal/rehydrate"
)

// Options describes one persisted store.
type Options[S any] struct {
	// Name is the store name registered with the coordinator.
	Name    string
	Storage adapter.Storage
	// Partialize selects the fields to persist. Nil persists the whole state.
	Partialize func(S) any
	Version    int
	// Migrate upgrades persisted state written under an older version.
	// Without it, state from another version is discarded.
	Migrate func(state json.RawMessage, fromVersion int) (json.RawMessage, error)
	// OnLoaded runs after hydration with the resulting state and any load error.
	OnLoaded func(state S, err error)
}

// Config is what a persisted Store consumes.
type Config[S any] struct {
	Name       string
	Storage    adapter.Storage
	Partialize func(S) any
	Version    int
	Migrate    func(state json.RawMessage, fromVersion int) (json.RawMessage, error)

	coord    *rehydrate.Coordinator
	onLoaded func(S, error)
}

// NewConfig registers opts.Name with coord and returns the config. Call it
// where the store is constructed so waiters can never miss the store. A nil
// coord uses rehydrate.Default().
func NewConfig[S any](coord *rehydrate.Coordinator, opts Options[S]) Config[S] {
	if coord == nil {
		coord = rehydrate.Default()
	}
	coord.RegisterStore(opts.Name)

	partialize := opts.Partialize
	if partialize == nil {
		partialize = func(s S) any { return s }
	}

	return Config[S]{
		Name:       opts.Name,
		Storage:    opts.Storage,
		Partialize: partialize,
		Version:    opts.Version,
		Migrate:    opts.Migrate,
		coord:      coord,
		onLoaded:   opts.OnLoaded,
	}
}

// OnRehydrateStorage returns the post-hydration hook. The hook marks the
// store rehydrated whether the load was populated, empty, or failed, then
// calls OnLoaded.
func (c Config[S]) OnRehydrateStorage() func(state S, err error) {
	return func(state S, err error) {
		c.coord.MarkRehydrated(c.Name)
		if c.onLoaded != nil {
			c.onLoaded(state, err)
		}
	}
}

// Coordinator returns the coordinator the store is registered with.
func (c Config[S]) Coordinator() *rehydrate.Coordinator {
	return c.coord
}
