// ABOUTME: Process-wide registry of persisted stores and their rehydration state
// ABOUTME: Fans out every rehydration to subscribers synchronously so gates react without polling

package rehydrate

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Status is the snapshot delivered to subscribers after a store is marked.
type Status struct {
	Store         string // store that was just marked rehydrated
	AllRehydrated bool
}

// Coordinator tracks, per named store, whether its persisted state is loaded.
type Coordinator struct {
	mu          sync.Mutex
	stores      map[string]bool // name -> rehydrated
	subscribers map[string]func(Status)
	logger      *slog.Logger
}

var defaultCoordinator = New(nil)

// Default returns the process-wide coordinator.
func Default() *Coordinator {
	return defaultCoordinator
}

// New creates a coordinator. Pass nil logger for default.
func New(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		stores:      make(map[string]bool),
		subscribers: make(map[string]func(Status)),
		logger:      logger.With("component", "rehydrate"),
	}
}

// RegisterStore announces a store whose state will be loaded later.
// Registering an already known store is a no-op and never un-marks it.
func (c *Coordinator) RegisterStore(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.stores[name]; ok {
		return
	}
	c.stores[name] = false
	c.logger.Debug("store registered", "store", name)
}

// MarkRehydrated records that the named store has loaded its state and
// notifies every subscriber. Marking is one-shot: repeated calls are ignored.
// An unregistered store is registered and marked in one step.
func (c *Coordinator) MarkRehydrated(name string) {
	c.mu.Lock()
	if done := c.stores[name]; done {
		c.mu.Unlock()
		return
	}
	c.stores[name] = true
	status := Status{Store: name, AllRehydrated: c.allLocked()}

	// Copy callbacks so subscribers may call back into the coordinator
	targets := make([]func(Status), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		targets = append(targets, fn)
	}
	c.mu.Unlock()

	c.logger.Debug("store rehydrated", "store", name, "all_rehydrated", status.AllRehydrated)

	for _, fn := range targets {
		fn(status)
	}
}

// IsRehydrated reports whether the named store is registered and loaded.
func (c *Coordinator) IsRehydrated(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stores[name]
}

// IsAllRehydrated reports whether every registered store has loaded.
// It is vacuously true when nothing is registered.
func (c *Coordinator) IsAllRehydrated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allLocked()
}

func (c *Coordinator) allLocked() bool {
	for _, done := range c.stores {
		if !done {
			return false
		}
	}
	return true
}

// Status returns a copy of the registry: store name -> rehydrated.
func (c *Coordinator) Status() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]bool, len(c.stores))
	for name, done := range c.stores {
		out[name] = done
	}
	return out
}

// Pending returns the sorted names of registered stores that have not loaded.
func (c *Coordinator) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var names []string
	for name, done := range c.stores {
		if !done {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Subscribe registers fn to be called after every MarkRehydrated.
// The returned function removes the subscription; it is safe to call twice.
func (c *Coordinator) Subscribe(fn func(Status)) (unsubscribe func()) {
	subID := uuid.New().String()

	c.mu.Lock()
	c.subscribers[subID] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subscribers, subID)
		c.mu.Unlock()
	}
}

// WaitFor blocks until the named store is rehydrated or ctx is done.
func (c *Coordinator) WaitFor(ctx context.Context, name string) error {
	return c.wait(ctx, func() bool { return c.IsRehydrated(name) })
}

// WaitAll blocks until every registered store is rehydrated or ctx is done.
func (c *Coordinator) WaitAll(ctx context.Context) error {
	return c.wait(ctx, c.IsAllRehydrated)
}

func (c *Coordinator) wait(ctx context.Context, ready func() bool) error {
	done := make(chan struct{})
	var once sync.Once

	// Subscribe before checking so a mark between check and wait is not lost
	unsubscribe := c.Subscribe(func(Status) {
		if ready() {
			once.Do(func() { close(done) })
		}
	})
	defer unsubscribe()

	if ready() {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset forgets every store and subscriber. Intended for tests.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stores = make(map[string]bool)
	c.subscribers = make(map[string]func(Status))
}
