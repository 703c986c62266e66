// ABOUTME: Resolves the active account, waiting briefly for the identity store to rehydrate
// ABOUTME: Shares one in-flight wait between concurrent callers and degrades errors to no account

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultStoreName is the rehydration name the identity store registers under.
	DefaultStoreName = "identity"

	// DefaultWaitTimeout bounds the wait for the identity store to rehydrate.
	DefaultWaitTimeout = 2 * time.Second
)

// ErrNoAccount is returned by callers that require an active account.
var ErrNoAccount = errors.New("no active account")

// AccountID is the opaque identifier of an account, e.g. a DID.
type AccountID string

// String returns the identifier as a plain string.
func (a AccountID) String() string { return string(a) }

// Source supplies the active account. An empty AccountID means none.
type Source interface {
	CurrentAccount(ctx context.Context) (AccountID, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) (AccountID, error)

// CurrentAccount calls f.
func (f SourceFunc) CurrentAccount(ctx context.Context) (AccountID, error) {
	return f(ctx)
}

// Waiter blocks until a named store is rehydrated.
// *rehydrate.Coordinator satisfies it.
type Waiter interface {
	WaitFor(ctx context.Context, name string) error
}

// AccountResolver is what storage adapters depend on.
type AccountResolver interface {
	CurrentAccount(ctx context.Context) (AccountID, bool)
}

// Options configures a Resolver. Zero values select the defaults.
type Options struct {
	StoreName   string
	WaitTimeout time.Duration
	Logger      *slog.Logger
}

// Resolver resolves the active account through a Source.
type Resolver struct {
	source    Source
	waiter    Waiter
	storeName string
	timeout   time.Duration
	group     singleflight.Group
	logger    *slog.Logger
}

// NewResolver creates a resolver over source that waits on waiter when the
// source has no account yet. A nil waiter disables waiting.
func NewResolver(source Source, waiter Waiter, opts Options) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.StoreName == "" {
		opts.StoreName = DefaultStoreName
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = DefaultWaitTimeout
	}
	return &Resolver{
		source:    source,
		waiter:    waiter,
		storeName: opts.StoreName,
		timeout:   opts.WaitTimeout,
		logger:    logger.With("component", "identity"),
	}
}

// CurrentAccount returns the active account, or false when there is none.
// It never returns an error.
func (r *Resolver) CurrentAccount(ctx context.Context) (AccountID, bool) {
	if id := r.resolve(ctx); id != "" {
		return id, true
	}

	if r.waiter == nil {
		return "", false
	}
	r.waitForIdentity(ctx)

	id := r.resolve(ctx)
	return id, id != ""
}

// waitForIdentity waits for the identity store, sharing the wait between
// concurrent callers. The shared wait is bounded by the resolver timeout;
// an individual caller stops early when its own ctx ends.
func (r *Resolver) waitForIdentity(ctx context.Context) {
	ch := r.group.DoChan(r.storeName, func() (any, error) {
		waitCtx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		return nil, r.waiter.WaitFor(waitCtx, r.storeName)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			r.logger.Debug("identity store not rehydrated before timeout",
				"store", r.storeName,
				"timeout", r.timeout,
				"error", res.Err)
		}
	case <-ctx.Done():
	}
}

// resolve calls the source once, turning errors and panics into no account.
func (r *Resolver) resolve(ctx context.Context) (id AccountID) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("identity source panicked", "panic", fmt.Sprint(p))
			id = ""
		}
	}()

	id, err := r.source.CurrentAccount(ctx)
	if err != nil {
		r.logger.Warn("resolving current account", "error", err)
		return ""
	}
	return id
}

// Ensure Resolver implements AccountResolver
var _ AccountResolver = (*Resolver)(nil)
