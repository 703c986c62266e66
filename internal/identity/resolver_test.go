// ABOUTME: Tests for the account resolver
// ABOUTME: Covers immediate resolution, rehydration wait, shared waits, timeouts, and error degradation

package identity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/2389/hearth/internal/rehydrate"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// countingWaiter blocks every WaitFor until release is closed.
type countingWaiter struct {
	calls   atomic.Int32
	release chan struct{}
}

func (w *countingWaiter) WaitFor(ctx context.Context, name string) error {
	w.calls.Add(1)
	select {
	case <-w.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestResolver_ImmediateAccount(t *testing.T) {
	waiter := &countingWaiter{release: make(chan struct{})}
	r := NewResolver(NewStaticSource("did:a"), waiter, Options{})

	id, ok := r.CurrentAccount(context.Background())
	require.True(t, ok)
	assert.Equal(t, AccountID("did:a"), id)
	assert.Equal(t, int32(0), waiter.calls.Load(), "no wait when the source answers")
}

func TestResolver_WaitsForIdentityRehydration(t *testing.T) {
	coord := rehydrate.New(nil)
	coord.RegisterStore(DefaultStoreName)

	src := NewStaticSource("")
	r := NewResolver(src, coord, Options{WaitTimeout: time.Second})

	go func() {
		time.Sleep(20 * time.Millisecond)
		src.Set("did:late")
		coord.MarkRehydrated(DefaultStoreName)
	}()

	id, ok := r.CurrentAccount(context.Background())
	require.True(t, ok)
	assert.Equal(t, AccountID("did:late"), id)
}

func TestResolver_TimeoutReturnsNoAccount(t *testing.T) {
	coord := rehydrate.New(nil) // identity store never registers
	r := NewResolver(NewStaticSource(""), coord, Options{WaitTimeout: 30 * time.Millisecond})

	start := time.Now()
	id, ok := r.CurrentAccount(context.Background())

	assert.False(t, ok)
	assert.Empty(t, id)
	assert.Less(t, time.Since(start), time.Second)
}

func TestResolver_LoggedOutAfterRehydrationIsFast(t *testing.T) {
	coord := rehydrate.New(nil)
	coord.MarkRehydrated(DefaultStoreName)
	r := NewResolver(NewStaticSource(""), coord, Options{WaitTimeout: 5 * time.Second})

	start := time.Now()
	_, ok := r.CurrentAccount(context.Background())

	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestResolver_ConcurrentCallersShareOneWait(t *testing.T) {
	waiter := &countingWaiter{release: make(chan struct{})}

	var sourceCalls atomic.Int32
	var ready atomic.Bool
	src := SourceFunc(func(context.Context) (AccountID, error) {
		sourceCalls.Add(1)
		if ready.Load() {
			return "did:a", nil
		}
		return "", nil
	})
	r := NewResolver(src, waiter, Options{WaitTimeout: 5 * time.Second})

	const callers = 8
	results := make([]AccountID, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = r.CurrentAccount(context.Background())
		}(i)
	}

	require.Eventually(t, func() bool { return sourceCalls.Load() >= callers }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	ready.Store(true)
	close(waiter.release)
	wg.Wait()

	assert.Equal(t, int32(1), waiter.calls.Load(), "one wait cycle for all concurrent callers")
	for i, id := range results {
		assert.Equal(t, AccountID("did:a"), id, "caller %d", i)
	}
}

func TestResolver_CallerContextCancelStopsWaiting(t *testing.T) {
	waiter := &countingWaiter{release: make(chan struct{})}
	defer close(waiter.release)
	r := NewResolver(NewStaticSource(""), waiter, Options{WaitTimeout: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, ok := r.CurrentAccount(ctx)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestResolver_SourceErrorDegrades(t *testing.T) {
	src := SourceFunc(func(context.Context) (AccountID, error) {
		return "", errors.New("keystore locked")
	})
	r := NewResolver(src, nil, Options{})

	id, ok := r.CurrentAccount(context.Background())
	assert.False(t, ok)
	assert.Empty(t, id)
}

func TestResolver_SourcePanicDegrades(t *testing.T) {
	src := SourceFunc(func(context.Context) (AccountID, error) {
		panic("wallet exploded")
	})
	r := NewResolver(src, nil, Options{})

	assert.NotPanics(t, func() {
		_, ok := r.CurrentAccount(context.Background())
		assert.False(t, ok)
	})
}

func TestResolver_ReResolvesEveryCall(t *testing.T) {
	src := NewStaticSource("did:a")
	r := NewResolver(src, nil, Options{})

	id, _ := r.CurrentAccount(context.Background())
	assert.Equal(t, AccountID("did:a"), id)

	src.Set("did:b")
	id, _ = r.CurrentAccount(context.Background())
	assert.Equal(t, AccountID("did:b"), id)

	src.Clear()
	_, ok := r.CurrentAccount(context.Background())
	assert.False(t, ok)
}
