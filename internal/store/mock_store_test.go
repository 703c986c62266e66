// ABOUTME: Unit tests for MockStore behavior specific to the in-memory implementation
// ABOUTME: Focuses on failure injection, write counting, and defensive copies

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_FailNext(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()
	boom := errors.New("disk full")

	store.FailNext(boom)
	err := store.ReplaceRows(ctx, Sessions, "did:a", []Row{row("s1", `{}`)})
	assert.ErrorIs(t, err, boom)

	// Failure is consumed by one call
	require.NoError(t, store.ReplaceRows(ctx, Sessions, "did:a", []Row{row("s1", `{}`)}))
	assert.Equal(t, 1, store.Writes())
}

func TestMockStore_ReturnsCopies(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	require.NoError(t, store.ReplaceRows(ctx, Sessions, "did:a", []Row{row("s1", `{"a":1}`)}))

	rows, err := store.ListRows(ctx, Sessions, "did:a")
	require.NoError(t, err)
	rows[0].Data[2] = 'X'

	again, err := store.ListRows(ctx, Sessions, "did:a")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(again[0].Data))
}

func TestMockStore_FailedWriteIsNotCounted(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	store.FailNext(errors.New("locked"))
	_ = store.DeleteRows(ctx, Sessions, "did:a")
	assert.Equal(t, 0, store.Writes())
}
