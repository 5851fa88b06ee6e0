package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/pixstore/pkg/kv"
)

func TestClosedStoreRejectsOperations(t *testing.T) {
	t.Parallel()

	store := New[string]()
	require.NoError(t, store.Close())

	ctx := context.Background()

	_, _, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, kv.ErrStoreClosed)

	err = store.Set(ctx, "k", "v", nil)
	assert.ErrorIs(t, err, kv.ErrStoreClosed)

	_, err = store.SetIfVersion(ctx, "k", "v", kv.Version("1"), nil)
	assert.ErrorIs(t, err, kv.ErrStoreClosed)
}

func TestTTLExpiresEntry(t *testing.T) {
	t.Parallel()

	store := New[string]()
	ctx := context.Background()

	err := store.Set(ctx, "k", "v", &kv.SetOptions{TTL: time.Millisecond})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found, "entry should have expired")

	// An expired key behaves as absent for conditional and CAS writes.
	result, err := store.SetIfVersion(ctx, "k", "v2", kv.Version("1"), nil)
	require.NoError(t, err)
	assert.Equal(t, kv.CASNotFound, result.Outcome)

	written, err := store.SetIfNotExists(ctx, "k", "fresh", nil)
	require.NoError(t, err)
	assert.True(t, written)
}

func TestContextCancellation(t *testing.T) {
	t.Parallel()

	store := New[string]()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)

	err = store.Set(ctx, "k", "v", nil)
	assert.ErrorIs(t, err, context.Canceled)
}
