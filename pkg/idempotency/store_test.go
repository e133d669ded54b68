package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("should reserve a new key", func(t *testing.T) {
		store := NewMemory(time.Minute)

		cached, fresh, err := store.Begin(ctx, "k1")
		require.NoError(t, err)
		assert.True(t, fresh)
		assert.Nil(t, cached)
	})

	t.Run("should report in-progress reservations", func(t *testing.T) {
		store := NewMemory(time.Minute)
		store.Begin(ctx, "k1")

		_, fresh, err := store.Begin(ctx, "k1")
		assert.ErrorIs(t, err, ErrInProgress)
		assert.False(t, fresh)
	})

	t.Run("should replay completed responses", func(t *testing.T) {
		store := NewMemory(time.Minute)
		store.Begin(ctx, "k1")
		require.NoError(t, store.Complete(ctx, "k1", []byte(`{"ok":true}`)))

		cached, fresh, err := store.Begin(ctx, "k1")
		require.NoError(t, err)
		assert.False(t, fresh)
		assert.Equal(t, `{"ok":true}`, string(cached))
	})

	t.Run("should allow retry after abort", func(t *testing.T) {
		store := NewMemory(time.Minute)
		store.Begin(ctx, "k1")
		require.NoError(t, store.Abort(ctx, "k1"))

		_, fresh, err := store.Begin(ctx, "k1")
		require.NoError(t, err)
		assert.True(t, fresh)
	})

	t.Run("should expire entries after ttl", func(t *testing.T) {
		store := NewMemory(time.Minute)
		now := time.Unix(1700000000, 0)
		store.now = func() time.Time { return now }

		store.Begin(ctx, "k1")
		store.Complete(ctx, "k1", []byte("done"))
		now = now.Add(2 * time.Minute)

		_, fresh, err := store.Begin(ctx, "k1")
		require.NoError(t, err)
		assert.True(t, fresh)
	})
}
