package assets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terminal-bench/nftauction/internal/apperr"
	"github.com/terminal-bench/nftauction/pkg/circuit"
)

var punk = Ref{Registry: "punks", ItemID: "7"}

func TestMemoryApproval(t *testing.T) {
	ctx := context.Background()

	t.Run("should require ownership and approval", func(t *testing.T) {
		m := NewMemory("house")
		require.NoError(t, m.Mint(punk, "alice"))

		ok, err := m.IsApproved(ctx, punk, "alice", "house")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, m.Approve(punk, "alice", "house"))
		ok, _ = m.IsApproved(ctx, punk, "alice", "house")
		assert.True(t, ok)

		ok, _ = m.IsApproved(ctx, punk, "bob", "house")
		assert.False(t, ok)
	})

	t.Run("should honour operator-wide approval", func(t *testing.T) {
		m := NewMemory("house")
		m.Mint(punk, "alice")
		m.SetApprovalForAll("alice", "house", true)

		ok, _ := m.IsApproved(ctx, punk, "alice", "house")
		assert.True(t, ok)

		m.SetApprovalForAll("alice", "house", false)
		ok, _ = m.IsApproved(ctx, punk, "alice", "house")
		assert.False(t, ok)
	})

	t.Run("should not mint twice", func(t *testing.T) {
		m := NewMemory("house")
		m.Mint(punk, "alice")
		assert.ErrorIs(t, m.Mint(punk, "bob"), ErrAlreadyMinted)
	})
}

func TestMemoryCustody(t *testing.T) {
	ctx := context.Background()

	t.Run("should move custody in and out exactly once", func(t *testing.T) {
		m := NewMemory("house")
		m.Mint(punk, "alice")

		require.NoError(t, m.Lock(ctx, punk, "alice"))
		owner, _ := m.OwnerOf(punk)
		assert.Equal(t, "house", owner)

		assert.ErrorIs(t, m.Lock(ctx, punk, "alice"), ErrNotAssetOwner)

		require.NoError(t, m.ReleaseTo(ctx, punk, "bob"))
		owner, _ = m.OwnerOf(punk)
		assert.Equal(t, "bob", owner)

		assert.ErrorIs(t, m.ReleaseTo(ctx, punk, "carol"), ErrNotInCustody)

		locks, releases := m.Counts()
		assert.Equal(t, 1, locks)
		assert.Equal(t, 1, releases)
	})

	t.Run("should surface injected failures once", func(t *testing.T) {
		m := NewMemory("house")
		m.Mint(punk, "alice")
		m.FailNext(errors.New("rpc down"))

		assert.Error(t, m.Lock(ctx, punk, "alice"))
		assert.NoError(t, m.Lock(ctx, punk, "alice"))
	})
}

func TestWithBreaker(t *testing.T) {
	ctx := context.Background()

	t.Run("should report backend errors as adapter failures", func(t *testing.T) {
		m := NewMemory("house")
		m.Mint(punk, "alice")
		g := WithBreaker(m, circuit.Config{Name: "assets", MaxFailures: 1, Timeout: time.Hour}, time.Second)

		m.FailNext(errors.New("rpc down"))
		err := g.Lock(ctx, punk, "alice")
		assert.ErrorIs(t, err, apperr.ErrAdapterFailure)

		err = g.Lock(ctx, punk, "alice")
		assert.ErrorIs(t, err, circuit.ErrCircuitOpen)
	})

	t.Run("should pass domain errors through untouched", func(t *testing.T) {
		m := NewMemory("house")
		g := WithBreaker(m, circuit.Config{Name: "assets", MaxFailures: 1}, 0)

		err := g.ReleaseTo(ctx, punk, "bob")
		assert.ErrorIs(t, err, ErrUnknownAsset)
		assert.Equal(t, circuit.StateClosed, g.Breaker().State())
	})
}
