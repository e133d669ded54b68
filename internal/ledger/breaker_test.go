package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/terminal-bench/nftauction/internal/apperr"
	"github.com/terminal-bench/nftauction/pkg/circuit"
)

type failingLedger struct {
	Ledger
	err error
}

func (f failingLedger) Escrow(context.Context, string, string, decimal.Decimal) error {
	return f.err
}

func TestWithBreaker(t *testing.T) {
	ctx := context.Background()

	t.Run("should classify backend errors as adapter failures", func(t *testing.T) {
		g := WithBreaker(failingLedger{err: errors.New("connection refused")}, circuit.Config{Name: "ledger", MaxFailures: 2}, time.Second)

		err := g.Escrow(ctx, "alice", Native, units(1))
		assert.ErrorIs(t, err, apperr.ErrAdapterFailure)
		assert.Equal(t, 1, g.Breaker().Failures())
	})

	t.Run("should open after repeated backend failures", func(t *testing.T) {
		g := WithBreaker(failingLedger{err: errors.New("timeout")}, circuit.Config{Name: "ledger", MaxFailures: 2, Timeout: time.Hour}, 0)

		g.Escrow(ctx, "alice", Native, units(1))
		g.Escrow(ctx, "alice", Native, units(1))

		err := g.Escrow(ctx, "alice", Native, units(1))
		assert.ErrorIs(t, err, circuit.ErrCircuitOpen)
		assert.ErrorIs(t, err, apperr.ErrAdapterFailure)
	})

	t.Run("should not count business rejections", func(t *testing.T) {
		m := NewMemory()
		g := WithBreaker(m, circuit.Config{Name: "ledger", MaxFailures: 1}, time.Second)

		err := g.Escrow(ctx, "alice", Native, units(1))
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.Equal(t, circuit.StateClosed, g.Breaker().State())

		m.Deposit("alice", Native, units(1))
		assert.NoError(t, g.Escrow(ctx, "alice", Native, units(1)))
	})
}
