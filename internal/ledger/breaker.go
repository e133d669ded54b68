package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/terminal-bench/nftauction/internal/apperr"
	"github.com/terminal-bench/nftauction/pkg/circuit"
)

// Guarded wraps a Ledger with a circuit breaker and a per-call timeout.
type Guarded struct {
	next    Ledger
	breaker *circuit.Breaker
	timeout time.Duration
}

// WithBreaker guards next. Business rejections such as an insufficient
// balance do not count as backend failures.
func WithBreaker(next Ledger, cfg circuit.Config, timeout time.Duration) *Guarded {
	cfg.IsFailure = isBackendFailure
	return &Guarded{
		next:    next,
		breaker: circuit.NewBreaker(cfg),
		timeout: timeout,
	}
}

// Breaker exposes the breaker for health reporting.
func (g *Guarded) Breaker() *circuit.Breaker {
	return g.breaker
}

func (g *Guarded) Allowance(ctx context.Context, owner, currency string) (decimal.Decimal, error) {
	var allowance decimal.Decimal
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		allowance, err = g.next.Allowance(ctx, owner, currency)
		return err
	})
	return allowance, err
}

func (g *Guarded) Escrow(ctx context.Context, payer, currency string, amount decimal.Decimal) error {
	return g.call(ctx, func(ctx context.Context) error {
		return g.next.Escrow(ctx, payer, currency, amount)
	})
}

func (g *Guarded) Refund(ctx context.Context, payee, currency string, amount decimal.Decimal) error {
	return g.call(ctx, func(ctx context.Context) error {
		return g.next.Refund(ctx, payee, currency, amount)
	})
}

func (g *Guarded) Pay(ctx context.Context, payee, currency string, amount decimal.Decimal) error {
	return g.call(ctx, func(ctx context.Context) error {
		return g.next.Pay(ctx, payee, currency, amount)
	})
}

func (g *Guarded) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	err := g.breaker.Execute(ctx, func() error { return fn(ctx) })
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) == nil {
		return fmt.Errorf("%w: ledger: %w", apperr.ErrAdapterFailure, err)
	}
	return err
}

func isBackendFailure(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, apperr.ErrValidation) && !errors.Is(err, ErrPayeeRejected)
}
