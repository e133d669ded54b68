package assets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/terminal-bench/nftauction/internal/apperr"
	"github.com/terminal-bench/nftauction/pkg/circuit"
)

// Guarded wraps a Registry with a circuit breaker and a per-call timeout.
type Guarded struct {
	next    Registry
	breaker *circuit.Breaker
	timeout time.Duration
}

func WithBreaker(next Registry, cfg circuit.Config, timeout time.Duration) *Guarded {
	cfg.IsFailure = func(err error) bool {
		if err == nil {
			return false
		}
		return apperr.KindOf(err) == nil || errors.Is(err, apperr.ErrAdapterFailure)
	}
	return &Guarded{
		next:    next,
		breaker: circuit.NewBreaker(cfg),
		timeout: timeout,
	}
}

func (g *Guarded) Breaker() *circuit.Breaker {
	return g.breaker
}

func (g *Guarded) IsApproved(ctx context.Context, ref Ref, owner, operator string) (bool, error) {
	var approved bool
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		approved, err = g.next.IsApproved(ctx, ref, owner, operator)
		return err
	})
	return approved, err
}

func (g *Guarded) Lock(ctx context.Context, ref Ref, owner string) error {
	return g.call(ctx, func(ctx context.Context) error {
		return g.next.Lock(ctx, ref, owner)
	})
}

func (g *Guarded) ReleaseTo(ctx context.Context, ref Ref, recipient string) error {
	return g.call(ctx, func(ctx context.Context) error {
		return g.next.ReleaseTo(ctx, ref, recipient)
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
		return fmt.Errorf("%w: asset registry: %w", apperr.ErrAdapterFailure, err)
	}
	return err
}
