// Package fees holds the protocol fee configuration applied at settlement.
package fees

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/terminal-bench/nftauction/internal/apperr"
	"github.com/terminal-bench/nftauction/pkg/fixedpoint"
)

var (
	ErrFeeTooHigh       = apperr.New(apperr.ErrValidation, "fee too high")
	ErrInvalidFee       = apperr.New(apperr.ErrValidation, "invalid fee")
	ErrInvalidRecipient = apperr.New(apperr.ErrValidation, "invalid fee recipient")
	ErrNotOwner         = apperr.New(apperr.ErrAuthorization, "caller is not the owner")
	ErrAlreadyMigrated  = apperr.New(apperr.ErrState, "fee config already migrated")
)

// Config versions.
const (
	VersionFlat   = 1
	VersionTiered = 2
)

// Tiers is the dynamic fee schedule introduced by version 2. The effective
// percent for an amount is MinPercent plus Step for every whole Threshold in
// the amount, never exceeding MaxPercent.
type Tiers struct {
	MinPercent decimal.Decimal `json:"min_percent"`
	MaxPercent decimal.Decimal `json:"max_percent"`
	Threshold  decimal.Decimal `json:"threshold"`
	Step       decimal.Decimal `json:"step"`
}

// Config is an immutable snapshot of the fee policy. Percents are WAD-scaled.
type Config struct {
	Version   int             `json:"version"`
	Percent   decimal.Decimal `json:"percent"`
	Recipient string          `json:"recipient"`
	Cap       decimal.Decimal `json:"cap"`
	Tiers     *Tiers          `json:"tiers,omitempty"`
}

// Quote is the fee split for one settlement amount.
type Quote struct {
	Version   int
	Percent   decimal.Decimal
	Recipient string
	Fee       decimal.Decimal
	Proceeds  decimal.Decimal
}

// Policy is the process-wide fee configuration. Writes are owner-only and
// replace the whole snapshot at once.
type Policy struct {
	owner string

	mu  sync.RWMutex
	cfg Config
}

// New validates the initial configuration.
func New(owner string, percent decimal.Decimal, recipient string, cap decimal.Decimal) (*Policy, error) {
	if cap.IsNegative() || cap.GreaterThan(fixedpoint.WAD) {
		return nil, fmt.Errorf("%w: cap %s outside [0, 100%%]", ErrInvalidFee, cap)
	}
	cfg := Config{Version: VersionFlat, Cap: cap}
	if err := validatePercent(percent, cap); err != nil {
		return nil, err
	}
	if recipient == "" {
		return nil, ErrInvalidRecipient
	}
	cfg.Percent = percent
	cfg.Recipient = recipient
	return &Policy{owner: owner, cfg: cfg}, nil
}

// Owner returns the identity allowed to change the policy.
func (p *Policy) Owner() string {
	return p.owner
}

// Config returns the current snapshot.
func (p *Policy) Config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// SetFee replaces the flat percent and the recipient together.
func (p *Policy) SetFee(caller string, percent decimal.Decimal, recipient string) (Config, error) {
	if caller != p.owner {
		return Config{}, ErrNotOwner
	}
	if recipient == "" {
		return Config{}, ErrInvalidRecipient
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := validatePercent(percent, p.cfg.Cap); err != nil {
		return Config{}, err
	}
	next := p.cfg
	next.Percent = percent
	next.Recipient = recipient
	p.cfg = next
	return next, nil
}

// Migrate moves a version 1 policy to the tiered version 2 schedule.
func (p *Policy) Migrate(caller string, tiers Tiers) (Config, error) {
	if caller != p.owner {
		return Config{}, ErrNotOwner
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg.Version != VersionFlat {
		return Config{}, ErrAlreadyMigrated
	}
	if err := validatePercent(tiers.MinPercent, p.cfg.Cap); err != nil {
		return Config{}, err
	}
	if err := validatePercent(tiers.MaxPercent, p.cfg.Cap); err != nil {
		return Config{}, err
	}
	if tiers.MaxPercent.LessThan(tiers.MinPercent) {
		return Config{}, fmt.Errorf("%w: max percent below min percent", ErrInvalidFee)
	}
	if !tiers.Threshold.IsPositive() || tiers.Step.IsNegative() {
		return Config{}, fmt.Errorf("%w: threshold must be positive and step non-negative", ErrInvalidFee)
	}

	next := p.cfg
	next.Version = VersionTiered
	next.Tiers = &tiers
	p.cfg = next
	return next, nil
}

// Apply splits amount into fee and proceeds under the current snapshot.
func (p *Policy) Apply(amount decimal.Decimal) Quote {
	return p.Config().Apply(amount)
}

// Apply splits amount into fee and proceeds. The fee truncates toward zero
// and the remainder stays with the seller, so Fee+Proceeds == amount.
func (c Config) Apply(amount decimal.Decimal) Quote {
	percent := c.PercentFor(amount)
	fee, _ := fixedpoint.MulDiv(amount, percent, fixedpoint.WAD)
	return Quote{
		Version:   c.Version,
		Percent:   percent,
		Recipient: c.Recipient,
		Fee:       fee,
		Proceeds:  amount.Sub(fee),
	}
}

// PercentFor returns the effective WAD-scaled percent for amount.
func (c Config) PercentFor(amount decimal.Decimal) decimal.Decimal {
	if c.Version != VersionTiered || c.Tiers == nil {
		return c.Percent
	}
	t := c.Tiers
	steps, _ := amount.QuoRem(t.Threshold, 0)
	percent := t.MinPercent.Add(steps.Mul(t.Step))
	if percent.GreaterThan(t.MaxPercent) {
		return t.MaxPercent
	}
	return percent
}

func validatePercent(percent, cap decimal.Decimal) error {
	if percent.IsNegative() || !percent.IsInteger() {
		return fmt.Errorf("%w: percent must be a non-negative WAD-scaled integer", ErrInvalidFee)
	}
	if percent.GreaterThan(cap) {
		return ErrFeeTooHigh
	}
	return nil
}
