// Package ledger moves currency between parties and the auction escrow.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/terminal-bench/nftauction/internal/apperr"
)

// Native identifies the chain's native currency. Escrowing it needs no
// allowance.
const Native = "native"

var (
	ErrInvalidAmount         = apperr.New(apperr.ErrValidation, "amount must be a positive integer")
	ErrInsufficientAllowance = apperr.New(apperr.ErrValidation, "insufficient allowance")
	ErrInsufficientBalance   = apperr.New(apperr.ErrValidation, "insufficient balance")
	ErrInsufficientEscrow    = apperr.New(apperr.ErrAdapterFailure, "escrow does not hold enough funds")
	ErrPayeeRejected         = apperr.New(apperr.ErrAdapterFailure, "payee rejected transfer")
)

// Ledger is what the auction engine needs from a currency backend.
type Ledger interface {
	// Allowance is how much of currency owner has authorized the escrow to take.
	Allowance(ctx context.Context, owner, currency string) (decimal.Decimal, error)
	// Escrow moves amount from payer into escrow. Token escrows consume allowance.
	Escrow(ctx context.Context, payer, currency string, amount decimal.Decimal) error
	// Refund returns escrowed funds to a displaced or compensated bidder.
	Refund(ctx context.Context, payee, currency string, amount decimal.Decimal) error
	// Pay releases escrowed funds as a settlement payout.
	Pay(ctx context.Context, payee, currency string, amount decimal.Decimal) error
}

// Entry types.
const (
	EntryEscrow  = "escrow"
	EntryRefund  = "refund"
	EntryPay     = "pay"
	EntryDeposit = "deposit"
)

// Entry is one audited movement.
type Entry struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Party     string          `json:"party"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

func validAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.IsInteger()
}
