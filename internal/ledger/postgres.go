package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_accounts (
	owner      TEXT NOT NULL,
	currency   TEXT NOT NULL,
	balance    NUMERIC(78, 0) NOT NULL DEFAULT 0,
	version    INTEGER NOT NULL DEFAULT 1,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (owner, currency)
);
CREATE TABLE IF NOT EXISTS ledger_allowances (
	owner    TEXT NOT NULL,
	currency TEXT NOT NULL,
	amount   NUMERIC(78, 0) NOT NULL,
	PRIMARY KEY (owner, currency)
);
CREATE TABLE IF NOT EXISTS ledger_entries (
	id         UUID PRIMARY KEY,
	type       TEXT NOT NULL,
	direction  TEXT NOT NULL,
	owner      TEXT NOT NULL,
	currency   TEXT NOT NULL,
	amount     NUMERIC(78, 0) NOT NULL,
	balance    NUMERIC(78, 0) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ledger_entries_owner_idx ON ledger_entries (owner, currency);
`

// Postgres is a double-entry ledger. Escrowed funds sit in the account of
// the engine identity, so every movement is a transfer between two accounts
// with a debit and a credit entry.
type Postgres struct {
	db     *sql.DB
	escrow string
	logger *slog.Logger
}

// NewPostgres creates a ledger whose escrow account belongs to escrowOwner.
func NewPostgres(db *sql.DB, escrowOwner string, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{db: db, escrow: escrowOwner, logger: logger.With("component", "ledger")}
}

// EnsureSchema creates the ledger tables if missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return nil
}

// Deposit credits owner from outside the system.
func (p *Postgres) Deposit(ctx context.Context, owner, currency string, amount decimal.Decimal) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	return p.inTx(ctx, func(tx *sql.Tx) error {
		balance, err := p.lockAccount(ctx, tx, owner, currency)
		if err != nil {
			return err
		}
		return p.apply(ctx, tx, EntryDeposit, "credit", owner, currency, amount, balance.Add(amount))
	})
}

// Approve sets the escrow allowance of owner for a token.
func (p *Postgres) Approve(ctx context.Context, owner, currency string, amount decimal.Decimal) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO ledger_allowances (owner, currency, amount) VALUES ($1, $2, $3)
		 ON CONFLICT (owner, currency) DO UPDATE SET amount = EXCLUDED.amount`,
		owner, currency, amount,
	)
	if err != nil {
		return fmt.Errorf("failed to set allowance: %w", err)
	}
	return nil
}

// Balance returns the balance of owner, zero for unknown accounts.
func (p *Postgres) Balance(ctx context.Context, owner, currency string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := p.db.QueryRowContext(ctx,
		`SELECT balance FROM ledger_accounts WHERE owner = $1 AND currency = $2`,
		owner, currency,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

func (p *Postgres) Allowance(ctx context.Context, owner, currency string) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := p.db.QueryRowContext(ctx,
		`SELECT amount FROM ledger_allowances WHERE owner = $1 AND currency = $2`,
		owner, currency,
	).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get allowance: %w", err)
	}
	return amount, nil
}

func (p *Postgres) Escrow(ctx context.Context, payer, currency string, amount decimal.Decimal) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	return p.inTx(ctx, func(tx *sql.Tx) error {
		if currency != Native {
			if err := p.consumeAllowance(ctx, tx, payer, currency, amount); err != nil {
				return err
			}
		}
		return p.transfer(ctx, tx, EntryEscrow, payer, p.escrow, currency, amount)
	})
}

func (p *Postgres) Refund(ctx context.Context, payee, currency string, amount decimal.Decimal) error {
	return p.release(ctx, EntryRefund, payee, currency, amount)
}

func (p *Postgres) Pay(ctx context.Context, payee, currency string, amount decimal.Decimal) error {
	return p.release(ctx, EntryPay, payee, currency, amount)
}

func (p *Postgres) release(ctx context.Context, kind, payee, currency string, amount decimal.Decimal) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	return p.inTx(ctx, func(tx *sql.Tx) error {
		err := p.transfer(ctx, tx, kind, p.escrow, payee, currency, amount)
		if errors.Is(err, ErrInsufficientBalance) {
			return fmt.Errorf("%w: %v", ErrInsufficientEscrow, err)
		}
		return err
	})
}

func (p *Postgres) consumeAllowance(ctx context.Context, tx *sql.Tx, owner, currency string, amount decimal.Decimal) error {
	var allowed decimal.Decimal
	err := tx.QueryRowContext(ctx,
		`SELECT amount FROM ledger_allowances WHERE owner = $1 AND currency = $2 FOR UPDATE`,
		owner, currency,
	).Scan(&allowed)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to lock allowance: %w", err)
	}
	if allowed.LessThan(amount) {
		return fmt.Errorf("%w: %s approved %s of %s, needs %s",
			ErrInsufficientAllowance, owner, allowed, currency, amount)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE ledger_allowances SET amount = $1 WHERE owner = $2 AND currency = $3`,
		allowed.Sub(amount), owner, currency,
	)
	if err != nil {
		return fmt.Errorf("failed to update allowance: %w", err)
	}
	return nil
}

// transfer moves amount between two accounts. Rows are locked in key order
// so concurrent transfers in opposite directions cannot deadlock.
func (p *Postgres) transfer(ctx context.Context, tx *sql.Tx, kind, from, to, currency string, amount decimal.Decimal) error {
	first, second := from, to
	if second < first {
		first, second = second, first
	}
	balances := make(map[string]decimal.Decimal, 2)
	for _, owner := range []string{first, second} {
		balance, err := p.lockAccount(ctx, tx, owner, currency)
		if err != nil {
			return err
		}
		balances[owner] = balance
	}

	if balances[from].LessThan(amount) {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s",
			ErrInsufficientBalance, from, balances[from], currency, amount)
	}

	if err := p.apply(ctx, tx, kind, "debit", from, currency, amount, balances[from].Sub(amount)); err != nil {
		return err
	}
	return p.apply(ctx, tx, kind, "credit", to, currency, amount, balances[to].Add(amount))
}

func (p *Postgres) lockAccount(ctx context.Context, tx *sql.Tx, owner, currency string) (decimal.Decimal, error) {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_accounts (owner, currency) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		owner, currency,
	)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to open account: %w", err)
	}

	var balance decimal.Decimal
	err = tx.QueryRowContext(ctx,
		`SELECT balance FROM ledger_accounts WHERE owner = $1 AND currency = $2 FOR UPDATE`,
		owner, currency,
	).Scan(&balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to lock account: %w", err)
	}
	return balance, nil
}

func (p *Postgres) apply(ctx context.Context, tx *sql.Tx, kind, direction, owner, currency string, amount, newBalance decimal.Decimal) error {
	now := time.Now().UTC()
	_, err := tx.ExecContext(ctx,
		`UPDATE ledger_accounts SET balance = $1, updated_at = $2, version = version + 1
		 WHERE owner = $3 AND currency = $4`,
		newBalance, now, owner, currency,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (id, type, direction, owner, currency, amount, balance, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New(), kind, direction, owner, currency, amount, newBalance, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create entry: %w", err)
	}
	return nil
}

func (p *Postgres) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		// A failed commit may still have been applied by the server.
		p.logger.Error("ledger commit failed, outcome unknown", "error", err)
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}
