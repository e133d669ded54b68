package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type account struct {
	owner    string
	currency string
}

// Memory is an in-process ledger. Blocked parties reject incoming funds,
// which is how tests model recipients that cannot receive.
type Memory struct {
	mu         sync.Mutex
	balances   map[account]decimal.Decimal
	allowances map[account]decimal.Decimal
	escrow     map[string]decimal.Decimal
	blocked    map[string]bool
	entries    []Entry
	now        func() time.Time
}

// NewMemory creates an empty ledger.
func NewMemory() *Memory {
	return &Memory{
		balances:   make(map[account]decimal.Decimal),
		allowances: make(map[account]decimal.Decimal),
		escrow:     make(map[string]decimal.Decimal),
		blocked:    make(map[string]bool),
		now:        time.Now,
	}
}

// Deposit credits owner out of thin air.
func (m *Memory) Deposit(owner, currency string, amount decimal.Decimal) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := account{owner, currency}
	m.balances[key] = m.balances[key].Add(amount)
	m.record(EntryDeposit, owner, currency, amount)
	return nil
}

// Approve sets the amount of currency the escrow may take from owner.
func (m *Memory) Approve(owner, currency string, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowances[account{owner, currency}] = amount
}

// Block makes party reject refunds and payouts until Unblock.
func (m *Memory) Block(party string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked[party] = true
}

func (m *Memory) Unblock(party string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blocked, party)
}

// Balance returns owner's spendable balance.
func (m *Memory) Balance(owner, currency string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account{owner, currency}]
}

// Escrowed returns the total held in escrow for currency.
func (m *Memory) Escrowed(currency string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.escrow[currency]
}

// Entries returns every movement in order.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

func (m *Memory) Allowance(_ context.Context, owner, currency string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowances[account{owner, currency}], nil
}

func (m *Memory) Escrow(ctx context.Context, payer, currency string, amount decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := account{payer, currency}
	if currency != Native && m.allowances[key].LessThan(amount) {
		return fmt.Errorf("%w: %s approved %s of %s, needs %s",
			ErrInsufficientAllowance, payer, m.allowances[key], currency, amount)
	}
	if m.balances[key].LessThan(amount) {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s",
			ErrInsufficientBalance, payer, m.balances[key], currency, amount)
	}

	if currency != Native {
		m.allowances[key] = m.allowances[key].Sub(amount)
	}
	m.balances[key] = m.balances[key].Sub(amount)
	m.escrow[currency] = m.escrow[currency].Add(amount)
	m.record(EntryEscrow, payer, currency, amount)
	return nil
}

func (m *Memory) Refund(ctx context.Context, payee, currency string, amount decimal.Decimal) error {
	return m.release(ctx, EntryRefund, payee, currency, amount)
}

func (m *Memory) Pay(ctx context.Context, payee, currency string, amount decimal.Decimal) error {
	return m.release(ctx, EntryPay, payee, currency, amount)
}

func (m *Memory) release(ctx context.Context, kind, payee, currency string, amount decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.blocked[payee] {
		return fmt.Errorf("%w: %s", ErrPayeeRejected, payee)
	}
	if m.escrow[currency].LessThan(amount) {
		return fmt.Errorf("%w: %s of %s held, %s requested",
			ErrInsufficientEscrow, m.escrow[currency], currency, amount)
	}

	key := account{payee, currency}
	m.escrow[currency] = m.escrow[currency].Sub(amount)
	m.balances[key] = m.balances[key].Add(amount)
	m.record(kind, payee, currency, amount)
	return nil
}

func (m *Memory) record(kind, party, currency string, amount decimal.Decimal) {
	m.entries = append(m.entries, Entry{
		ID:        uuid.New(),
		Type:      kind,
		Party:     party,
		Currency:  currency,
		Amount:    amount,
		CreatedAt: m.now(),
	})
}
