package assets

import (
	"context"
	"fmt"
	"sync"
)

type item struct {
	owner     string
	approved  string
	inCustody bool
}

type operatorKey struct {
	owner    string
	operator string
}

// Memory is an in-process registry with per-item approvals and
// owner-wide operator approvals.
type Memory struct {
	mu        sync.Mutex
	items     map[Ref]*item
	operators map[operatorKey]bool
	custodian string
	locks     int
	releases  int
	failNext  error
}

// NewMemory creates a registry whose locked assets are held by custodian.
func NewMemory(custodian string) *Memory {
	return &Memory{
		items:     make(map[Ref]*item),
		operators: make(map[operatorKey]bool),
		custodian: custodian,
	}
}

// Mint creates ref owned by owner.
func (m *Memory) Mint(ref Ref, owner string) error {
	if !ref.Valid() || owner == "" {
		return ErrInvalidAssetID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[ref]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyMinted, ref)
	}
	m.items[ref] = &item{owner: owner}
	return nil
}

// Approve lets operator move one item.
func (m *Memory) Approve(ref Ref, owner, operator string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[ref]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, ref)
	}
	if it.owner != owner {
		return ErrNotAssetOwner
	}
	it.approved = operator
	return nil
}

// SetApprovalForAll lets operator move every item of owner.
func (m *Memory) SetApprovalForAll(owner, operator string, approved bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := operatorKey{owner, operator}
	if approved {
		m.operators[key] = true
	} else {
		delete(m.operators, key)
	}
}

// OwnerOf returns the current holder, which is the custodian while locked.
func (m *Memory) OwnerOf(ref Ref) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[ref]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAsset, ref)
	}
	if it.inCustody {
		return m.custodian, nil
	}
	return it.owner, nil
}

// Counts returns how many locks and releases succeeded.
func (m *Memory) Counts() (locks, releases int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locks, m.releases
}

// FailNext makes the next Lock or ReleaseTo return err.
func (m *Memory) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

func (m *Memory) IsApproved(_ context.Context, ref Ref, owner, operator string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[ref]
	if !ok {
		return false, nil
	}
	if it.inCustody || it.owner != owner {
		return false, nil
	}
	return it.approved == operator || m.operators[operatorKey{owner, operator}], nil
}

func (m *Memory) Lock(ctx context.Context, ref Ref, owner string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	it, ok := m.items[ref]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, ref)
	}
	if it.inCustody || it.owner != owner {
		return fmt.Errorf("%w: %s", ErrNotAssetOwner, ref)
	}
	it.inCustody = true
	it.approved = ""
	m.locks++
	return nil
}

func (m *Memory) ReleaseTo(ctx context.Context, ref Ref, recipient string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	it, ok := m.items[ref]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, ref)
	}
	if !it.inCustody {
		return fmt.Errorf("%w: %s", ErrNotInCustody, ref)
	}
	it.inCustody = false
	it.owner = recipient
	m.releases++
	return nil
}

func (m *Memory) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}
