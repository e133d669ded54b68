// Package idempotency remembers responses keyed by client-supplied request
// keys so replayed requests do not execute twice.
package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrInProgress is returned by Begin when another request holds the key.
var ErrInProgress = errors.New("request with this idempotency key is in progress")

// Store reserves keys and records the response produced under them.
type Store interface {
	// Begin reserves key. If a response was already recorded it is returned
	// with fresh == false.
	Begin(ctx context.Context, key string) (cached []byte, fresh bool, err error)
	// Complete records the response for a reserved key.
	Complete(ctx context.Context, key string, response []byte) error
	// Abort releases a reservation so the request can be retried.
	Abort(ctx context.Context, key string) error
}

type entry struct {
	value     []byte
	pending   bool
	expiresAt time.Time
}

// Memory is a process-local Store with ttl expiry.
type Memory struct {
	mu    sync.Mutex
	items map[string]entry
	ttl   time.Duration
	now   func() time.Time
}

// NewMemory returns a store whose entries expire after ttl.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		items: make(map[string]entry),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (m *Memory) Begin(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if item, ok := m.items[key]; ok && now.Before(item.expiresAt) {
		if item.pending {
			return nil, false, ErrInProgress
		}
		return item.value, false, nil
	}
	m.items[key] = entry{pending: true, expiresAt: now.Add(m.ttl)}
	return nil, true, nil
}

func (m *Memory) Complete(_ context.Context, key string, response []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[key] = entry{value: response, expiresAt: m.now().Add(m.ttl)}
	return nil
}

func (m *Memory) Abort(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if item, ok := m.items[key]; ok && item.pending {
		delete(m.items, key)
	}
	return nil
}
