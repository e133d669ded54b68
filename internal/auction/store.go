package auction

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store persists auction records. Ids come from NextID, strictly increasing
// from 1 and never reused. Implementations hand out copies.
type Store interface {
	NextID(ctx context.Context) (uint64, error)
	Insert(ctx context.Context, a *Auction) error
	Update(ctx context.Context, a *Auction) error
	Get(ctx context.Context, id uint64) (*Auction, error)
	List(ctx context.Context, f Filter) ([]*Auction, error)
	Count(ctx context.Context) (uint64, error)
}

// MemoryStore keeps auctions in a map.
type MemoryStore struct {
	mu       sync.RWMutex
	auctions map[uint64]*Auction
	lastID   uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{auctions: make(map[uint64]*Auction)}
}

func (s *MemoryStore) NextID(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastID++
	return s.lastID, nil
}

func (s *MemoryStore) Insert(_ context.Context, a *Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		return fmt.Errorf("%w: auction id must be set", ErrInvalidRequest)
	}
	if _, ok := s.auctions[a.ID]; ok {
		return fmt.Errorf("auction %d already exists", a.ID)
	}
	s.auctions[a.ID] = a.Clone()
	return nil
}

func (s *MemoryStore) Update(_ context.Context, a *Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.auctions[a.ID]; !ok {
		return fmt.Errorf("%w: %d", ErrAuctionNotFound, a.ID)
	}
	s.auctions[a.ID] = a.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uint64) (*Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.auctions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrAuctionNotFound, id)
	}
	return a.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]*Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Auction, 0, len(s.auctions))
	for _, a := range s.auctions {
		if f.Match(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.auctions)), nil
}
