package auction

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/terminal-bench/nftauction/internal/assets"
)

// Status is the lifecycle state of an auction.
type Status int

const (
	StatusCreated Status = iota
	StatusActive
	StatusSettled
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusActive:
		return "active"
	case StatusSettled:
		return "settled"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is final.
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusCancelled
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus accepts a status name, case-insensitively.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(s) {
	case "created":
		return StatusCreated, nil
	case "active":
		return StatusActive, nil
	case "settled":
		return StatusSettled, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	}
	return 0, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, s)
}

// SettlementKind tells which way an auction ended.
type SettlementKind string

const (
	KindSettled   SettlementKind = "settled"
	KindCancelled SettlementKind = "cancelled"
)

// Settlement is the frozen outcome of an auction together with the payout
// steps already carried out. Amounts never change once recorded.
type Settlement struct {
	Kind         SettlementKind  `json:"kind"`
	FinalPrice   decimal.Decimal `json:"final_price"`
	Proceeds     decimal.Decimal `json:"proceeds"`
	Fee          decimal.Decimal `json:"fee"`
	FeePercent   decimal.Decimal `json:"fee_percent"`
	FeeRecipient string          `json:"fee_recipient,omitempty"`
	FeeVersion   int             `json:"fee_version,omitempty"`
	Winner       string          `json:"winner,omitempty"`

	SellerPaid    bool       `json:"seller_paid"`
	FeePaid       bool       `json:"fee_paid"`
	AssetReleased bool       `json:"asset_released"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Done reports whether every step has been carried out.
func (s *Settlement) Done() bool {
	if s.Kind == KindCancelled {
		return s.AssetReleased
	}
	return s.SellerPaid && s.FeePaid && s.AssetReleased
}

// Auction is one listing.
type Auction struct {
	ID            uint64          `json:"id"`
	Seller        string          `json:"seller"`
	Asset         assets.Ref      `json:"asset"`
	Currency      string          `json:"currency"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
	HighestBid    decimal.Decimal `json:"highest_bid"`
	HighestBidder string          `json:"highest_bidder,omitempty"`
	BidCount      int             `json:"bid_count"`
	Status        Status          `json:"status"`
	Settlement    *Settlement     `json:"settlement,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// HasBids reports whether any bid was accepted.
func (a *Auction) HasBids() bool {
	return a.HighestBidder != ""
}

// Open reports whether a would accept a bid at now.
func (a *Auction) Open(now time.Time) bool {
	return a.Status == StatusActive && a.Settlement == nil && now.Before(a.EndTime)
}

// Clone returns a deep copy.
func (a *Auction) Clone() *Auction {
	c := *a
	if a.Settlement != nil {
		s := *a.Settlement
		if s.CompletedAt != nil {
			t := *s.CompletedAt
			s.CompletedAt = &t
		}
		c.Settlement = &s
	}
	return &c
}

// Filter selects auctions. Zero fields match everything.
type Filter struct {
	Seller string
	Status *Status
}

func (f Filter) Match(a *Auction) bool {
	if f.Seller != "" && a.Seller != f.Seller {
		return false
	}
	if f.Status != nil && a.Status != *f.Status {
		return false
	}
	return true
}
