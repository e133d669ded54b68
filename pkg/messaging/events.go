package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Subjects for auction lifecycle events.
const (
	SubjectAuctionCreated   = "auction.created"
	SubjectBidPlaced        = "auction.bid_placed"
	SubjectBidRefunded      = "auction.bid_refunded"
	SubjectAuctionSettled   = "auction.settled"
	SubjectAuctionCancelled = "auction.cancelled"

	// SubjectAuctionAll matches every auction subject.
	SubjectAuctionAll = "auction.>"
)

// Publisher is implemented by anything that can deliver events.
type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
}

// Fanout delivers each event to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, subject string, data interface{}) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, subject, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, string, interface{}) error { return nil }

// Event is the base event structure
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	AuctionID uint64          `json:"auction_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Metadata  EventMetadata   `json:"metadata"`
}

// EventMetadata contains event metadata
type EventMetadata struct {
	CorrelationID string `json:"correlation_id,omitempty"`
	Actor         string `json:"actor,omitempty"`
	Source        string `json:"source"`
}

// AuctionCreatedEvent is published when a listing goes live.
type AuctionCreatedEvent struct {
	Seller        string    `json:"seller"`
	AssetRegistry string    `json:"asset_registry"`
	ItemID        string    `json:"item_id"`
	Currency      string    `json:"currency"`
	StartingPrice string    `json:"starting_price"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
}

// BidPlacedEvent is published for every accepted bid.
type BidPlacedEvent struct {
	Bidder   string `json:"bidder"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	BidCount int    `json:"bid_count"`
}

// BidRefundedEvent is published when a displaced bidder is refunded.
type BidRefundedEvent struct {
	Bidder   string `json:"bidder"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// AuctionSettledEvent carries the final price and payout split.
type AuctionSettledEvent struct {
	Winner       string `json:"winner"`
	FinalPrice   string `json:"final_price"`
	Proceeds     string `json:"proceeds"`
	Fee          string `json:"fee"`
	FeeRecipient string `json:"fee_recipient"`
	Currency     string `json:"currency"`
}

// AuctionCancelledEvent is published when an unbid auction returns the asset.
type AuctionCancelledEvent struct {
	Seller string `json:"seller"`
	Reason string `json:"reason"`
}

// NewEvent creates a new event
func NewEvent(eventType string, auctionID uint64, data interface{}, metadata EventMetadata) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:        uuid.New(),
		Type:      eventType,
		AuctionID: auctionID,
		Timestamp: time.Now().UTC(),
		Data:      dataBytes,
		Metadata:  metadata,
	}, nil
}

// ParseEventData parses event data into the specified type
func ParseEventData[T any](event *Event) (*T, error) {
	var data T
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return nil, err
	}
	return &data, nil
}
