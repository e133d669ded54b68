package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	subjects []string
	err      error
}

func (r *recorder) Publish(_ context.Context, subject string, _ interface{}) error {
	r.subjects = append(r.subjects, subject)
	return r.err
}

func TestNewEvent(t *testing.T) {
	t.Run("should wrap typed payloads", func(t *testing.T) {
		event, err := NewEvent(SubjectBidPlaced, 7, BidPlacedEvent{Bidder: "alice", Amount: "2", BidCount: 1},
			EventMetadata{Source: "auction-engine", Actor: "alice"})
		require.NoError(t, err)

		assert.Equal(t, SubjectBidPlaced, event.Type)
		assert.Equal(t, uint64(7), event.AuctionID)
		assert.NotEqual(t, uuid.Nil, event.ID)

		data, err := ParseEventData[BidPlacedEvent](event)
		require.NoError(t, err)
		assert.Equal(t, "alice", data.Bidder)
		assert.Equal(t, 1, data.BidCount)
	})
}

func TestFanout(t *testing.T) {
	t.Run("should deliver to every publisher", func(t *testing.T) {
		a, b := &recorder{}, &recorder{}
		err := Fanout{a, nil, b}.Publish(context.Background(), SubjectAuctionCreated, struct{}{})

		assert.NoError(t, err)
		assert.Equal(t, []string{SubjectAuctionCreated}, a.subjects)
		assert.Equal(t, []string{SubjectAuctionCreated}, b.subjects)
	})

	t.Run("should keep delivering after a failure", func(t *testing.T) {
		boom := errors.New("nats down")
		a, b := &recorder{err: boom}, &recorder{}
		err := Fanout{a, b}.Publish(context.Background(), SubjectAuctionSettled, struct{}{})

		assert.ErrorIs(t, err, boom)
		assert.Len(t, b.subjects, 1)
	})

	t.Run("should discard silently", func(t *testing.T) {
		assert.NoError(t, Discard{}.Publish(context.Background(), SubjectAuctionSettled, nil))
	})
}

func TestCorrelationID(t *testing.T) {
	t.Run("should round-trip through the context", func(t *testing.T) {
		ctx := ContextWithCorrelationID(context.Background(), "req-1")
		assert.Equal(t, "req-1", CorrelationID(ctx))
	})

	t.Run("should be empty when unset", func(t *testing.T) {
		assert.Empty(t, CorrelationID(context.Background()))
	})
}
