package receipts

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terminal-bench/nftauction/internal/logging"
	"github.com/terminal-bench/nftauction/pkg/messaging"
)

type failingBucket struct{}

func (failingBucket) Put(context.Context, string, []byte, string) error {
	return errors.New("bucket unavailable")
}

func settledEvent(t *testing.T, id uint64) *messaging.Event {
	t.Helper()
	event, err := messaging.NewEvent(messaging.SubjectAuctionSettled, id, messaging.AuctionSettledEvent{
		Winner:     "carol",
		FinalPrice: "2000",
		Proceeds:   "1950",
		Fee:        "50",
	}, messaging.EventMetadata{Source: "test"})
	require.NoError(t, err)
	return event
}

func TestArchive(t *testing.T) {
	ctx := context.Background()

	t.Run("should store settled events under a dated key", func(t *testing.T) {
		bucket := NewMemoryBucket()
		archive := NewArchive(bucket, logging.Discard())
		event := settledEvent(t, 7)

		require.NoError(t, archive.Publish(ctx, messaging.SubjectAuctionSettled, event))

		body, ok := bucket.Get(Key(event))
		require.True(t, ok)
		var stored messaging.Event
		require.NoError(t, json.Unmarshal(body, &stored))
		assert.Equal(t, uint64(7), stored.AuctionID)

		data, err := messaging.ParseEventData[messaging.AuctionSettledEvent](&stored)
		require.NoError(t, err)
		assert.Equal(t, "1950", data.Proceeds)
		assert.Contains(t, Key(event), "/7-")
	})

	t.Run("should ignore bids", func(t *testing.T) {
		bucket := NewMemoryBucket()
		archive := NewArchive(bucket, logging.Discard())

		require.NoError(t, archive.Publish(ctx, messaging.SubjectBidPlaced, settledEvent(t, 1)))
		assert.Empty(t, bucket.Keys())
	})

	t.Run("should reject payloads that are not events", func(t *testing.T) {
		archive := NewArchive(NewMemoryBucket(), logging.Discard())
		assert.Error(t, archive.Publish(ctx, messaging.SubjectAuctionCancelled, "nope"))
	})

	t.Run("should surface storage failures", func(t *testing.T) {
		archive := NewArchive(failingBucket{}, logging.Discard())
		err := archive.Publish(ctx, messaging.SubjectAuctionSettled, settledEvent(t, 1))
		assert.ErrorContains(t, err, "bucket unavailable")
	})
}
