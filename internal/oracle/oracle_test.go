package oracle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terminal-bench/nftauction/internal/apperr"
	"github.com/terminal-bench/nftauction/internal/logging"
	"github.com/terminal-bench/nftauction/pkg/fixedpoint"
)

type recorderFunc func(Feed) error

func (f recorderFunc) Record(_ context.Context, feed Feed) error { return f(feed) }

func TestRegisterAndValue(t *testing.T) {
	ctx := context.Background()

	t.Run("should value amounts at the registered price", func(t *testing.T) {
		o := New("owner", logging.Discard())
		_, err := o.Register(ctx, "owner", "X", "X/USD", decimal.NewFromInt(3000), 0)
		require.NoError(t, err)

		usd, err := o.USDValue("X", decimal.NewFromInt(1))
		require.NoError(t, err)
		assert.Equal(t, "3000", usd.String())

		_, err = o.UpdatePrice(ctx, "owner", "X", decimal.NewFromInt(3100))
		require.NoError(t, err)

		usd, err = o.USDValue("X", decimal.NewFromInt(1))
		require.NoError(t, err)
		assert.Equal(t, "3100", usd.String())
	})

	t.Run("should scale base units by decimals", func(t *testing.T) {
		o := New("owner", logging.Discard())
		o.Register(ctx, "owner", "ETH", "ETH/USD", decimal.NewFromInt(3000), fixedpoint.EtherDecimals)

		usd, err := o.USDValue("ETH", fixedpoint.Ether("1.5"))
		require.NoError(t, err)
		assert.Equal(t, "4500", usd.String())
	})

	t.Run("should fail for unknown feeds", func(t *testing.T) {
		o := New("owner", logging.Discard())

		_, err := o.USDValue("DOGE", decimal.NewFromInt(1))
		assert.ErrorIs(t, err, ErrUnknownFeed)
		assert.ErrorIs(t, err, apperr.ErrNotFound)

		_, err = o.UpdatePrice(ctx, "owner", "DOGE", decimal.NewFromInt(1))
		assert.ErrorIs(t, err, ErrUnknownFeed)
	})

	t.Run("should restrict writes to the owner", func(t *testing.T) {
		o := New("owner", logging.Discard())

		_, err := o.Register(ctx, "mallory", "X", "X/USD", decimal.NewFromInt(1), 0)
		assert.ErrorIs(t, err, ErrNotOwner)
		assert.Equal(t, 0, o.Count())
	})

	t.Run("should reject non-positive prices", func(t *testing.T) {
		o := New("owner", logging.Discard())

		_, err := o.Register(ctx, "owner", "X", "X/USD", decimal.Zero, 0)
		assert.ErrorIs(t, err, ErrInvalidPrice)
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()

	t.Run("should list feeds in registration order", func(t *testing.T) {
		o := New("owner", logging.Discard())
		o.Register(ctx, "owner", "ETH", "ETH/USD", decimal.NewFromInt(3000), 18)
		o.Register(ctx, "owner", "LINK", "LINK/USD", decimal.NewFromInt(15), 18)
		o.Register(ctx, "owner", "BTC", "BTC/USD", decimal.NewFromInt(60000), 8)

		feeds := o.List()
		require.Len(t, feeds, 3)
		assert.Equal(t, "ETH/USD", feeds[0].Name)
		assert.Equal(t, "LINK/USD", feeds[1].Name)
		assert.Equal(t, "BTC/USD", feeds[2].Name)
		assert.Equal(t, 3, o.Count())
	})

	t.Run("should keep position when re-registering", func(t *testing.T) {
		o := New("owner", logging.Discard())
		o.Register(ctx, "owner", "ETH", "ETH/USD", decimal.NewFromInt(3000), 18)
		o.Register(ctx, "owner", "LINK", "LINK/USD", decimal.NewFromInt(15), 18)
		o.Register(ctx, "owner", "ETH", "Ether/USD", decimal.NewFromInt(3200), 18)

		feeds := o.List()
		require.Len(t, feeds, 2)
		assert.Equal(t, "Ether/USD", feeds[0].Name)
		assert.True(t, feeds[0].Price.Equal(decimal.NewFromInt(3200)))
	})
}

func TestStaleness(t *testing.T) {
	t.Run("should flag feeds older than max age", func(t *testing.T) {
		now := time.Unix(1700000000, 0)
		o := New("owner", logging.Discard(), WithMaxAge(time.Hour), WithClock(func() time.Time { return now }))
		o.Register(context.Background(), "owner", "ETH", "ETH/USD", decimal.NewFromInt(3000), 18)

		_, err := o.Price("ETH")
		require.NoError(t, err)

		now = now.Add(2 * time.Hour)
		_, err = o.Price("ETH")
		assert.ErrorIs(t, err, ErrStalePrice)
	})
}

func TestRecorder(t *testing.T) {
	t.Run("should record accepted prices and survive recorder failures", func(t *testing.T) {
		var recorded []string
		rec := recorderFunc(func(f Feed) error {
			recorded = append(recorded, f.Price.String())
			return errors.New("influx down")
		})
		o := New("owner", logging.Discard(), WithRecorder(rec))

		_, err := o.Register(context.Background(), "owner", "ETH", "ETH/USD", decimal.NewFromInt(3000), 18)
		require.NoError(t, err)
		_, err = o.UpdatePrice(context.Background(), "owner", "ETH", decimal.NewFromInt(3100))
		require.NoError(t, err)

		assert.Equal(t, []string{"3000", "3100"}, recorded)
	})

	t.Run("should log recorder failures without a logger", func(t *testing.T) {
		rec := recorderFunc(func(Feed) error { return errors.New("influx down") })
		o := New("owner", nil, WithRecorder(rec))

		_, err := o.Register(context.Background(), "owner", "ETH", "ETH/USD", decimal.NewFromInt(3000), 18)
		assert.NoError(t, err)
	})

	t.Run("should record concurrent updates in acceptance order", func(t *testing.T) {
		var mu sync.Mutex
		var recorded []Feed
		rec := recorderFunc(func(f Feed) error {
			time.Sleep(time.Millisecond)
			mu.Lock()
			recorded = append(recorded, f)
			mu.Unlock()
			return nil
		})
		tick := time.Unix(0, 0)
		var clockMu sync.Mutex
		clock := func() time.Time {
			clockMu.Lock()
			defer clockMu.Unlock()
			tick = tick.Add(time.Second)
			return tick
		}
		o := New("owner", logging.Discard(), WithRecorder(rec), WithClock(clock))
		_, err := o.Register(context.Background(), "owner", "ETH", "ETH/USD", decimal.NewFromInt(3000), 18)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 1; i <= 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := o.UpdatePrice(context.Background(), "owner", "ETH", decimal.NewFromInt(int64(3000+i)))
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		require.Len(t, recorded, 11)
		for i := 1; i < len(recorded); i++ {
			assert.True(t, recorded[i].UpdatedAt.After(recorded[i-1].UpdatedAt))
		}
		latest, err := o.Price("ETH")
		require.NoError(t, err)
		assert.True(t, latest.Price.Equal(recorded[len(recorded)-1].Price))
	})
}
