// Package oracle keeps USD unit prices per currency for valuation display.
// It never gates bids or settlement.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/terminal-bench/nftauction/internal/apperr"
	"github.com/terminal-bench/nftauction/internal/logging"
)

var (
	ErrUnknownFeed  = apperr.New(apperr.ErrNotFound, "unknown price feed")
	ErrStalePrice   = apperr.New(apperr.ErrState, "price feed is stale")
	ErrInvalidPrice = apperr.New(apperr.ErrValidation, "invalid price")
	ErrInvalidFeed  = apperr.New(apperr.ErrValidation, "invalid price feed")
	ErrNotOwner     = apperr.New(apperr.ErrAuthorization, "caller is not the owner")
)

// Feed is the latest price of one currency.
type Feed struct {
	Currency  string          `json:"currency"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Decimals  int32           `json:"decimals"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Recorder receives every accepted price, e.g. to keep history.
type Recorder interface {
	Record(ctx context.Context, feed Feed) error
}

// Oracle is the process-wide price table. Reads run in parallel; owner
// updates are serialized.
type Oracle struct {
	owner    string
	maxAge   time.Duration
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	// writeMu orders owner writes so the recorder sees prices in the order
	// they were accepted.
	writeMu sync.Mutex

	mu    sync.RWMutex
	feeds map[string]*Feed
	order []string
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithMaxAge makes reads fail with ErrStalePrice for feeds older than d.
// Zero disables the check.
func WithMaxAge(d time.Duration) Option {
	return func(o *Oracle) { o.maxAge = d }
}

// WithRecorder sends accepted prices to r.
func WithRecorder(r Recorder) Option {
	return func(o *Oracle) { o.recorder = r }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Oracle) { o.now = now }
}

// New creates an empty oracle administered by owner.
func New(owner string, logger *slog.Logger, opts ...Option) *Oracle {
	o := &Oracle{
		owner:  owner,
		logger: logger,
		now:    time.Now,
		feeds:  make(map[string]*Feed),
	}
	if o.logger == nil {
		o.logger = logging.Discard()
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register adds a feed or replaces name, price and decimals of an existing
// one. An existing feed keeps its position in List.
func (o *Oracle) Register(ctx context.Context, caller, currency, name string, price decimal.Decimal, decimals int32) (Feed, error) {
	if caller != o.owner {
		return Feed{}, ErrNotOwner
	}
	if currency == "" || name == "" || decimals < 0 {
		return Feed{}, ErrInvalidFeed
	}
	if !price.IsPositive() {
		return Feed{}, ErrInvalidPrice
	}

	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	o.mu.Lock()
	feed := Feed{
		Currency:  currency,
		Name:      name,
		Price:     price,
		Decimals:  decimals,
		UpdatedAt: o.now().UTC(),
	}
	if _, exists := o.feeds[currency]; !exists {
		o.order = append(o.order, currency)
	}
	o.feeds[currency] = &feed
	o.mu.Unlock()

	o.record(ctx, feed)
	return feed, nil
}

// UpdatePrice sets a new price for a registered feed.
func (o *Oracle) UpdatePrice(ctx context.Context, caller, currency string, price decimal.Decimal) (Feed, error) {
	if caller != o.owner {
		return Feed{}, ErrNotOwner
	}
	if !price.IsPositive() {
		return Feed{}, ErrInvalidPrice
	}

	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	o.mu.Lock()
	current, ok := o.feeds[currency]
	if !ok {
		o.mu.Unlock()
		return Feed{}, fmt.Errorf("%w: %s", ErrUnknownFeed, currency)
	}
	feed := *current
	feed.Price = price
	feed.UpdatedAt = o.now().UTC()
	o.feeds[currency] = &feed
	o.mu.Unlock()

	o.record(ctx, feed)
	return feed, nil
}

// Price returns the latest feed for currency.
func (o *Oracle) Price(currency string) (Feed, error) {
	o.mu.RLock()
	feed, ok := o.feeds[currency]
	o.mu.RUnlock()

	if !ok {
		return Feed{}, fmt.Errorf("%w: %s", ErrUnknownFeed, currency)
	}
	if o.maxAge > 0 && o.now().Sub(feed.UpdatedAt) > o.maxAge {
		return *feed, fmt.Errorf("%w: %s last updated %s", ErrStalePrice, currency, feed.UpdatedAt.Format(time.RFC3339))
	}
	return *feed, nil
}

// USDValue converts amount base units of currency into USD:
// amount * price / 10^decimals.
func (o *Oracle) USDValue(currency string, amount decimal.Decimal) (decimal.Decimal, error) {
	feed, err := o.Price(currency)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(feed.Price).Shift(-feed.Decimals), nil
}

// List returns every feed in registration order.
func (o *Oracle) List() []Feed {
	o.mu.RLock()
	defer o.mu.RUnlock()

	feeds := make([]Feed, 0, len(o.order))
	for _, currency := range o.order {
		feeds = append(feeds, *o.feeds[currency])
	}
	return feeds
}

// Count returns the number of registered feeds.
func (o *Oracle) Count() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.order)
}

func (o *Oracle) record(ctx context.Context, feed Feed) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.Record(ctx, feed); err != nil {
		o.logger.Error("failed to record price",
			"currency", feed.Currency,
			"price", feed.Price.String(),
			"error", err,
		)
	}
}
