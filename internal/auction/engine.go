// Package auction runs English auctions for unique assets: listing, bidding
// with escrow and refunds, and exactly-once settlement.
package auction

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/terminal-bench/nftauction/internal/assets"
	"github.com/terminal-bench/nftauction/internal/fees"
	"github.com/terminal-bench/nftauction/internal/ledger"
	"github.com/terminal-bench/nftauction/internal/lock"
	"github.com/terminal-bench/nftauction/internal/logging"
	"github.com/terminal-bench/nftauction/pkg/messaging"
)

const eventSource = "auction-engine"

// Config holds engine policy.
type Config struct {
	MinDuration time.Duration
	MaxDuration time.Duration
	// EngineIdentity is the operator sellers must approve.
	EngineIdentity string
	// Owner may change the currency whitelist.
	Owner string
	// Currencies seeds the token whitelist. The native currency is always
	// accepted.
	Currencies []string
}

// CreateRequest describes a new listing.
type CreateRequest struct {
	Seller        string
	Asset         assets.Ref
	StartingPrice decimal.Decimal
	Duration      time.Duration
	Currency      string
}

// Engine serializes all work on one auction through a per-id lock. Different
// auctions proceed in parallel.
type Engine struct {
	cfg    Config
	store  Store
	assets assets.Registry
	ledger ledger.Ledger
	fees   *fees.Policy
	locker lock.Locker
	events messaging.Publisher
	logger *slog.Logger
	now    func() time.Time

	currMu     sync.RWMutex
	currencies map[string]bool
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLocker(l lock.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

func WithPublisher(p messaging.Publisher) Option {
	return func(e *Engine) { e.events = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine wires an engine to its collaborators.
func NewEngine(cfg Config, store Store, registry assets.Registry, l ledger.Ledger, policy *fees.Policy, opts ...Option) (*Engine, error) {
	if cfg.MinDuration <= 0 || cfg.MaxDuration < cfg.MinDuration {
		return nil, fmt.Errorf("%w: bounds %s..%s", ErrInvalidDuration, cfg.MinDuration, cfg.MaxDuration)
	}
	if cfg.EngineIdentity == "" || cfg.Owner == "" {
		return nil, fmt.Errorf("%w: engine identity and owner are required", ErrInvalidRequest)
	}

	e := &Engine{
		cfg:        cfg,
		store:      store,
		assets:     registry,
		ledger:     l,
		fees:       policy,
		locker:     lock.NewKeyedMutex(),
		events:     messaging.Discard{},
		logger:     logging.Discard(),
		now:        time.Now,
		currencies: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, c := range cfg.Currencies {
		if c != "" && c != ledger.Native {
			e.currencies[c] = true
		}
	}
	return e, nil
}

// Create validates the listing, takes custody of the asset and records the
// auction as active.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*Auction, error) {
	if req.Seller == "" || !req.Asset.Valid() {
		return nil, fmt.Errorf("%w: seller and asset are required", ErrInvalidRequest)
	}
	if !req.StartingPrice.IsPositive() || !req.StartingPrice.IsInteger() {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidPrice, req.StartingPrice)
	}
	if req.Duration < e.cfg.MinDuration || req.Duration > e.cfg.MaxDuration {
		return nil, fmt.Errorf("%w: %s not within %s..%s",
			ErrInvalidDuration, req.Duration, e.cfg.MinDuration, e.cfg.MaxDuration)
	}
	currency := req.Currency
	if currency == "" {
		currency = ledger.Native
	}
	if !e.IsSupportedCurrency(currency) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, currency)
	}

	approved, err := e.assets.IsApproved(ctx, req.Asset, req.Seller, e.cfg.EngineIdentity)
	if err != nil {
		return nil, fmt.Errorf("check approval of %s: %w", req.Asset, err)
	}
	if !approved {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotApproved, req.Asset)
	}

	if err := e.assets.Lock(ctx, req.Asset, req.Seller); err != nil {
		return nil, fmt.Errorf("lock %s: %w", req.Asset, err)
	}

	a, err := e.insert(ctx, req, currency)
	if err != nil {
		if rerr := e.assets.ReleaseTo(context.WithoutCancel(ctx), req.Asset, req.Seller); rerr != nil {
			e.logger.Error("asset locked without auction",
				"asset", req.Asset.String(),
				"seller", req.Seller,
				"error", err,
				"release_error", rerr,
			)
			return nil, fmt.Errorf("%w: %s locked but auction not recorded: %v (release: %v)",
				ErrReconciliationRequired, req.Asset, err, rerr)
		}
		return nil, err
	}

	e.logger.Info("auction created",
		"auction_id", a.ID,
		"seller", a.Seller,
		"asset", a.Asset.String(),
		"currency", a.Currency,
		"starting_price", a.StartingPrice.String(),
		"end_time", a.EndTime,
	)
	e.publish(ctx, messaging.SubjectAuctionCreated, a.ID, a.Seller, messaging.AuctionCreatedEvent{
		Seller:        a.Seller,
		AssetRegistry: a.Asset.Registry,
		ItemID:        a.Asset.ItemID,
		Currency:      a.Currency,
		StartingPrice: a.StartingPrice.String(),
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
	})
	return a.Clone(), nil
}

func (e *Engine) insert(ctx context.Context, req CreateRequest, currency string) (*Auction, error) {
	id, err := e.store.NextID(ctx)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	a := &Auction{
		ID:            id,
		Seller:        req.Seller,
		Asset:         req.Asset,
		Currency:      currency,
		StartingPrice: req.StartingPrice,
		StartTime:     now,
		EndTime:       now.Add(req.Duration),
		HighestBid:    decimal.Zero,
		Status:        StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.Insert(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Bid escrows amount from bidder and refunds the previous highest bidder.
// Either both movements happen and the bid is recorded, or the escrow is
// returned and the auction is unchanged.
func (e *Engine) Bid(ctx context.Context, id uint64, bidder string, amount decimal.Decimal) (*Auction, error) {
	if bidder == "" {
		return nil, fmt.Errorf("%w: bidder is required", ErrInvalidRequest)
	}
	if !amount.IsPositive() || !amount.IsInteger() {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidAmount, amount)
	}

	unlock, err := e.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	a, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if a.Status != StatusActive || a.Settlement != nil {
		return nil, fmt.Errorf("%w: auction %d is %s", ErrAuctionNotActive, id, a.Status)
	}
	if !now.Before(a.EndTime) {
		return nil, fmt.Errorf("%w: auction %d ended at %s", ErrAuctionEnded, id, a.EndTime.Format(time.RFC3339))
	}
	if a.HasBids() {
		if !amount.GreaterThan(a.HighestBid) {
			return nil, fmt.Errorf("%w: %s does not exceed highest bid %s", ErrBidTooLow, amount, a.HighestBid)
		}
	} else if amount.LessThan(a.StartingPrice) {
		return nil, fmt.Errorf("%w: %s below starting price %s", ErrBidTooLow, amount, a.StartingPrice)
	}

	if a.Currency != ledger.Native {
		allowance, err := e.ledger.Allowance(ctx, bidder, a.Currency)
		if err != nil {
			return nil, fmt.Errorf("check allowance: %w", err)
		}
		if allowance.LessThan(amount) {
			return nil, fmt.Errorf("%w: %s approved %s, bid is %s", ErrInsufficientAllowance, bidder, allowance, amount)
		}
	}

	if err := e.ledger.Escrow(ctx, bidder, a.Currency, amount); err != nil {
		return nil, fmt.Errorf("escrow bid: %w", err)
	}

	// Funds have moved; finish regardless of caller cancellation.
	opCtx := context.WithoutCancel(ctx)
	prevBidder, prevBid := a.HighestBidder, a.HighestBid
	if prevBidder != "" {
		if err := e.ledger.Refund(opCtx, prevBidder, a.Currency, prevBid); err != nil {
			return nil, e.rollbackBid(opCtx, a, bidder, amount, err)
		}
	}

	a.HighestBid = amount
	a.HighestBidder = bidder
	a.BidCount++
	a.UpdatedAt = now.UTC()
	if err := e.store.Update(opCtx, a); err != nil {
		if prevBidder == "" {
			if refundErr := e.ledger.Refund(opCtx, bidder, a.Currency, amount); refundErr == nil {
				e.logger.Warn("bid not recorded, escrow returned",
					"auction_id", id,
					"bidder", bidder,
					"amount", amount.String(),
					"error", err,
				)
				return nil, fmt.Errorf("record bid on auction %d: %w", id, err)
			}
		}
		e.logger.Error("accepted bid not recorded",
			"auction_id", id,
			"bidder", bidder,
			"amount", amount.String(),
			"refunded", prevBidder,
			"error", err,
		)
		return nil, fmt.Errorf("%w: bid on auction %d moved funds but was not recorded: %v",
			ErrReconciliationRequired, id, err)
	}

	e.logger.Info("bid accepted",
		"auction_id", id,
		"bidder", bidder,
		"amount", amount.String(),
		"bid_count", a.BidCount,
	)
	if prevBidder != "" {
		e.publish(ctx, messaging.SubjectBidRefunded, id, bidder, messaging.BidRefundedEvent{
			Bidder:   prevBidder,
			Amount:   prevBid.String(),
			Currency: a.Currency,
		})
	}
	e.publish(ctx, messaging.SubjectBidPlaced, id, bidder, messaging.BidPlacedEvent{
		Bidder:   bidder,
		Amount:   amount.String(),
		Currency: a.Currency,
		BidCount: a.BidCount,
	})
	return a, nil
}

// rollbackBid returns the new escrow after the previous bidder could not be
// refunded, leaving the previous bidder highest.
func (e *Engine) rollbackBid(ctx context.Context, a *Auction, bidder string, amount decimal.Decimal, refundErr error) error {
	e.logger.Warn("refund of previous bidder failed",
		"auction_id", a.ID,
		"previous_bidder", a.HighestBidder,
		"amount", a.HighestBid.String(),
		"error", refundErr,
	)
	if err := e.ledger.Refund(ctx, bidder, a.Currency, amount); err != nil {
		e.logger.Error("bid rollback failed",
			"auction_id", a.ID,
			"bidder", bidder,
			"amount", amount.String(),
			"error", err,
		)
		return fmt.Errorf("%w: %w: refund of %s to %s: %w; returning %s to %s: %v",
			ErrRefundFailed, ErrReconciliationRequired, a.HighestBid, a.HighestBidder, refundErr, amount, bidder, err)
	}
	return fmt.Errorf("%w: %s to %s: %w", ErrRefundFailed, a.HighestBid, a.HighestBidder, refundErr)
}

// Settle finalizes an auction. Without bids the asset goes back to the
// seller; otherwise the seller and fee recipient are paid and the asset goes
// to the winner. The outcome is frozen on first call and each payout step is
// recorded as it succeeds, so a failed settlement resumes where it stopped.
// Settling a finished auction returns the recorded outcome.
func (e *Engine) Settle(ctx context.Context, id uint64, caller string) (*Auction, error) {
	unlock, err := e.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	a, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return a, nil
	}
	if a.Settlement == nil {
		if err := e.freeze(ctx, a, caller); err != nil {
			return nil, err
		}
	}
	return e.complete(ctx, a)
}

func (e *Engine) freeze(ctx context.Context, a *Auction, caller string) error {
	if a.Status != StatusActive {
		return fmt.Errorf("%w: auction %d is %s", ErrAuctionNotActive, a.ID, a.Status)
	}
	now := e.now()
	if now.Before(a.EndTime) && (a.HasBids() || caller != a.Seller) {
		return fmt.Errorf("%w: auction %d ends at %s", ErrAuctionNotEnded, a.ID, a.EndTime.Format(time.RFC3339))
	}

	st := &Settlement{Kind: KindCancelled}
	if a.HasBids() {
		q := e.fees.Apply(a.HighestBid)
		st = &Settlement{
			Kind:         KindSettled,
			FinalPrice:   a.HighestBid,
			Proceeds:     q.Proceeds,
			Fee:          q.Fee,
			FeePercent:   q.Percent,
			FeeRecipient: q.Recipient,
			FeeVersion:   q.Version,
			Winner:       a.HighestBidder,
			SellerPaid:   q.Proceeds.IsZero(),
			FeePaid:      q.Fee.IsZero(),
		}
	}
	a.Settlement = st
	a.UpdatedAt = now.UTC()
	if err := e.store.Update(ctx, a); err != nil {
		a.Settlement = nil
		return fmt.Errorf("record settlement of auction %d: %w", a.ID, err)
	}
	return nil
}

type settleStep struct {
	name string
	done *bool
	run  func(ctx context.Context) error
}

func (e *Engine) complete(ctx context.Context, a *Auction) (*Auction, error) {
	st := a.Settlement
	var steps []settleStep
	if st.Kind == KindSettled {
		steps = []settleStep{
			{"pay seller", &st.SellerPaid, func(ctx context.Context) error {
				return e.ledger.Pay(ctx, a.Seller, a.Currency, st.Proceeds)
			}},
			{"pay fee", &st.FeePaid, func(ctx context.Context) error {
				return e.ledger.Pay(ctx, st.FeeRecipient, a.Currency, st.Fee)
			}},
			{"release asset", &st.AssetReleased, func(ctx context.Context) error {
				return e.assets.ReleaseTo(ctx, a.Asset, st.Winner)
			}},
		}
	} else {
		steps = []settleStep{
			{"return asset", &st.AssetReleased, func(ctx context.Context) error {
				return e.assets.ReleaseTo(ctx, a.Asset, a.Seller)
			}},
		}
	}

	recordCtx := context.WithoutCancel(ctx)
	for _, step := range steps {
		if *step.done {
			continue
		}
		if err := step.run(ctx); err != nil {
			e.logger.Warn("settlement step failed",
				"auction_id", a.ID,
				"step", step.name,
				"error", err,
			)
			return nil, fmt.Errorf("%w: auction %d: %s: %w", ErrSettlementIncomplete, a.ID, step.name, err)
		}
		*step.done = true
		a.UpdatedAt = e.now().UTC()
		if err := e.store.Update(recordCtx, a); err != nil {
			e.logger.Error("settlement step not recorded",
				"auction_id", a.ID,
				"step", step.name,
				"error", err,
			)
			return nil, fmt.Errorf("%w: auction %d: %s succeeded but was not recorded: %v",
				ErrReconciliationRequired, a.ID, step.name, err)
		}
	}

	now := e.now().UTC()
	st.CompletedAt = &now
	a.UpdatedAt = now
	a.Status = StatusSettled
	if st.Kind == KindCancelled {
		a.Status = StatusCancelled
	}
	if err := e.store.Update(recordCtx, a); err != nil {
		return nil, fmt.Errorf("record outcome of auction %d: %w", a.ID, err)
	}

	if a.Status == StatusSettled {
		e.logger.Info("auction settled",
			"auction_id", a.ID,
			"winner", st.Winner,
			"final_price", st.FinalPrice.String(),
			"fee", st.Fee.String(),
		)
		e.publish(ctx, messaging.SubjectAuctionSettled, a.ID, st.Winner, messaging.AuctionSettledEvent{
			Winner:       st.Winner,
			FinalPrice:   st.FinalPrice.String(),
			Proceeds:     st.Proceeds.String(),
			Fee:          st.Fee.String(),
			FeeRecipient: st.FeeRecipient,
			Currency:     a.Currency,
		})
	} else {
		reason := "expired without bids"
		if now.Before(a.EndTime) {
			reason = "cancelled by seller"
		}
		e.logger.Info("auction cancelled", "auction_id", a.ID, "reason", reason)
		e.publish(ctx, messaging.SubjectAuctionCancelled, a.ID, a.Seller, messaging.AuctionCancelledEvent{
			Seller: a.Seller,
			Reason: reason,
		})
	}
	return a.Clone(), nil
}

// SetSupportedCurrency adds or removes a token from the whitelist. Existing
// auctions keep their currency.
func (e *Engine) SetSupportedCurrency(_ context.Context, caller, currency string, supported bool) error {
	if caller != e.cfg.Owner {
		return ErrNotOwner
	}
	if currency == "" || currency == ledger.Native {
		return fmt.Errorf("%w: %q cannot be configured", ErrInvalidRequest, currency)
	}
	e.currMu.Lock()
	defer e.currMu.Unlock()
	if supported {
		e.currencies[currency] = true
	} else {
		delete(e.currencies, currency)
	}
	e.logger.Info("currency support changed", "currency", currency, "supported", supported)
	return nil
}

// IsSupportedCurrency reports whether new auctions may use currency.
func (e *Engine) IsSupportedCurrency(currency string) bool {
	if currency == ledger.Native {
		return true
	}
	e.currMu.RLock()
	defer e.currMu.RUnlock()
	return e.currencies[currency]
}

// SupportedCurrencies lists the native currency followed by whitelisted
// tokens in name order.
func (e *Engine) SupportedCurrencies() []string {
	e.currMu.RLock()
	tokens := make([]string, 0, len(e.currencies))
	for c := range e.currencies {
		tokens = append(tokens, c)
	}
	e.currMu.RUnlock()
	sort.Strings(tokens)
	return append([]string{ledger.Native}, tokens...)
}

func (e *Engine) Auction(ctx context.Context, id uint64) (*Auction, error) {
	return e.store.Get(ctx, id)
}

func (e *Engine) Auctions(ctx context.Context, f Filter) ([]*Auction, error) {
	return e.store.List(ctx, f)
}

// Count returns how many auctions were ever created.
func (e *Engine) Count(ctx context.Context) (uint64, error) {
	return e.store.Count(ctx)
}

// Fees returns the policy used at settlement.
func (e *Engine) Fees() *fees.Policy {
	return e.fees
}

func (e *Engine) lock(ctx context.Context, id uint64) (lock.Unlock, error) {
	unlock, err := e.locker.Lock(ctx, "auction/"+strconv.FormatUint(id, 10))
	if err != nil {
		return nil, fmt.Errorf("lock auction %d: %w", id, err)
	}
	return unlock, nil
}

func (e *Engine) publish(ctx context.Context, subject string, id uint64, actor string, data interface{}) {
	event, err := messaging.NewEvent(subject, id, data, messaging.EventMetadata{
		CorrelationID: messaging.CorrelationID(ctx),
		Actor:         actor,
		Source:        eventSource,
	})
	if err != nil {
		e.logger.Error("failed to build event", "subject", subject, "auction_id", id, "error", err)
		return
	}
	if err := e.events.Publish(context.WithoutCancel(ctx), subject, event); err != nil {
		e.logger.Warn("failed to publish event", "subject", subject, "auction_id", id, "error", err)
	}
}
