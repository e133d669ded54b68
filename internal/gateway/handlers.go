package gateway

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/terminal-bench/nftauction/internal/assets"
	"github.com/terminal-bench/nftauction/internal/auction"
	"github.com/terminal-bench/nftauction/internal/fees"
	"github.com/terminal-bench/nftauction/pkg/fixedpoint"
	"github.com/terminal-bench/nftauction/pkg/idempotency"
)

const headerIdempotencyKey = "Idempotency-Key"

// Request types. Amounts are base-unit integers encoded as strings; percents
// are fractions such as "0.025".

type CreateAuctionRequest struct {
	AssetRegistry   string `json:"asset_registry" binding:"required"`
	ItemID          string `json:"item_id" binding:"required"`
	StartingPrice   string `json:"starting_price" binding:"required"`
	DurationSeconds int64  `json:"duration_seconds" binding:"required"`
	Currency        string `json:"currency"`
}

type BidRequest struct {
	Amount string `json:"amount" binding:"required"`
}

type SetFeeRequest struct {
	Percent   string `json:"percent" binding:"required"`
	Recipient string `json:"recipient" binding:"required"`
}

type MigrateFeeRequest struct {
	MinPercent string `json:"min_percent" binding:"required"`
	MaxPercent string `json:"max_percent" binding:"required"`
	Threshold  string `json:"threshold" binding:"required"`
	Step       string `json:"step" binding:"required"`
}

type SetCurrencyRequest struct {
	Supported bool `json:"supported"`
}

type RegisterFeedRequest struct {
	Currency string `json:"currency" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Price    string `json:"price" binding:"required"`
	Decimals int32  `json:"decimals"`
}

type UpdatePriceRequest struct {
	Price string `json:"price" binding:"required"`
}

// FeeView renders a fee config with human-readable percents.
type FeeView struct {
	Version   int        `json:"version"`
	Percent   string     `json:"percent"`
	Recipient string     `json:"recipient"`
	Cap       string     `json:"cap"`
	Tiers     *TiersView `json:"tiers,omitempty"`
}

type TiersView struct {
	MinPercent string `json:"min_percent"`
	MaxPercent string `json:"max_percent"`
	Threshold  string `json:"threshold"`
	Step       string `json:"step"`
}

func feeView(cfg fees.Config) FeeView {
	v := FeeView{
		Version:   cfg.Version,
		Percent:   fixedpoint.FractionFromPercent(cfg.Percent),
		Recipient: cfg.Recipient,
		Cap:       fixedpoint.FractionFromPercent(cfg.Cap),
	}
	if cfg.Tiers != nil {
		v.Tiers = &TiersView{
			MinPercent: fixedpoint.FractionFromPercent(cfg.Tiers.MinPercent),
			MaxPercent: fixedpoint.FractionFromPercent(cfg.Tiers.MaxPercent),
			Threshold:  cfg.Tiers.Threshold.String(),
			Step:       fixedpoint.FractionFromPercent(cfg.Tiers.Step),
		}
	}
	return v
}

// Auctions

func (g *Gateway) createAuction(c *gin.Context) {
	var req CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	price, err := decimal.NewFromString(req.StartingPrice)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid starting_price"})
		return
	}
	if req.DurationSeconds <= 0 || req.DurationSeconds > int64(math.MaxInt64/time.Second) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid duration_seconds"})
		return
	}

	a, err := g.engine.Create(c.Request.Context(), auction.CreateRequest{
		Seller:        identity(c),
		Asset:         assets.Ref{Registry: req.AssetRegistry, ItemID: req.ItemID},
		StartingPrice: price,
		Duration:      time.Duration(req.DurationSeconds) * time.Second,
		Currency:      req.Currency,
	})
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (g *Gateway) getAuction(c *gin.Context) {
	id, ok := auctionID(c)
	if !ok {
		return
	}
	a, err := g.engine.Auction(c.Request.Context(), id)
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (g *Gateway) listAuctions(c *gin.Context) {
	filter := auction.Filter{Seller: c.Query("seller")}
	if s := c.Query("status"); s != "" {
		status, err := auction.ParseStatus(s)
		if err != nil {
			g.writeError(c, err)
			return
		}
		filter.Status = &status
	}

	list, err := g.engine.Auctions(c.Request.Context(), filter)
	if err != nil {
		g.writeError(c, err)
		return
	}
	total, err := g.engine.Count(c.Request.Context())
	if err != nil {
		g.writeError(c, err)
		return
	}
	if list == nil {
		list = []*auction.Auction{}
	}
	c.JSON(http.StatusOK, gin.H{"auctions": list, "total": total})
}

// getValuation prices the highest bid, or the starting price when unbid.
func (g *Gateway) getValuation(c *gin.Context) {
	id, ok := auctionID(c)
	if !ok {
		return
	}
	a, err := g.engine.Auction(c.Request.Context(), id)
	if err != nil {
		g.writeError(c, err)
		return
	}

	amount, basis := a.HighestBid, "highest_bid"
	if !a.HasBids() {
		amount, basis = a.StartingPrice, "starting_price"
	}
	usd, err := g.oracle.USDValue(a.Currency, amount)
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"auction_id": a.ID,
		"currency":   a.Currency,
		"basis":      basis,
		"amount":     amount.String(),
		"usd":        usd.StringFixed(2),
		"open":       a.Open(time.Now()),
	})
}

type cachedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// placeBid honours an optional Idempotency-Key so a retried request returns
// the first response instead of bidding twice.
func (g *Gateway) placeBid(c *gin.Context) {
	id, ok := auctionID(c)
	if !ok {
		return
	}
	var req BidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	ctx := c.Request.Context()
	bidder := identity(c)
	key := c.GetHeader(headerIdempotencyKey)
	if key != "" {
		key = "bid:" + bidder + ":" + strconv.FormatUint(id, 10) + ":" + key
		cached, fresh, err := g.idempotency.Begin(ctx, key)
		if errors.Is(err, idempotency.ErrInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			g.logger.Error("idempotency store unavailable", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "idempotency store unavailable"})
			return
		}
		if !fresh {
			var resp cachedResponse
			if err := json.Unmarshal(cached, &resp); err != nil {
				g.logger.Error("corrupt idempotent response", "key", key, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
				return
			}
			c.Header("Idempotent-Replayed", "true")
			c.Data(resp.Status, "application/json; charset=utf-8", resp.Body)
			return
		}
	}

	a, err := g.engine.Bid(ctx, id, bidder, amount)
	if err != nil {
		if key != "" {
			if aerr := g.idempotency.Abort(ctx, key); aerr != nil {
				g.logger.Warn("failed to release idempotency key", "error", aerr)
			}
		}
		g.writeError(c, err)
		return
	}

	body, err := json.Marshal(a)
	if err != nil {
		g.writeError(c, err)
		return
	}
	if key != "" {
		stored, _ := json.Marshal(cachedResponse{Status: http.StatusOK, Body: body})
		if err := g.idempotency.Complete(ctx, key, stored); err != nil {
			g.logger.Warn("failed to store idempotent response", "error", err)
		}
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

func (g *Gateway) settleAuction(c *gin.Context) {
	id, ok := auctionID(c)
	if !ok {
		return
	}
	a, err := g.engine.Settle(c.Request.Context(), id, identity(c))
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// Fees

func (g *Gateway) getFees(c *gin.Context) {
	c.JSON(http.StatusOK, feeView(g.fees.Config()))
}

func (g *Gateway) setFees(c *gin.Context) {
	var req SetFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	percent, err := fixedpoint.PercentFromFraction(req.Percent)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg, err := g.fees.SetFee(identity(c), percent, req.Recipient)
	if err != nil {
		g.writeError(c, err)
		return
	}
	g.logger.Info("fee updated", "percent", req.Percent, "recipient", req.Recipient)
	c.JSON(http.StatusOK, feeView(cfg))
}

func (g *Gateway) migrateFees(c *gin.Context) {
	var req MigrateFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	var tiers fees.Tiers
	var err error
	if tiers.MinPercent, err = fixedpoint.PercentFromFraction(req.MinPercent); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if tiers.MaxPercent, err = fixedpoint.PercentFromFraction(req.MaxPercent); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if tiers.Step, err = fixedpoint.PercentFromFraction(req.Step); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if tiers.Threshold, err = decimal.NewFromString(req.Threshold); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid threshold"})
		return
	}

	cfg, err := g.fees.Migrate(identity(c), tiers)
	if err != nil {
		g.writeError(c, err)
		return
	}
	g.logger.Info("fee config migrated", "version", cfg.Version)
	c.JSON(http.StatusOK, feeView(cfg))
}

// Currencies

func (g *Gateway) listCurrencies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"currencies": g.engine.SupportedCurrencies()})
}

func (g *Gateway) setCurrency(c *gin.Context) {
	var req SetCurrencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	currency := c.Param("currency")
	if err := g.engine.SetSupportedCurrency(c.Request.Context(), identity(c), currency, req.Supported); err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"currency": currency, "supported": req.Supported})
}

// Prices

func (g *Gateway) listPrices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"feeds": g.oracle.List(), "count": g.oracle.Count()})
}

func (g *Gateway) getPrice(c *gin.Context) {
	feed, err := g.oracle.Price(c.Param("currency"))
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, feed)
}

func (g *Gateway) registerFeed(c *gin.Context) {
	var req RegisterFeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid price"})
		return
	}
	feed, err := g.oracle.Register(c.Request.Context(), identity(c), req.Currency, req.Name, price, req.Decimals)
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, feed)
}

func (g *Gateway) updatePrice(c *gin.Context) {
	var req UpdatePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid price"})
		return
	}
	feed, err := g.oracle.UpdatePrice(c.Request.Context(), identity(c), c.Param("currency"), price)
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, feed)
}

// resetBreaker closes an adapter breaker once the operator has reconciled the
// backend.
func (g *Gateway) resetBreaker(c *gin.Context) {
	if identity(c) != g.fees.Owner() {
		g.writeError(c, fees.ErrNotOwner)
		return
	}
	name := c.Param("name")
	for _, b := range g.breakers {
		if b.Name() == name {
			b.Reset()
			g.logger.Warn("circuit breaker reset by operator", "breaker", name)
			c.JSON(http.StatusOK, gin.H{"breaker": name, "state": b.State().String()})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "unknown breaker"})
}

func auctionID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid auction ID"})
		return 0, false
	}
	return id, true
}
