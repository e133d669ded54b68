// Package gateway exposes the auction engine over HTTP and streams auction
// events to websocket clients.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/terminal-bench/nftauction/internal/auction"
	"github.com/terminal-bench/nftauction/internal/auth"
	"github.com/terminal-bench/nftauction/internal/fees"
	"github.com/terminal-bench/nftauction/internal/oracle"
	"github.com/terminal-bench/nftauction/pkg/circuit"
	"github.com/terminal-bench/nftauction/pkg/idempotency"
)

// Config holds gateway configuration
type Config struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RateLimitWindow time.Duration
	RateLimitMax    int
}

// Deps are the services the gateway fronts.
type Deps struct {
	Engine      *auction.Engine
	Fees        *fees.Policy
	Oracle      *oracle.Oracle
	Auth        *auth.Service
	Idempotency idempotency.Store
	Hub         *Hub
	// Breakers are reported by /health.
	Breakers []*circuit.Breaker
	Logger   *slog.Logger
}

// Gateway is the HTTP API.
type Gateway struct {
	router      *gin.Engine
	server      *http.Server
	engine      *auction.Engine
	fees        *fees.Policy
	oracle      *oracle.Oracle
	auth        *auth.Service
	idempotency idempotency.Store
	hub         *Hub
	breakers    []*circuit.Breaker
	rateLimiter *RateLimiter
	metrics     *Metrics
	logger      *slog.Logger
}

// NewGateway creates a new API gateway
func NewGateway(cfg Config, deps Deps) *Gateway {
	g := &Gateway{
		router:      gin.New(),
		engine:      deps.Engine,
		fees:        deps.Fees,
		oracle:      deps.Oracle,
		auth:        deps.Auth,
		idempotency: deps.Idempotency,
		hub:         deps.Hub,
		breakers:    deps.Breakers,
		rateLimiter: NewRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow),
		metrics:     newMetrics(deps.Hub, deps.Breakers),
		logger:      deps.Logger,
	}
	if g.idempotency == nil {
		g.idempotency = idempotency.NewMemory(24 * time.Hour)
	}
	g.server = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      g.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	g.setupRoutes()
	return g
}

func (g *Gateway) setupRoutes() {
	g.router.Use(gin.Recovery())
	g.router.Use(g.tracingMiddleware())
	g.router.Use(g.metrics.middleware())
	g.router.Use(g.loggingMiddleware())
	g.router.Use(g.rateLimitMiddleware())

	g.router.GET("/health", g.healthCheck)
	g.router.GET("/metrics", g.metrics.handler())
	if g.hub != nil {
		g.router.GET("/ws/auctions", g.hub.ServeWS)
	}

	v1 := g.router.Group("/api/v1")
	{
		v1.GET("/auctions", g.listAuctions)
		v1.GET("/auctions/:id", g.getAuction)
		v1.GET("/auctions/:id/valuation", g.getValuation)
		v1.POST("/auctions", g.authMiddleware(), g.createAuction)
		v1.POST("/auctions/:id/bids", g.authMiddleware(), g.placeBid)
		v1.POST("/auctions/:id/settle", g.authMiddleware(), g.settleAuction)

		v1.GET("/fees", g.getFees)
		v1.GET("/currencies", g.listCurrencies)
		v1.GET("/prices", g.listPrices)
		v1.GET("/prices/:currency", g.getPrice)

		admin := v1.Group("/admin", g.authMiddleware())
		admin.PUT("/fees", g.setFees)
		admin.POST("/fees/migrate", g.migrateFees)
		admin.PUT("/currencies/:currency", g.setCurrency)
		admin.POST("/prices", g.registerFeed)
		admin.PUT("/prices/:currency", g.updatePrice)
		admin.POST("/breakers/:name/reset", g.resetBreaker)
	}
}

// Handler exposes the router, mainly for tests.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Start serves until Shutdown is called.
func (g *Gateway) Start() error {
	g.logger.Info("gateway listening", "addr", g.server.Addr)
	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.hub != nil {
		g.hub.Close()
	}
	return g.server.Shutdown(ctx)
}

func (g *Gateway) healthCheck(c *gin.Context) {
	status := "healthy"
	breakers := make(map[string]string, len(g.breakers))
	for _, b := range g.breakers {
		state := b.State()
		breakers[b.Name()] = state.String()
		if state != circuit.StateClosed {
			status = "degraded"
		}
	}
	body := gin.H{"status": status, "breakers": breakers}
	if g.hub != nil {
		body["ws_clients"] = g.hub.Len()
		if bus := g.hub.busState(); bus != "" {
			body["event_bus"] = bus
			if bus != "connected" {
				body["status"] = "degraded"
			}
		}
	}
	c.JSON(http.StatusOK, body)
}
