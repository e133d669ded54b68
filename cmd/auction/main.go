package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq"
	"github.com/terminal-bench/nftauction/internal/assets"
	"github.com/terminal-bench/nftauction/internal/auction"
	"github.com/terminal-bench/nftauction/internal/auth"
	"github.com/terminal-bench/nftauction/internal/config"
	"github.com/terminal-bench/nftauction/internal/fees"
	"github.com/terminal-bench/nftauction/internal/gateway"
	"github.com/terminal-bench/nftauction/internal/ledger"
	"github.com/terminal-bench/nftauction/internal/lock"
	"github.com/terminal-bench/nftauction/internal/logging"
	"github.com/terminal-bench/nftauction/internal/oracle"
	"github.com/terminal-bench/nftauction/internal/receipts"
	"github.com/terminal-bench/nftauction/pkg/circuit"
	"github.com/terminal-bench/nftauction/pkg/fixedpoint"
	"github.com/terminal-bench/nftauction/pkg/idempotency"
	"github.com/terminal-bench/nftauction/pkg/messaging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(logging.Options{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		Environment: cfg.Environment,
	})

	// "auction token <subject>" prints a bearer token for local use.
	if len(os.Args) == 3 && os.Args[1] == "token" {
		tok, err := auth.NewService(cfg.JWTSecret, 24*time.Hour).Issue(os.Args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(tok)
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("auction service failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanups []func()
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()

	// Storage
	var (
		store  auction.Store
		funds  ledger.Ledger
		custod assets.Registry = assets.NewMemory(cfg.EngineIdentity)
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		cleanups = append(cleanups, func() { db.Close() })

		pgStore := auction.NewPostgresStore(db)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			return err
		}
		pgLedger := ledger.NewPostgres(db, cfg.EngineIdentity, logger)
		if err := pgLedger.EnsureSchema(ctx); err != nil {
			return err
		}
		store, funds = pgStore, pgLedger
		logger.Info("using postgres storage")
	} else {
		store, funds = auction.NewMemoryStore(), ledger.NewMemory()
		logger.Warn("DATABASE_URL not set, using in-memory storage")
	}

	breakerCfg := func(name string) circuit.Config {
		return circuit.Config{
			Name:        name,
			MaxFailures: cfg.BreakerMaxFailures,
			Timeout:     cfg.BreakerTimeout,
			HalfOpenMax: 1,
			OnStateChange: func(name string, from, to circuit.State) {
				logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		}
	}
	guardedLedger := ledger.WithBreaker(funds, breakerCfg("ledger"), cfg.AdapterTimeout)
	guardedAssets := assets.WithBreaker(custod, breakerCfg("assets"), cfg.AdapterTimeout)

	// Locking
	var locker lock.Locker = lock.NewKeyedMutex()
	if len(cfg.EtcdEndpoints) > 0 {
		etcdLocker, err := lock.NewEtcd(lock.EtcdConfig{
			Endpoints:   cfg.EtcdEndpoints,
			DialTimeout: 5 * time.Second,
			SessionTTL:  30 * time.Second,
			Prefix:      "/nftauction/locks/",
		}, logger)
		if err != nil {
			return err
		}
		cleanups = append(cleanups, func() { etcdLocker.Close() })
		locker = etcdLocker
	}

	// Fees
	percent, err := fixedpoint.PercentFromFraction(cfg.FeePercent)
	if err != nil {
		return fmt.Errorf("FEE_PERCENT: %w", err)
	}
	feeCap, err := fixedpoint.PercentFromFraction(cfg.FeeCap)
	if err != nil {
		return fmt.Errorf("FEE_CAP: %w", err)
	}
	policy, err := fees.New(cfg.Owner, percent, cfg.FeeRecipient, feeCap)
	if err != nil {
		return err
	}

	// Prices
	oracleOpts := []oracle.Option{oracle.WithMaxAge(cfg.PriceMaxAge)}
	if cfg.InfluxURL != "" {
		recorder := oracle.NewInfluxRecorder(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket)
		cleanups = append(cleanups, recorder.Close)
		oracleOpts = append(oracleOpts, oracle.WithRecorder(recorder))
	}
	prices := oracle.New(cfg.Owner, logger, oracleOpts...)
	if err := seedFeeds(ctx, prices, cfg); err != nil {
		return err
	}

	// Events
	hub := gateway.NewHub(logger)
	var publisher messaging.Publisher = hub
	if cfg.NATSURL != "" {
		natsClient, err := messaging.NewClient(messaging.Config{
			URL:            cfg.NATSURL,
			Name:           "nftauction",
			ReconnectWait:  time.Second,
			MaxReconnects:  60,
			ConnectTimeout: 10 * time.Second,
			Logger:         logger,
		})
		if err != nil {
			return err
		}
		cleanups = append(cleanups, func() { natsClient.Close() })
		if err := hub.Relay(natsClient); err != nil {
			return err
		}
		publisher = natsClient
	}
	if cfg.MinioEndpoint != "" {
		bucket, err := receipts.NewMinioBucket(ctx, receipts.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Secure:    cfg.MinioSecure,
		})
		if err != nil {
			return err
		}
		publisher = messaging.Fanout{publisher, receipts.NewArchive(bucket, logger)}
	}

	// Idempotency
	var idem idempotency.Store = idempotency.NewMemory(cfg.IdempotencyTTL)
	if cfg.RedisURL != "" {
		redisStore, err := idempotency.NewRedisStore(cfg.RedisURL, "nftauction:idem:", cfg.IdempotencyTTL)
		if err != nil {
			return err
		}
		cleanups = append(cleanups, func() { redisStore.Close() })
		idem = redisStore
	}

	engine, err := auction.NewEngine(auction.Config{
		MinDuration:    cfg.MinDuration,
		MaxDuration:    cfg.MaxDuration,
		EngineIdentity: cfg.EngineIdentity,
		Owner:          cfg.Owner,
		Currencies:     cfg.SupportedCurrencies,
	}, store, guardedAssets, guardedLedger, policy,
		auction.WithLocker(locker),
		auction.WithPublisher(publisher),
		auction.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	gw := gateway.NewGateway(gateway.Config{
		Port:            cfg.Port,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
	}, gateway.Deps{
		Engine:      engine,
		Fees:        policy,
		Oracle:      prices,
		Auth:        auth.NewService(cfg.JWTSecret, 24*time.Hour),
		Idempotency: idem,
		Hub:         hub,
		Breakers:    []*circuit.Breaker{guardedLedger.Breaker(), guardedAssets.Breaker()},
		Logger:      logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(gw.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return gw.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("auction service stopped")
	return nil
}

func seedFeeds(ctx context.Context, prices *oracle.Oracle, cfg *config.Config) error {
	feeds := []struct {
		currency, name, price string
	}{
		{ledger.Native, "ETH / USD", cfg.NativePriceUSD},
		{"LINK", "LINK / USD", cfg.LinkPriceUSD},
	}
	for _, f := range feeds {
		price, err := decimal.NewFromString(f.price)
		if err != nil {
			return fmt.Errorf("invalid %s price %q: %w", f.name, f.price, err)
		}
		if _, err := prices.Register(ctx, cfg.Owner, f.currency, f.name, price, 18); err != nil {
			return err
		}
	}
	return nil
}
