package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds application configuration. Empty backend URLs select the
// in-memory implementation of that backend.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	Environment string `env:"ENV" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`
	LogFormat   string `env:"LOG_FORMAT"`

	DatabaseURL   string   `env:"DATABASE_URL"`
	NATSURL       string   `env:"NATS_URL"`
	RedisURL      string   `env:"REDIS_URL"`
	EtcdEndpoints []string `env:"ETCD_ENDPOINTS" envSeparator:","`

	InfluxURL    string `env:"INFLUXDB_URL"`
	InfluxToken  string `env:"INFLUXDB_TOKEN"`
	InfluxOrg    string `env:"INFLUXDB_ORG"`
	InfluxBucket string `env:"INFLUXDB_BUCKET" envDefault:"prices"`

	// Settlement receipts go to an S3-compatible bucket when set.
	MinioEndpoint  string `env:"MINIO_ENDPOINT"`
	MinioAccessKey string `env:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `env:"MINIO_SECRET_KEY"`
	MinioBucket    string `env:"MINIO_BUCKET" envDefault:"auction-receipts"`
	MinioSecure    bool   `env:"MINIO_SECURE" envDefault:"false"`

	JWTSecret string `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`

	// Owner may change fees, currencies and price feeds.
	Owner string `env:"AUCTION_OWNER" envDefault:"owner"`
	// EngineIdentity is the operator sellers approve to take custody.
	EngineIdentity string `env:"AUCTION_ENGINE_ID" envDefault:"auction-house"`

	// Fractions: "0.025" is 2.5%.
	FeePercent   string `env:"FEE_PERCENT" envDefault:"0.025"`
	FeeCap       string `env:"FEE_CAP" envDefault:"0.10"`
	FeeRecipient string `env:"FEE_RECIPIENT" envDefault:"treasury"`

	MinDuration time.Duration `env:"AUCTION_MIN_DURATION" envDefault:"1h"`
	MaxDuration time.Duration `env:"AUCTION_MAX_DURATION" envDefault:"720h"`

	SupportedCurrencies []string      `env:"SUPPORTED_CURRENCIES" envSeparator:","`
	PriceMaxAge         time.Duration `env:"PRICE_MAX_AGE" envDefault:"0s"`
	NativePriceUSD      string        `env:"NATIVE_PRICE_USD" envDefault:"3000"`
	LinkPriceUSD        string        `env:"LINK_PRICE_USD" envDefault:"15"`

	RateLimitMax    int           `env:"RATE_LIMIT_MAX" envDefault:"120"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
	IdempotencyTTL  time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	BreakerMaxFailures int           `env:"BREAKER_MAX_FAILURES" envDefault:"5"`
	BreakerTimeout     time.Duration `env:"BREAKER_TIMEOUT" envDefault:"30s"`
	AdapterTimeout     time.Duration `env:"ADAPTER_TIMEOUT" envDefault:"5s"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load parses configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	if c.MinDuration <= 0 || c.MaxDuration < c.MinDuration {
		return fmt.Errorf("invalid auction duration bounds %s..%s", c.MinDuration, c.MaxDuration)
	}
	if c.Owner == "" {
		return fmt.Errorf("AUCTION_OWNER must be set")
	}
	if c.EngineIdentity == "" {
		return fmt.Errorf("AUCTION_ENGINE_ID must be set")
	}
	if c.Environment == "production" && c.JWTSecret == "dev-secret-change-me" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	return nil
}
