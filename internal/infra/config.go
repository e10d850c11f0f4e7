package infra

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`
	PGHost      string `env:"PGHOST" envDefault:"localhost"`
	PGPort      int    `env:"PGPORT" envDefault:"5435"`
	PGUser      string `env:"PGUSER" envDefault:"trailpay"`
	PGPassword  string `env:"PGPASSWORD" envDefault:"trailpay"`
	PGDatabase  string `env:"PGDATABASE" envDefault:"trailpay"`
	PGMaxConns  int32  `env:"PG_MAX_CONNS" envDefault:"20"`
	PGMinConns  int32  `env:"PG_MIN_CONNS" envDefault:"2"`

	MigrationsDir string `env:"MIGRATIONS_DIR"`

	// Redis. Empty disables the shared projection store and idempotency set.
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6380"`
	RedisPrefix string `env:"REDIS_PREFIX" envDefault:"trailpay:"`

	// JWT
	JWTSecret        string        `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	JWTLearnerExpiry time.Duration `env:"JWT_LEARNER_EXPIRY" envDefault:"24h"`
	JWTCreatorExpiry time.Duration `env:"JWT_CREATOR_EXPIRY" envDefault:"8h"`

	// Server
	APIPort         int           `env:"API_PORT" envDefault:"3100"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// Kafka
	KafkaBrokers     string        `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled     bool          `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaTopicPrefix string        `env:"KAFKA_TOPIC_PREFIX" envDefault:"trailpay"`
	OutboxInterval   time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"500ms"`
	OutboxBatchSize  int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`

	// CORS
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`

	// Dev
	AllowInsecureDefaults bool `env:"ALLOW_INSECURE_DEFAULTS" envDefault:"false"`

	// Stripe payment gate
	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	StripeSuccessURL    string `env:"STRIPE_SUCCESS_URL" envDefault:"http://localhost:3000/trails/{trail}?payment=success"`
	StripeCancelURL     string `env:"STRIPE_CANCEL_URL" envDefault:"http://localhost:3000/trails/{trail}?payment=cancelled"`

	// Progression engine
	WatchSampleInterval  time.Duration `env:"WATCH_SAMPLE_INTERVAL" envDefault:"1s"`
	WatchCompletePercent float64       `env:"WATCH_COMPLETE_PERCENT" envDefault:"80"`
	TrailCacheFresh      time.Duration `env:"TRAIL_CACHE_FRESH" envDefault:"1m"`
	TrailCacheStale      time.Duration `env:"TRAIL_CACHE_STALE" envDefault:"10m"`
	PlayerEventRateLimit int           `env:"PLAYER_EVENT_RATE_LIMIT" envDefault:"120"`
}

// LoadConfig parses environment variables into a Config struct.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks for insecure configuration that must not run in production.
// Set ALLOW_INSECURE_DEFAULTS=true to bypass (local dev only).
func (c *Config) Validate() error {
	if c.WatchCompletePercent <= 0 || c.WatchCompletePercent > 100 {
		return fmt.Errorf("WATCH_COMPLETE_PERCENT must be in (0,100], got %v", c.WatchCompletePercent)
	}
	if c.WatchSampleInterval <= 0 {
		return fmt.Errorf("WATCH_SAMPLE_INTERVAL must be positive")
	}
	if c.AllowInsecureDefaults {
		return nil
	}
	if c.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("JWT_SECRET is set to the insecure default; set a strong secret or set ALLOW_INSECURE_DEFAULTS=true for local dev")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET is too short (%d chars); minimum 32 characters required", len(c.JWTSecret))
	}
	if c.StripeSecretKey != "" && c.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set")
	}
	return nil
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}
