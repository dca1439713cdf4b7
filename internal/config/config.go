// Package config loads service settings from the environment and an optional
// .env file.
package config

import (
	"fmt"
	"log"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Postgres Postgres
	Redis    Redis
	Kafka    Kafka
	Pricing  Pricing
	Jobs     Jobs
}

type Postgres struct {
	URL            string `env:"DATABASE_URL"`
	Isolation      string `env:"DB_ISOLATION" envDefault:"serializable"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START" envDefault:"true"`
}

type Redis struct {
	URL       string        `env:"REDIS_URL"`
	CacheTTL  time.Duration `env:"CACHE_TTL" envDefault:"30s"`
	CacheHold time.Duration `env:"CACHE_INVALIDATION_HOLD" envDefault:"5s"`
}

type Kafka struct {
	Brokers     string `env:"KAFKA_BROKERS"`
	NoticeTopic string `env:"KAFKA_NOTICE_TOPIC" envDefault:"bean-notices"`
}

type Pricing struct {
	TierRange     int     `env:"PRICE_TIER_RANGE" envDefault:"1000"`
	Tiers         string  `env:"PRICE_TIERS" envDefault:"normal:800,rare:950,epic:990,heroic:1000"`
	Multipliers   string  `env:"PRICE_MULTIPLIERS" envDefault:"rare:2,epic:3.5,heroic:5"`
	Mu            float64 `env:"PRICE_MU" envDefault:"0"`
	Sigma         float64 `env:"PRICE_SIGMA" envDefault:"1"`
	Seed          uint64  `env:"PRICE_SEED" envDefault:"0"`
	MinPrice      string  `env:"MIN_PRICE" envDefault:"0.01"`
	InceptionDate string  `env:"INCEPTION_DATE"`
}

type Jobs struct {
	PriceCron         string        `env:"PRICE_JOB_CRON" envDefault:"5 0 * * *"`
	InvariantInterval time.Duration `env:"JOBS_INVARIANT_INTERVAL" envDefault:"10m"`
}

// MustLoad reads .env if present, parses the environment and exits on
// invalid settings.
func MustLoad() *Config {
	_ = godotenv.Load(".env")

	cfg, err := Load()
	if err != nil {
		log.Fatalf("parse config error: %s", err)
	}
	return cfg
}

// Load parses and validates the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if _, err := cfg.Postgres.IsoLevel(); err != nil {
		return nil, err
	}
	if _, err := cfg.Pricing.Minimum(); err != nil {
		return nil, err
	}
	if _, err := cfg.Pricing.Inception(time.Time{}); err != nil {
		return nil, err
	}
	if cfg.Jobs.InvariantInterval < 0 {
		return nil, fmt.Errorf("JOBS_INVARIANT_INTERVAL must not be negative")
	}
	if cfg.Pricing.Sigma < 0 {
		return nil, fmt.Errorf("PRICE_SIGMA must not be negative")
	}
	return cfg, nil
}

// SlogLevel maps LOG_LEVEL to a slog level; unknown names mean info.
func (c *Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// IsoLevel maps DB_ISOLATION to a pgx isolation level.
func (p Postgres) IsoLevel() (pgx.TxIsoLevel, error) {
	switch strings.ToLower(strings.ReplaceAll(p.Isolation, "_", " ")) {
	case "", "serializable":
		return pgx.Serializable, nil
	case "repeatable read":
		return pgx.RepeatableRead, nil
	case "read committed":
		return pgx.ReadCommitted, nil
	}
	return "", fmt.Errorf("DB_ISOLATION %q: want serializable, repeatable_read or read_committed", p.Isolation)
}

// Enabled reports whether a Kafka notice sink is configured.
func (k Kafka) Enabled() bool { return strings.TrimSpace(k.Brokers) != "" }

// Minimum parses MIN_PRICE.
func (p Pricing) Minimum() (decimal.Decimal, error) {
	if p.MinPrice == "" {
		return decimal.Zero, nil
	}
	m, err := decimal.NewFromString(p.MinPrice)
	if err != nil {
		return decimal.Zero, fmt.Errorf("MIN_PRICE: %w", err)
	}
	return m, nil
}

// Inception parses INCEPTION_DATE (YYYY-MM-DD), the first day the price job
// backfills for commodities with no history. Unset means fallback.
func (p Pricing) Inception(fallback time.Time) (time.Time, error) {
	if p.InceptionDate == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.DateOnly, p.InceptionDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("INCEPTION_DATE: %w", err)
	}
	return t, nil
}
