// Package config defines the top-level configuration for the wallet PnL
// tracker and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/gabagool-watch/watchmegain-sub001/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by WMG_* environment variables.
type Config struct {
	Wallets    []WalletEntry    `toml:"wallets"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Goldsky    GoldskyConfig    `toml:"goldsky"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Sync       SyncConfig       `toml:"sync"`
	Lag        LagConfig        `toml:"lag"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletEntry is one tracked wallet from the config file.
type WalletEntry struct {
	Address string `toml:"address"`
	Alias   string `toml:"alias"`
}

// PolymarketConfig holds venue API endpoints.
type PolymarketConfig struct {
	GammaHost string `toml:"gamma_host"`
	DataHost  string `toml:"data_host"`
}

// GoldskyConfig holds the fill-source GraphQL endpoint.
type GoldskyConfig struct {
	URL      string `toml:"url"`
	APIKey   string `toml:"api_key"`
	PageSize int    `toml:"page_size"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	MarkTTL    duration `toml:"mark_ttl"`
}

// S3Config holds S3-compatible object storage parameters for cold archives.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SyncConfig holds sync-engine scheduling and accounting parameters.
type SyncConfig struct {
	Interval             duration `toml:"interval"`
	Parallelism          int      `toml:"parallelism"`
	LockTTL              duration `toml:"lock_ttl"`
	LockWait             duration `toml:"lock_wait"`
	AllowShort           bool     `toml:"allow_short"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
	ArchiveCron          string   `toml:"archive_cron"`
}

// LagConfig selects the two price series the lag correlator aligns.
type LagConfig struct {
	Tolerance       duration `toml:"tolerance"`
	ReferenceSource string   `toml:"reference_source"`
	ReferenceSymbol string   `toml:"reference_symbol"`
	ReferenceSide   string   `toml:"reference_side"`
	DerivedSource   string   `toml:"derived_source"`
	DerivedSymbol   string   `toml:"derived_symbol"`
	DerivedSide     string   `toml:"derived_side"`
	Window          duration `toml:"window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			GammaHost: "https://gamma-api.polymarket.com",
			DataHost:  "https://data-api.polymarket.com",
		},
		Goldsky: GoldskyConfig{
			PageSize: 1000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			MarkTTL:    duration{24 * time.Hour},
		},
		S3: S3Config{
			Region: "us-east-1",
			Prefix: "archive",
			UseSSL: true,
		},
		Sync: SyncConfig{
			Interval:             duration{5 * time.Minute},
			Parallelism:          4,
			LockTTL:              duration{5 * time.Minute},
			LockWait:             duration{30 * time.Second},
			ArchiveRetentionDays: 90,
			ArchiveCron:          "0 3 1 * *",
		},
		Lag: LagConfig{
			Tolerance:       duration{60 * time.Second},
			ReferenceSource: domain.PriceSourceSpot,
			ReferenceSide:   domain.PriceSideMid,
			DerivedSource:   domain.PriceSourcePrediction,
			DerivedSide:     domain.PriceSideMid,
			Window:          duration{24 * time.Hour},
		},
		Mode:     "sync",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"sync":   true,
	"once":   true,
	"import": true,
	"lag":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for internal consistency and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: sync, once, import, lag)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	for i, w := range c.Wallets {
		if _, err := domain.NormalizeAddress(w.Address); err != nil {
			errs = append(errs, fmt.Sprintf("wallets[%d]: invalid address %q", i, w.Address))
		}
	}

	mode := strings.ToLower(c.Mode)
	if (mode == "sync" || mode == "once") && c.Goldsky.URL == "" {
		errs = append(errs, "goldsky: url must be set for mode "+c.Mode)
	}
	if mode == "import" && c.Polymarket.DataHost == "" {
		errs = append(errs, "polymarket: data_host must be set for mode import")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}

	if c.Postgres.DSN == "" && (c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "") {
		errs = append(errs, "postgres: either dsn or host/database/user must be set")
	}
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must be set when s3 is enabled")
		}
		if c.S3.AccessKey == "" || c.S3.SecretKey == "" {
			errs = append(errs, "s3: access_key and secret_key must be set when s3 is enabled")
		}
	}

	if c.Sync.Interval.Duration <= 0 {
		errs = append(errs, "sync: interval must be positive")
	}
	if c.Sync.Parallelism <= 0 {
		errs = append(errs, "sync: parallelism must be positive")
	}
	if c.Sync.ArchiveRetentionDays < 0 {
		errs = append(errs, "sync: archive_retention_days must not be negative")
	}

	if mode == "lag" {
		if c.Lag.ReferenceSymbol == "" || c.Lag.DerivedSymbol == "" {
			errs = append(errs, "lag: reference_symbol and derived_symbol must be set for mode lag")
		}
		if c.Lag.Tolerance.Duration <= 0 {
			errs = append(errs, "lag: tolerance must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
