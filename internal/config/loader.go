package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies WMG_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known WMG_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaHost, "WMG_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.DataHost, "WMG_POLYMARKET_DATA_HOST")

	// ── Goldsky ──
	setStr(&cfg.Goldsky.URL, "WMG_GOLDSKY_URL")
	setStr(&cfg.Goldsky.APIKey, "WMG_GOLDSKY_API_KEY")
	setInt(&cfg.Goldsky.PageSize, "WMG_GOLDSKY_PAGE_SIZE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "WMG_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "WMG_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "WMG_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "WMG_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "WMG_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "WMG_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "WMG_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "WMG_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "WMG_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "WMG_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "WMG_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WMG_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WMG_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WMG_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "WMG_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "WMG_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.MarkTTL, "WMG_REDIS_MARK_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "WMG_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "WMG_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WMG_S3_REGION")
	setStr(&cfg.S3.Bucket, "WMG_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "WMG_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "WMG_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WMG_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WMG_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WMG_S3_FORCE_PATH_STYLE")

	// ── Sync ──
	setDuration(&cfg.Sync.Interval, "WMG_SYNC_INTERVAL")
	setInt(&cfg.Sync.Parallelism, "WMG_SYNC_PARALLELISM")
	setDuration(&cfg.Sync.LockTTL, "WMG_SYNC_LOCK_TTL")
	setDuration(&cfg.Sync.LockWait, "WMG_SYNC_LOCK_WAIT")
	setBool(&cfg.Sync.AllowShort, "WMG_SYNC_ALLOW_SHORT")
	setInt(&cfg.Sync.ArchiveRetentionDays, "WMG_SYNC_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Sync.ArchiveCron, "WMG_SYNC_ARCHIVE_CRON")

	// ── Lag ──
	setDuration(&cfg.Lag.Tolerance, "WMG_LAG_TOLERANCE")
	setStr(&cfg.Lag.ReferenceSource, "WMG_LAG_REFERENCE_SOURCE")
	setStr(&cfg.Lag.ReferenceSymbol, "WMG_LAG_REFERENCE_SYMBOL")
	setStr(&cfg.Lag.ReferenceSide, "WMG_LAG_REFERENCE_SIDE")
	setStr(&cfg.Lag.DerivedSource, "WMG_LAG_DERIVED_SOURCE")
	setStr(&cfg.Lag.DerivedSymbol, "WMG_LAG_DERIVED_SYMBOL")
	setStr(&cfg.Lag.DerivedSide, "WMG_LAG_DERIVED_SIDE")
	setDuration(&cfg.Lag.Window, "WMG_LAG_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WMG_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WMG_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "WMG_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WMG_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "WMG_MODE")
	setStr(&cfg.LogLevel, "WMG_LOG_LEVEL")

	// Wallets can be injected as a comma-separated address list.
	if v := os.Getenv("WMG_WALLETS"); v != "" {
		var entries []WalletEntry
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			entries = append(entries, WalletEntry{Address: part})
		}
		if len(entries) > 0 {
			cfg.Wallets = entries
		}
	}
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
