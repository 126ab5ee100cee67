package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads a configuration file at path, merges it on top of the built-in
// defaults, applies WAGER_* environment variable overrides, and returns the
// final Config. Files ending in .yaml or .yml are decoded as YAML, everything
// else as TOML. The returned Config has NOT been validated; the caller should
// invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known WAGER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the config file.
func applyEnvOverrides(cfg *Config) {
	// ── Protocol ──
	setInt(&cfg.Protocol.MaxFeeBps, "WAGER_PROTOCOL_MAX_FEE_BPS")
	setBool(&cfg.Protocol.AutoInit, "WAGER_PROTOCOL_AUTO_INIT")
	setInt(&cfg.Protocol.ProtocolFeeBps, "WAGER_PROTOCOL_PROTOCOL_FEE_BPS")
	setInt(&cfg.Protocol.CancelFeeBps, "WAGER_PROTOCOL_CANCEL_FEE_BPS")
	setInt(&cfg.Protocol.AmmFee, "WAGER_PROTOCOL_AMM_FEE")
	setStr(&cfg.Protocol.FeeRecipient, "WAGER_PROTOCOL_FEE_RECIPIENT")
	setStr(&cfg.Protocol.DevRecipient, "WAGER_PROTOCOL_DEV_RECIPIENT")
	setStr(&cfg.Protocol.KeyFile, "WAGER_PROTOCOL_KEY_FILE")
	setStr(&cfg.Protocol.KeyPassword, "WAGER_PROTOCOL_KEY_PASSWORD")

	// ── Store ──
	setStr(&cfg.Store.Driver, "WAGER_STORE_DRIVER")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "WAGER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "WAGER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "WAGER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "WAGER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "WAGER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "WAGER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "WAGER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "WAGER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "WAGER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "WAGER_POSTGRES_RUN_MIGRATIONS")

	// ── SQLite ──
	setStr(&cfg.SQLite.Path, "WAGER_SQLITE_PATH")
	setDuration(&cfg.SQLite.BusyTimeout, "WAGER_SQLITE_BUSY_TIMEOUT")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "WAGER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "WAGER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WAGER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WAGER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WAGER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "WAGER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "WAGER_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.MarketCacheTTL, "WAGER_REDIS_MARKET_CACHE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "WAGER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "WAGER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WAGER_S3_REGION")
	setStr(&cfg.S3.Bucket, "WAGER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WAGER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WAGER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WAGER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WAGER_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "WAGER_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "WAGER_ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.Retention, "WAGER_ARCHIVE_RETENTION")
	setInt(&cfg.Archive.BatchSize, "WAGER_ARCHIVE_BATCH_SIZE")
	setDuration(&cfg.Archive.ReconcileInterval, "WAGER_ARCHIVE_RECONCILE_INTERVAL")

	// ── Locks ──
	setDuration(&cfg.Locks.TTL, "WAGER_LOCKS_TTL")
	setDuration(&cfg.Locks.WaitTimeout, "WAGER_LOCKS_WAIT_TIMEOUT")
	setDuration(&cfg.Locks.RetryInterval, "WAGER_LOCKS_RETRY_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "WAGER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "WAGER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "WAGER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "WAGER_SERVER_API_KEY")
	setDuration(&cfg.Server.SignatureMaxSkew, "WAGER_SERVER_SIGNATURE_MAX_SKEW")
	setInt(&cfg.Server.RateLimit, "WAGER_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "WAGER_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WAGER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WAGER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "WAGER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WAGER_NOTIFY_EVENTS")
	setInt(&cfg.Notify.PerMinute, "WAGER_NOTIFY_PER_MINUTE")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "WAGER_METRICS_ENABLED")
	setStr(&cfg.Metrics.Path, "WAGER_METRICS_PATH")

	// ── Top-level ──
	setStr(&cfg.Mode, "WAGER_MODE")
	setStr(&cfg.LogLevel, "WAGER_LOG_LEVEL")
	setStr(&cfg.LogFormat, "WAGER_LOG_FORMAT")
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
