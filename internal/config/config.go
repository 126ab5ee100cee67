// Package config defines the top-level configuration for the wager engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// (or YAML) file and then optionally overridden by WAGER_* environment
// variables.
type Config struct {
	Protocol  ProtocolConfig `toml:"protocol" yaml:"protocol"`
	Store     StoreConfig    `toml:"store" yaml:"store"`
	Postgres  PostgresConfig `toml:"postgres" yaml:"postgres"`
	SQLite    SQLiteConfig   `toml:"sqlite" yaml:"sqlite"`
	Redis     RedisConfig    `toml:"redis" yaml:"redis"`
	S3        S3Config       `toml:"s3" yaml:"s3"`
	Archive   ArchiveConfig  `toml:"archive" yaml:"archive"`
	Locks     LocksConfig    `toml:"locks" yaml:"locks"`
	Server    ServerConfig   `toml:"server" yaml:"server"`
	Notify    NotifyConfig   `toml:"notify" yaml:"notify"`
	Metrics   MetricsConfig  `toml:"metrics" yaml:"metrics"`
	Mode      string         `toml:"mode" yaml:"mode"`
	LogLevel  string         `toml:"log_level" yaml:"log_level"`
	LogFormat string         `toml:"log_format" yaml:"log_format"`
}

// ProtocolConfig holds the fee ceiling enforced on every fee change and the
// optional parameters used to initialise the protocol at startup.
type ProtocolConfig struct {
	// MaxFeeBps is the operator ceiling applied on top of the 10000 bps hard
	// limit. Zero allows only fee-free schedules.
	MaxFeeBps      int    `toml:"max_fee_bps" yaml:"max_fee_bps"`
	AutoInit       bool   `toml:"auto_init" yaml:"auto_init"`
	ProtocolFeeBps int    `toml:"protocol_fee_bps" yaml:"protocol_fee_bps"`
	CancelFeeBps   int    `toml:"cancel_fee_bps" yaml:"cancel_fee_bps"`
	AmmFee         int    `toml:"amm_fee" yaml:"amm_fee"`
	FeeRecipient   string `toml:"fee_recipient" yaml:"fee_recipient"`
	DevRecipient   string `toml:"dev_recipient" yaml:"dev_recipient"`
	KeyFile        string `toml:"key_file" yaml:"key_file"`
	KeyPassword    string `toml:"key_password" yaml:"key_password"`
}

// StoreConfig selects the ledger persistence backend.
type StoreConfig struct {
	Driver string `toml:"driver" yaml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn" yaml:"dsn"`
	Host          string `toml:"host" yaml:"host"`
	Port          int    `toml:"port" yaml:"port"`
	Database      string `toml:"database" yaml:"database"`
	User          string `toml:"user" yaml:"user"`
	Password      string `toml:"password" yaml:"password"`
	SSLMode       string `toml:"ssl_mode" yaml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns" yaml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns" yaml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations" yaml:"run_migrations"`
}

// SQLiteConfig holds parameters for the embedded store.
type SQLiteConfig struct {
	Path        string   `toml:"path" yaml:"path"`
	BusyTimeout duration `toml:"busy_timeout" yaml:"busy_timeout"`
}

// RedisConfig holds Redis connection parameters. When disabled, locks and the
// event bus fall back to in-process implementations.
type RedisConfig struct {
	Enabled        bool     `toml:"enabled" yaml:"enabled"`
	Addr           string   `toml:"addr" yaml:"addr"`
	Password       string   `toml:"password" yaml:"password"`
	DB             int      `toml:"db" yaml:"db"`
	PoolSize       int      `toml:"pool_size" yaml:"pool_size"`
	MaxRetries     int      `toml:"max_retries" yaml:"max_retries"`
	TLSEnabled     bool     `toml:"tls_enabled" yaml:"tls_enabled"`
	MarketCacheTTL duration `toml:"market_cache_ttl" yaml:"market_cache_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled" yaml:"enabled"`
	Endpoint       string `toml:"endpoint" yaml:"endpoint"`
	Region         string `toml:"region" yaml:"region"`
	Bucket         string `toml:"bucket" yaml:"bucket"`
	AccessKey      string `toml:"access_key" yaml:"access_key"`
	SecretKey      string `toml:"secret_key" yaml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl" yaml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style" yaml:"force_path_style"`
}

// ArchiveConfig controls export of settled markets to cold storage.
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled" yaml:"enabled"`
	Interval  duration `toml:"interval" yaml:"interval"`
	Retention duration `toml:"retention" yaml:"retention"`
	BatchSize int      `toml:"batch_size" yaml:"batch_size"`
	// ReconcileInterval is how often every market's escrow is re-verified.
	// Zero disables the reconciler.
	ReconcileInterval duration `toml:"reconcile_interval" yaml:"reconcile_interval"`
}

// LocksConfig tunes per-market lock acquisition.
type LocksConfig struct {
	TTL           duration `toml:"ttl" yaml:"ttl"`
	WaitTimeout   duration `toml:"wait_timeout" yaml:"wait_timeout"`
	RetryInterval duration `toml:"retry_interval" yaml:"retry_interval"`
}

// duration is a wrapper around time.Duration that supports string decoding
// (e.g. "5m", "30s") from both TOML and YAML.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled          bool     `toml:"enabled" yaml:"enabled"`
	Port             int      `toml:"port" yaml:"port"`
	CORSOrigins      []string `toml:"cors_origins" yaml:"cors_origins"`
	APIKey           string   `toml:"api_key" yaml:"api_key"`
	SignatureMaxSkew duration `toml:"signature_max_skew" yaml:"signature_max_skew"`
	RateLimit        int      `toml:"rate_limit" yaml:"rate_limit"`
	RateWindow       duration `toml:"rate_window" yaml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token" yaml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id" yaml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url" yaml:"discord_webhook_url"`
	Events            []string `toml:"events" yaml:"events"`
	PerMinute         int      `toml:"per_minute" yaml:"per_minute"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Protocol: ProtocolConfig{
			MaxFeeBps:      2500,
			ProtocolFeeBps: 200,
			CancelFeeBps:   100,
		},
		Store: StoreConfig{
			Driver: "postgres",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "wager",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{
			Path:        "wager.db",
			BusyTimeout: duration{5 * time.Second},
		},
		Redis: RedisConfig{
			Enabled:        true,
			Addr:           "localhost:6379",
			PoolSize:       20,
			MaxRetries:     3,
			MarketCacheTTL: duration{5 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "wager-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Interval:          duration{6 * time.Hour},
			Retention:         duration{30 * 24 * time.Hour},
			BatchSize:         200,
			ReconcileInterval: duration{15 * time.Minute},
		},
		Locks: LocksConfig{
			TTL:           duration{10 * time.Second},
			WaitTimeout:   duration{5 * time.Second},
			RetryInterval: duration{25 * time.Millisecond},
		},
		Server: ServerConfig{
			Enabled:          true,
			Port:             8000,
			CORSOrigins:      []string{"http://localhost:3000", "http://localhost:5173"},
			SignatureMaxSkew: duration{5 * time.Minute},
			RateLimit:        120,
			RateWindow:       duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:    []string{"MarketResolved", "MarketCancelled", "ProtocolInitialized", "FeesUpdated"},
			PerMinute: 20,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Mode:      "serve",
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"migrate": true,
	"archive": true,
	"report":  true,
	"keygen":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, migrate, archive, report, keygen)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Sprintf("unknown log_format %q (valid: json, text)", c.LogFormat))
	}

	// Protocol
	if c.Protocol.MaxFeeBps < 0 || c.Protocol.MaxFeeBps > 10000 {
		errs = append(errs, fmt.Sprintf("protocol: max_fee_bps must be 0-10000, got %d", c.Protocol.MaxFeeBps))
	}
	for name, v := range map[string]int{
		"protocol_fee_bps": c.Protocol.ProtocolFeeBps,
		"cancel_fee_bps":   c.Protocol.CancelFeeBps,
		"amm_fee":          c.Protocol.AmmFee,
	} {
		if v < 0 || v > c.Protocol.MaxFeeBps {
			errs = append(errs, fmt.Sprintf("protocol: %s must be 0-%d, got %d", name, c.Protocol.MaxFeeBps, v))
		}
	}
	if c.Protocol.FeeRecipient != "" && !common.IsHexAddress(c.Protocol.FeeRecipient) {
		errs = append(errs, fmt.Sprintf("protocol: fee_recipient %q is not a hex address", c.Protocol.FeeRecipient))
	}
	if c.Protocol.DevRecipient != "" && !common.IsHexAddress(c.Protocol.DevRecipient) {
		errs = append(errs, fmt.Sprintf("protocol: dev_recipient %q is not a hex address", c.Protocol.DevRecipient))
	}
	if c.Protocol.AutoInit {
		if c.Protocol.KeyFile == "" {
			errs = append(errs, "protocol: key_file is required when auto_init is set")
		}
		if c.Protocol.FeeRecipient == "" {
			errs = append(errs, "protocol: fee_recipient is required when auto_init is set")
		}
	}
	if c.Protocol.KeyFile != "" && c.Protocol.KeyPassword == "" {
		errs = append(errs, "protocol: key_password is required when key_file is set")
	}

	// Store
	switch c.Store.Driver {
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	case "sqlite":
		if c.SQLite.Path == "" {
			errs = append(errs, "sqlite: path must not be empty")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: postgres, sqlite)", c.Store.Driver))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}
	if c.Archive.Enabled || c.Mode == "archive" {
		if !c.S3.Enabled {
			errs = append(errs, "archive: s3 must be enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
		if c.Archive.BatchSize < 1 {
			errs = append(errs, "archive: batch_size must be >= 1")
		}
	}

	if c.Archive.ReconcileInterval.Duration < 0 {
		errs = append(errs, "archive: reconcile_interval must be >= 0")
	}

	// Locks
	if c.Locks.TTL.Duration <= 0 {
		errs = append(errs, "locks: ttl must be > 0")
	}
	if c.Locks.RetryInterval.Duration <= 0 {
		errs = append(errs, "locks: retry_interval must be > 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.SignatureMaxSkew.Duration <= 0 {
			errs = append(errs, "server: signature_max_skew must be > 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
