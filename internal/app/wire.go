package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/polywager/internal/blob/s3"
	"github.com/alanyoungcy/polywager/internal/cache/local"
	"github.com/alanyoungcy/polywager/internal/cache/redis"
	"github.com/alanyoungcy/polywager/internal/config"
	"github.com/alanyoungcy/polywager/internal/domain"
	"github.com/alanyoungcy/polywager/internal/metrics"
	"github.com/alanyoungcy/polywager/internal/notify"
	"github.com/alanyoungcy/polywager/internal/server/handler"
	"github.com/alanyoungcy/polywager/internal/service"
	"github.com/alanyoungcy/polywager/internal/store/postgres"
	"github.com/alanyoungcy/polywager/internal/store/sqlite"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Ledger      domain.Ledger
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	NonceStore  domain.NonceStore

	// Archiver is nil unless S3 is enabled.
	Archiver domain.Archiver

	Metrics  *metrics.Metrics
	Notifier *notify.Notifier
	Service  *service.LedgerService

	// HealthChecks probe every external backend that was wired.
	HealthChecks map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics:      metrics.New(),
		HealthChecks: make(map[string]handler.HealthCheck),
	}

	// --- Ledger store ---
	switch cfg.Store.Driver {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations || cfg.Mode == "migrate" {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Ledger = pgClient.Ledger()
		deps.HealthChecks["postgres"] = func(ctx context.Context) error { return pgClient.Pool().Ping(ctx) }
	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.SQLite.Path, cfg.SQLite.BusyTimeout.Duration)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: sqlite: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		deps.Ledger = db
		deps.HealthChecks["sqlite"] = db.Ping
	default:
		return nil, nil, fmt.Errorf("wire: unknown store driver %q", cfg.Store.Driver)
	}

	// --- Locks, events, caches ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.MarketCacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.NonceStore = redis.NewNonceStore(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	} else {
		logger.Warn("redis disabled; locks and events are local to this process")
		deps.LockManager = local.NewLockManager()
		deps.SignalBus = local.NewSignalBus()
		deps.MarketCache = local.NewMarketCache(cfg.Redis.MarketCacheTTL.Duration)
		deps.RateLimiter = local.NewRateLimiter()
		deps.NonceStore = local.NewNonceStore()
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), deps.Ledger.Audit())
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.Throttle(
			notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID),
			cfg.Notify.PerMinute,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.Throttle(
			notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL),
			cfg.Notify.PerMinute,
		))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, deps.Metrics, logger)

	// --- Service ---
	deps.Service = service.NewLedgerService(
		deps.Ledger,
		deps.LockManager,
		deps.SignalBus,
		deps.MarketCache,
		domain.SystemClock{},
		deps.Metrics,
		service.LedgerConfig{
			MaxFeeBps:     uint16(cfg.Protocol.MaxFeeBps),
			LockTTL:       cfg.Locks.TTL.Duration,
			LockWait:      cfg.Locks.WaitTimeout.Duration,
			RetryInterval: cfg.Locks.RetryInterval.Duration,
		},
		logger.With(slog.String("component", "ledger_service")),
	)

	return deps, cleanup, nil
}
