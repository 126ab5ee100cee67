package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polywager/internal/domain"
	"github.com/alanyoungcy/polywager/internal/metrics"
)

// LedgerConfig holds the tunables of LedgerService.
type LedgerConfig struct {
	// MaxFeeBps is the operator ceiling applied on top of the hard 10000 bps
	// limit when fees are set. Zero allows only fee-free schedules.
	MaxFeeBps uint16
	// LockTTL bounds how long a crashed holder can block a market.
	LockTTL time.Duration
	// LockWait is how long an operation queues for a busy market before
	// failing with domain.ErrLockHeld.
	LockWait      time.Duration
	RetryInterval time.Duration
}

func (c LedgerConfig) withDefaults() LedgerConfig {
	if c.MaxFeeBps > domain.MaxBps {
		c.MaxFeeBps = domain.MaxBps
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Second
	}
	if c.LockWait <= 0 {
		c.LockWait = 3 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 20 * time.Millisecond
	}
	return c
}

// LedgerService runs the ledger transitions against persistent storage.
// Each mutation takes the lock of the record it serializes on, applies the
// transition, moves funds and writes the audit entry in one store
// transaction, and only after commit publishes its event, refreshes caches
// and records metrics.
type LedgerService struct {
	ledger  domain.Ledger
	locks   domain.LockManager
	bus     domain.SignalBus
	cache   domain.MarketCache
	clock   domain.Clock
	metrics *metrics.Metrics
	cfg     LedgerConfig
	logger  *slog.Logger
}

// NewLedgerService creates a LedgerService. m may be nil.
func NewLedgerService(
	ledger domain.Ledger,
	locks domain.LockManager,
	bus domain.SignalBus,
	cache domain.MarketCache,
	clock domain.Clock,
	m *metrics.Metrics,
	cfg LedgerConfig,
	logger *slog.Logger,
) *LedgerService {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &LedgerService{
		ledger:  ledger,
		locks:   locks,
		bus:     bus,
		cache:   cache,
		clock:   clock,
		metrics: m,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

const protocolLockKey = "protocol"

func marketLockKey(id uint64) string {
	return fmt.Sprintf("market:%d", id)
}

// acquire polls the lock manager until the lock is free, ctx ends or the
// configured wait elapses.
func (s *LedgerService) acquire(ctx context.Context, key string) (func(), error) {
	start := time.Now()
	deadline := start.Add(s.cfg.LockWait)
	for {
		unlock, err := s.locks.Acquire(ctx, key, s.cfg.LockTTL)
		if err == nil {
			s.metrics.ObserveLockWait(time.Since(start))
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("ledger_service: lock %s: %w", key, err)
		}
		if time.Now().Add(s.cfg.RetryInterval).After(deadline) {
			return nil, fmt.Errorf("ledger_service: lock %s busy for %s: %w", key, s.cfg.LockWait, domain.ErrLockHeld)
		}

		timer := time.NewTimer(s.cfg.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("ledger_service: lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

// txFunc applies one transition inside a transaction and returns the event
// describing it.
type txFunc func(ctx context.Context, tx domain.Stores, now time.Time) (domain.LedgerEvent, error)

// mutate runs fn under lockKey in a transaction, audits it in the same
// transaction and publishes the event after commit.
func (s *LedgerService) mutate(ctx context.Context, op, lockKey string, fn txFunc) (domain.LedgerEvent, error) {
	start := time.Now()
	evt, err := s.mutateLocked(ctx, lockKey, fn)
	code := "OK"
	if err != nil {
		code = domain.ErrorCode(err)
	}
	s.metrics.RecordOperation(op, code, time.Since(start))

	if err != nil {
		level := slog.LevelInfo
		if code == "Internal" {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, "ledger_service: operation rejected",
			slog.String("op", op),
			slog.String("code", code),
			slog.String("error", err.Error()),
		)
		return domain.LedgerEvent{}, err
	}

	s.publish(ctx, evt)
	return evt, nil
}

func (s *LedgerService) mutateLocked(ctx context.Context, lockKey string, fn txFunc) (domain.LedgerEvent, error) {
	unlock, err := s.acquire(ctx, lockKey)
	if err != nil {
		return domain.LedgerEvent{}, err
	}
	defer unlock()

	now := s.clock.Now()
	var evt domain.LedgerEvent
	err = s.ledger.InTx(ctx, func(tx domain.Stores) error {
		e, err := fn(ctx, tx, now)
		if err != nil {
			return err
		}
		e.ID = uuid.NewString()
		e.OccurredAt = now
		if err := tx.Audit().Log(ctx, string(e.Type), auditDetail(e)); err != nil {
			return fmt.Errorf("audit %s: %w", e.Type, err)
		}
		evt = e
		return nil
	})
	if err != nil {
		return domain.LedgerEvent{}, err
	}
	if evt.MarketID != nil {
		s.refreshCache(ctx, *evt.MarketID)
	}
	return evt, nil
}

// readLocked runs fn in a transaction while holding lockKey, so that the
// records it reads form one consistent snapshot.
func (s *LedgerService) readLocked(ctx context.Context, lockKey string, fn func(tx domain.Stores) error) error {
	unlock, err := s.acquire(ctx, lockKey)
	if err != nil {
		return err
	}
	defer unlock()
	return s.ledger.InTx(ctx, fn)
}

// refreshCache stores the committed market. It runs while the market lock is
// still held, so cache writes follow commit order. If the reload fails the
// entry is dropped instead.
func (s *LedgerService) refreshCache(ctx context.Context, id uint64) {
	if s.cache == nil {
		return
	}
	m, err := s.ledger.Markets().GetByID(ctx, id)
	if err == nil {
		err = s.cache.Set(ctx, m)
	}
	if err == nil {
		return
	}
	s.logger.WarnContext(ctx, "ledger_service: cache refresh failed",
		slog.Uint64("market_id", id),
		slog.String("error", err.Error()),
	)
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "ledger_service: cache invalidate failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// auditDetail flattens an event into the audit log's JSON detail.
func auditDetail(e domain.LedgerEvent) map[string]any {
	data, err := json.Marshal(e)
	if err != nil {
		return map[string]any{"event_id": e.ID}
	}
	detail := map[string]any{}
	_ = json.Unmarshal(data, &detail)
	return detail
}

// publish fans the committed event out. Failures are logged only: the
// operation has already committed.
func (s *LedgerService) publish(ctx context.Context, evt domain.LedgerEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		s.logger.ErrorContext(ctx, "ledger_service: marshal event failed",
			slog.String("event_id", evt.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.Publish(ctx, domain.EventsChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "ledger_service: publish event failed",
			slog.String("event_id", evt.ID),
			slog.String("type", string(evt.Type)),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, domain.EventsStream, payload); err != nil {
		s.logger.WarnContext(ctx, "ledger_service: stream append failed",
			slog.String("event_id", evt.ID),
			slog.String("type", string(evt.Type)),
			slog.String("error", err.Error()),
		)
	}

	attrs := []any{
		slog.String("event_id", evt.ID),
		slog.String("type", string(evt.Type)),
		slog.String("actor", evt.Actor.Hex()),
	}
	if evt.MarketID != nil {
		attrs = append(attrs, slog.Uint64("market_id", *evt.MarketID))
	}
	if evt.Position != nil {
		attrs = append(attrs, slog.String("position", evt.Position.Hex()))
	}
	if !evt.Amount.IsZero() {
		attrs = append(attrs, slog.String("amount", evt.Amount.String()))
	}
	if !evt.Payout.IsZero() || !evt.Fee.IsZero() {
		attrs = append(attrs, slog.String("payout", evt.Payout.String()), slog.String("fee", evt.Fee.String()))
	}
	s.logger.InfoContext(ctx, "ledger_service: committed", attrs...)
}

// refreshMarketGauges recounts markets per status for the metrics gauge.
func (s *LedgerService) refreshMarketGauges(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	for _, st := range []domain.MarketStatus{domain.MarketStatusOpen, domain.MarketStatusResolved, domain.MarketStatusCancelled} {
		n, err := s.ledger.Markets().Count(ctx, st)
		if err != nil {
			s.logger.WarnContext(ctx, "ledger_service: count markets failed",
				slog.String("status", string(st)),
				slog.String("error", err.Error()),
			)
			return
		}
		s.metrics.SetMarkets(string(st), n)
	}
}

// loadProtocol reads the protocol inside tx without locking it, mapping a
// missing singleton to domain.ErrNotInitialized.
func loadProtocol(ctx context.Context, tx domain.Stores) (domain.Protocol, error) {
	return checkProtocol(tx.Protocols().Get(ctx))
}

// lockProtocol is loadProtocol for operations that rewrite the singleton.
func lockProtocol(ctx context.Context, tx domain.Stores) (domain.Protocol, error) {
	return checkProtocol(tx.Protocols().GetForUpdate(ctx))
}

func checkProtocol(p domain.Protocol, err error) (domain.Protocol, error) {
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Protocol{}, fmt.Errorf("ledger_service: %w", domain.ErrNotInitialized)
		}
		return domain.Protocol{}, fmt.Errorf("ledger_service: load protocol: %w", err)
	}
	return p, nil
}

// applyTransfers assigns ids and executes transfers in order.
func applyTransfers(ctx context.Context, tx domain.Stores, transfers ...domain.Transfer) error {
	for _, t := range transfers {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if err := tx.Accounts().Transfer(ctx, t); err != nil {
			return fmt.Errorf("ledger_service: %s transfer %s -> %s: %w", t.Kind, t.From.Hex(), t.To.Hex(), err)
		}
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
