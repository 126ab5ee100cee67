package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polywager/internal/domain"
)

// SettledSource supplies settled markets for archival and records which ones
// were exported.
type SettledSource interface {
	SettledBatch(ctx context.Context, cutoff time.Time, limit int) ([]domain.SettledMarket, error)
	MarkArchived(ctx context.Context, ids []uint64) error
}

// Archiver exports terminal markets older than the retention period to cold
// storage and flags them as archived. The records stay in the ledger store.
type Archiver struct {
	source    SettledSource
	blob      domain.Archiver
	clock     domain.Clock
	retention time.Duration
	batchSize int
	logger    *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(source SettledSource, blob domain.Archiver, clock domain.Clock, retention time.Duration, batchSize int, logger *slog.Logger) *Archiver {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Archiver{
		source:    source,
		blob:      blob,
		clock:     clock,
		retention: retention,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run performs one archive pass, draining batches until no eligible market
// is left, and returns the number of markets archived.
func (a *Archiver) Run(ctx context.Context) (int64, error) {
	cutoff := a.clock.Now().Add(-a.retention)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("batch_size", a.batchSize),
	)

	var total int64
	for {
		batch, err := a.source.SettledBatch(ctx, cutoff, a.batchSize)
		if err != nil {
			return total, fmt.Errorf("archiver: load settled markets before %v: %w", cutoff, err)
		}
		if len(batch) == 0 {
			break
		}

		n, err := a.blob.ArchiveSettled(ctx, batch)
		if err != nil {
			return total, fmt.Errorf("archiver: upload %d markets: %w", len(batch), err)
		}
		ids := make([]uint64, 0, len(batch))
		for _, sm := range batch {
			ids = append(ids, sm.Market.ID)
		}
		if err := a.source.MarkArchived(ctx, ids); err != nil {
			return total, fmt.Errorf("archiver: mark archived: %w", err)
		}
		total += n
		a.logger.InfoContext(ctx, "archived markets", slog.Int64("count", n))

		if len(batch) < a.batchSize {
			break
		}
	}

	a.logger.InfoContext(ctx, "archive run complete", slog.Int64("markets_archived", total))
	return total, nil
}

// RunLoop runs an archive pass immediately and then every interval until ctx
// is cancelled. Failed passes are logged and retried on the next tick.
func (a *Archiver) RunLoop(ctx context.Context, interval time.Duration) error {
	a.logger.InfoContext(ctx, "archiver loop started", slog.Duration("interval", interval))
	if _, err := a.Run(ctx); err != nil {
		a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
