package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polywager/internal/domain"
	"github.com/alanyoungcy/polywager/internal/service"
)

// MarketVerifier lists markets and checks their escrow.
type MarketVerifier interface {
	MarketsFrom(ctx context.Context, fromID uint64, limit int) ([]domain.Market, error)
	VerifyMarket(ctx context.Context, id uint64) (service.Verification, error)
}

// Reconciler periodically runs the escrow conservation check over every
// market that is not archived or still holds escrow.
type Reconciler struct {
	verifier MarketVerifier
	pageSize int
	logger   *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(verifier MarketVerifier, logger *slog.Logger) *Reconciler {
	return &Reconciler{verifier: verifier, pageSize: 100, logger: logger}
}

// Run checks every live market once and returns the ids that failed.
// Markets are paged by id so ones created mid-run never shift the cursor.
func (r *Reconciler) Run(ctx context.Context) ([]uint64, error) {
	var failed []uint64
	checked := 0
	for next := uint64(0); ; {
		markets, err := r.verifier.MarketsFrom(ctx, next, r.pageSize)
		if err != nil {
			return failed, fmt.Errorf("reconciler: list markets from %d: %w", next, err)
		}
		for _, m := range markets {
			next = m.ID + 1
			if m.Archived && m.EscrowBalance.IsZero() {
				continue
			}
			v, err := r.verifier.VerifyMarket(ctx, m.ID)
			if err != nil {
				return failed, fmt.Errorf("reconciler: verify market %d: %w", m.ID, err)
			}
			checked++
			if !v.OK {
				failed = append(failed, m.ID)
			}
		}
		if len(markets) < r.pageSize {
			break
		}
	}

	level := slog.LevelInfo
	if len(failed) > 0 {
		level = slog.LevelError
	}
	r.logger.Log(ctx, level, "reconcile run complete",
		slog.Int("checked", checked),
		slog.Int("failed", len(failed)),
	)
	return failed, nil
}

// RunLoop reconciles every interval until ctx is cancelled.
func (r *Reconciler) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil {
				r.logger.ErrorContext(ctx, "reconcile run failed", slog.String("error", err.Error()))
			}
		}
	}
}
