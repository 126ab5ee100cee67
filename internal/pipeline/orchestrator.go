package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs the background jobs: cold-storage archival and escrow
// reconciliation. A nil job is skipped.
type Orchestrator struct {
	archiver          *Archiver
	reconciler        *Reconciler
	archiveInterval   time.Duration
	reconcileInterval time.Duration
	logger            *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	archiver *Archiver,
	reconciler *Reconciler,
	archiveInterval time.Duration,
	reconcileInterval time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		archiver:          archiver,
		reconciler:        reconciler,
		archiveInterval:   archiveInterval,
		reconcileInterval: reconcileInterval,
		logger:            logger,
	}
}

// Run starts the jobs and blocks until ctx is cancelled or a job fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Duration("archive_interval", o.archiveInterval),
		slog.Duration("reconcile_interval", o.reconcileInterval),
	)

	g, ctx := errgroup.WithContext(ctx)

	if o.archiver != nil && o.archiveInterval > 0 {
		g.Go(func() error {
			err := o.archiver.RunLoop(ctx, o.archiveInterval)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	if o.reconciler != nil && o.reconcileInterval > 0 {
		g.Go(func() error {
			err := o.reconciler.RunLoop(ctx, o.reconcileInterval)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("reconciler: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
