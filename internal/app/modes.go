package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polywager/internal/config"
	"github.com/alanyoungcy/polywager/internal/crypto"
	"github.com/alanyoungcy/polywager/internal/domain"
	"github.com/alanyoungcy/polywager/internal/ledger"
	"github.com/alanyoungcy/polywager/internal/notify"
	"github.com/alanyoungcy/polywager/internal/pipeline"
	"github.com/alanyoungcy/polywager/internal/report"
	"github.com/alanyoungcy/polywager/internal/server"
	"github.com/alanyoungcy/polywager/internal/server/handler"
	"github.com/alanyoungcy/polywager/internal/server/ws"
)

const shutdownTimeout = 10 * time.Second

// ServeMode runs the HTTP API, the websocket hub, the notification relay
// and the background archive and reconcile jobs until ctx is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	if a.cfg.Protocol.AutoInit {
		if err := a.autoInitProtocol(ctx, deps); err != nil {
			return fmt.Errorf("serve mode: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	// Keep serving until shutdown even when no component is enabled.
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	if deps.Notifier.Enabled() {
		relay := notify.NewRelay(deps.SignalBus, deps.Notifier, a.logger)
		g.Go(func() error {
			return relay.Run(ctx)
		})
	}

	var archiver *pipeline.Archiver
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		archiver = a.newArchiver(deps)
	}
	var reconciler *pipeline.Reconciler
	if a.cfg.Archive.ReconcileInterval.Duration > 0 {
		reconciler = pipeline.NewReconciler(deps.Service, a.logger)
	}
	if archiver != nil || reconciler != nil {
		orch := pipeline.NewOrchestrator(archiver, reconciler,
			a.cfg.Archive.Interval.Duration, a.cfg.Archive.ReconcileInterval.Duration, a.logger)
		g.Go(func() error {
			return orch.Run(ctx)
		})
	}

	return g.Wait()
}

// MigrateMode applies database migrations and exits. Wire has already run
// them; this mode only reports success.
func (a *App) MigrateMode(ctx context.Context, _ *Dependencies) error {
	a.logger.InfoContext(ctx, "migrations applied",
		slog.String("driver", a.cfg.Store.Driver),
	)
	return nil
}

// ArchiveMode exports every eligible settled market once and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("archive mode: s3 is not enabled")
	}
	n, err := a.newArchiver(deps).Run(ctx)
	if err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	a.logger.InfoContext(ctx, "archive complete", slog.Int64("markets", n))
	return nil
}

// ReportMode prints the market summary table and exits. It fails when any
// market fails its conservation check.
func (a *App) ReportMode(ctx context.Context, deps *Dependencies) error {
	totals, err := report.New(deps.Service, a.out).Markets(ctx, "")
	if err != nil {
		return fmt.Errorf("report mode: %w", err)
	}
	if totals.Failures > 0 {
		return fmt.Errorf("report mode: %d market(s) failed verification: %w", totals.Failures, domain.ErrConservation)
	}
	return nil
}

// KeygenMode creates the encrypted authority key file named by
// protocol.key_file. An existing file is never overwritten.
func (a *App) KeygenMode(ctx context.Context) error {
	path, password := a.cfg.Protocol.KeyFile, a.cfg.Protocol.KeyPassword
	if path == "" || password == "" {
		return errors.New("keygen mode: protocol.key_file and protocol.key_password are required")
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("keygen mode: %w", err)
	}
	data, err := crypto.EncryptKey(key, password)
	if err != nil {
		return fmt.Errorf("keygen mode: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("keygen mode: create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("keygen mode: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("keygen mode: close %s: %w", path, err)
	}

	addr := crypto.NewSigner(key).Address()
	a.logger.InfoContext(ctx, "authority key created",
		slog.String("path", path),
		slog.String("address", addr.Hex()),
	)
	fmt.Fprintln(a.out, addr.Hex())
	return nil
}

func (a *App) newArchiver(deps *Dependencies) *pipeline.Archiver {
	return pipeline.NewArchiver(deps.Service, deps.Archiver, domain.SystemClock{},
		a.cfg.Archive.Retention.Duration, a.cfg.Archive.BatchSize, a.logger)
}

// autoInitProtocol initializes the protocol with the configured fees and the
// key file's address as authority, unless it already exists.
func (a *App) autoInitProtocol(ctx context.Context, deps *Dependencies) error {
	_, err := deps.Service.GetProtocol(ctx)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, domain.ErrNotInitialized):
		return fmt.Errorf("auto init: %w", err)
	}

	key, err := crypto.LoadKeyFile(a.cfg.Protocol.KeyFile, a.cfg.Protocol.KeyPassword)
	if err != nil {
		return fmt.Errorf("auto init: %w", err)
	}
	params, err := protocolParams(a.cfg.Protocol)
	if err != nil {
		return fmt.Errorf("auto init: %w", err)
	}
	authority := crypto.NewSigner(key).Address()
	p, err := deps.Service.InitializeProtocol(ctx, authority, params)
	if errors.Is(err, domain.ErrAlreadyInitialized) {
		// Another replica won the race.
		return nil
	}
	if err != nil {
		return fmt.Errorf("auto init: %w", err)
	}
	a.logger.InfoContext(ctx, "protocol initialized from config",
		slog.String("authority", p.Authority.Hex()),
		slog.String("fee_recipient", p.FeeRecipient.Hex()),
	)
	return nil
}

// protocolParams converts the [protocol] section into initialization
// parameters. Fee ranges are checked again by the ledger.
func protocolParams(c config.ProtocolConfig) (ledger.ProtocolParams, error) {
	bps := func(name string, v int) (uint16, error) {
		if v < 0 || v > int(domain.MaxBps) {
			return 0, fmt.Errorf("%s %d: %w", name, v, domain.ErrInvalidFee)
		}
		return uint16(v), nil
	}
	var (
		params ledger.ProtocolParams
		err    error
	)
	if params.Fees.ProtocolFeeBps, err = bps("protocol_fee_bps", c.ProtocolFeeBps); err != nil {
		return params, err
	}
	if params.Fees.CancelFeeBps, err = bps("cancel_fee_bps", c.CancelFeeBps); err != nil {
		return params, err
	}
	if params.Fees.AmmFee, err = bps("amm_fee", c.AmmFee); err != nil {
		return params, err
	}
	if !common.IsHexAddress(c.FeeRecipient) {
		return params, fmt.Errorf("fee_recipient %q: %w", c.FeeRecipient, domain.ErrInvalidInput)
	}
	params.FeeRecipient = common.HexToAddress(c.FeeRecipient)
	if c.DevRecipient != "" {
		if !common.IsHexAddress(c.DevRecipient) {
			return params, fmt.Errorf("dev_recipient %q: %w", c.DevRecipient, domain.ErrInvalidInput)
		}
		params.DevRecipient = common.HexToAddress(c.DevRecipient)
	}
	return params, nil
}

// startHTTPServer adds the HTTP server and websocket hub goroutines to g.
// The server is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	svc := deps.Service
	hub := ws.NewHub(deps.SignalBus, deps.Metrics, originChecker(a.cfg.Server.CORSOrigins), a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	metricsPath := ""
	if a.cfg.Metrics.Enabled {
		metricsPath = a.cfg.Metrics.Path
	}

	srv := server.NewServer(server.Config{
		Port:             a.cfg.Server.Port,
		CORSOrigins:      a.cfg.Server.CORSOrigins,
		APIKey:           a.cfg.Server.APIKey,
		MetricsPath:      metricsPath,
		SignatureMaxSkew: a.cfg.Server.SignatureMaxSkew.Duration,
		RateLimit:        a.cfg.Server.RateLimit,
		RateWindow:       a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Protocol:  handler.NewProtocolHandler(svc, a.logger),
		Markets:   handler.NewMarketHandler(svc, a.logger),
		Positions: handler.NewPositionHandler(svc, a.logger),
		Accounts:  handler.NewAccountHandler(svc, a.logger),
		Events:    handler.NewEventHandler(svc, a.logger),
	}, hub, server.Deps{
		Limiter: deps.RateLimiter,
		Nonces:  deps.NonceStore,
		Metrics: deps.Metrics,
		Clock:   domain.SystemClock{},
	}, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// originChecker allows websocket upgrades from the configured CORS origins.
// An empty list or "*" allows any origin.
func originChecker(origins []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(origins) == 0 {
			return true
		}
		for _, o := range origins {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}
