package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polywager/internal/cache/local"
	"github.com/alanyoungcy/polywager/internal/domain"
	"github.com/alanyoungcy/polywager/internal/metrics"
	"github.com/alanyoungcy/polywager/internal/server/handler"
	"github.com/alanyoungcy/polywager/internal/server/middleware"
	"github.com/alanyoungcy/polywager/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	MetricsPath string // if empty, /metrics is not served

	SignatureMaxSkew time.Duration
	RateLimit        int // requests per RateWindow; 0 disables limiting
	RateWindow       time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Protocol  *handler.ProtocolHandler
	Markets   *handler.MarketHandler
	Positions *handler.PositionHandler
	Accounts  *handler.AccountHandler
	Events    *handler.EventHandler
}

// Deps are the shared components used by the middleware chain.
type Deps struct {
	Limiter domain.RateLimiter
	// Nonces rejects replayed signed requests. An in-process store is used
	// when nil.
	Nonces  domain.NonceStore
	Metrics *metrics.Metrics
	Clock   domain.Clock
}

// Server is the HTTP + WebSocket API of the wager engine.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, deps Deps, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Protocol.
	mux.HandleFunc("GET /api/protocol", handlers.Protocol.Get)
	mux.HandleFunc("POST /api/protocol", handlers.Protocol.Initialize)
	mux.HandleFunc("PATCH /api/protocol/fees", handlers.Protocol.UpdateFees)

	// Markets.
	mux.HandleFunc("GET /api/markets", handlers.Markets.List)
	mux.HandleFunc("POST /api/markets", handlers.Markets.Create)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.Get)
	mux.HandleFunc("GET /api/markets/{id}/positions", handlers.Markets.Positions)
	mux.HandleFunc("GET /api/markets/{id}/verify", handlers.Markets.Verify)
	mux.HandleFunc("POST /api/markets/{id}/bets", handlers.Markets.Bet)
	mux.HandleFunc("POST /api/markets/{id}/resolve", handlers.Markets.Resolve)
	mux.HandleFunc("POST /api/markets/{id}/cancel", handlers.Markets.Cancel)

	// Positions.
	mux.HandleFunc("GET /api/positions/{address}", handlers.Positions.Get)
	mux.HandleFunc("POST /api/positions/{address}/claim", handlers.Positions.Claim)
	mux.HandleFunc("POST /api/positions/{address}/refund", handlers.Positions.Refund)

	// Accounts.
	mux.HandleFunc("GET /api/accounts/{owner}/balances/{mint}", handlers.Accounts.Balance)
	mux.HandleFunc("POST /api/accounts/{owner}/deposits", handlers.Accounts.Deposit)
	mux.HandleFunc("GET /api/accounts/{owner}/transfers", handlers.Accounts.Transfers)
	mux.HandleFunc("GET /api/accounts/{owner}/positions", handlers.Accounts.Positions)

	// Event log.
	mux.HandleFunc("GET /api/events", handlers.Events.Events)
	mux.HandleFunc("GET /api/audit", handlers.Events.Audit)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	open := []string{"/api/health"}
	if cfg.MetricsPath != "" && deps.Metrics != nil {
		mux.Handle("GET "+cfg.MetricsPath, deps.Metrics.Handler())
		open = append(open, cfg.MetricsPath)
	}

	now := time.Now
	if deps.Clock != nil {
		now = deps.Clock.Now
	}

	nonces := deps.Nonces
	if nonces == nil {
		nonces = local.NewNonceStore()
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.Signature(cfg.SignatureMaxSkew, nonces, now)(h)
	h = middleware.Auth(cfg.APIKey, open...)(h)
	if deps.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Logging(logger, deps.Metrics)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
