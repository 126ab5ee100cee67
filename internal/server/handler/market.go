package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polywager/internal/amount"
	"github.com/alanyoungcy/polywager/internal/domain"
	"github.com/alanyoungcy/polywager/internal/ledger"
	"github.com/alanyoungcy/polywager/internal/service"
)

// MarketService is what MarketHandler needs from the service layer.
type MarketService interface {
	CreateMarket(ctx context.Context, caller common.Address, params ledger.MarketParams) (domain.Market, error)
	PlaceBet(ctx context.Context, caller common.Address, marketID uint64, outcome int, amt amount.Amount) (domain.Position, error)
	ResolveMarket(ctx context.Context, caller common.Address, marketID uint64, winning int) (domain.Market, error)
	CancelMarket(ctx context.Context, caller common.Address, marketID uint64) (domain.Market, error)
	GetMarket(ctx context.Context, id uint64) (domain.Market, error)
	ListMarkets(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error)
	ListMarketPositions(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Position, error)
	VerifyMarket(ctx context.Context, id uint64) (service.Verification, error)
}

// MarketHandler serves market endpoints.
type MarketHandler struct {
	svc    MarketService
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(svc MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{svc: svc, logger: logger}
}

type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// List returns markets, newest first, optionally filtered by status.
// GET /api/markets?status=open&limit=50&offset=0
func (h *MarketHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	status := domain.MarketStatus(r.URL.Query().Get("status"))
	markets, err := h.svc.ListMarkets(r.Context(), status, opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if markets == nil {
		markets = []domain.Market{}
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: markets, Limit: opts.Limit, Offset: opts.Offset})
}

type createMarketRequest struct {
	TokenMint string    `json:"token_mint"`
	Question  string    `json:"question"`
	Outcomes  []string  `json:"outcomes"`
	EndTime   time.Time `json:"end_time"`
}

// Create opens a market with the caller as creator.
// POST /api/markets
func (h *MarketHandler) Create(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	mint, err := parseAddress("token_mint", req.TokenMint)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}

	m, err := h.svc.CreateMarket(r.Context(), who, ledger.MarketParams{
		TokenMint: mint,
		Question:  req.Question,
		Outcomes:  req.Outcomes,
		EndTime:   req.EndTime,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// Get returns one market.
// GET /api/markets/{id}
func (h *MarketHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	m, err := h.svc.GetMarket(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Positions lists a market's positions in placement order.
// GET /api/markets/{id}/positions
func (h *MarketHandler) Positions(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	positions, err := h.svc.ListMarketPositions(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

// Verify runs the escrow conservation check.
// GET /api/markets/{id}/verify
func (h *MarketHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	v, err := h.svc.VerifyMarket(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type betRequest struct {
	Outcome int           `json:"outcome"`
	Amount  amount.Amount `json:"amount"`
}

// Bet stakes the caller's funds on an outcome.
// POST /api/markets/{id}/bets
func (h *MarketHandler) Bet(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathUint(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	var req betRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	pos, err := h.svc.PlaceBet(r.Context(), who, id, req.Outcome, req.Amount)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

type resolveRequest struct {
	WinningOutcome int `json:"winning_outcome"`
}

// Resolve settles the market on the winning outcome.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathUint(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	m, err := h.svc.ResolveMarket(r.Context(), who, id, req.WinningOutcome)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Cancel voids the market.
// POST /api/markets/{id}/cancel
func (h *MarketHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathUint(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	m, err := h.svc.CancelMarket(r.Context(), who, id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
