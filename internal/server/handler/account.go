package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polywager/internal/amount"
	"github.com/alanyoungcy/polywager/internal/domain"
)

// AccountService is what AccountHandler needs from the service layer.
type AccountService interface {
	Balance(ctx context.Context, owner, mint common.Address) (domain.Balance, error)
	Deposit(ctx context.Context, caller, owner, mint common.Address, amt amount.Amount) (domain.Balance, error)
	ListTransfers(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.Transfer, error)
	ListUserPositions(ctx context.Context, user common.Address, opts domain.ListOpts) ([]domain.Position, error)
}

// AccountHandler serves custody account endpoints.
type AccountHandler struct {
	svc    AccountService
	logger *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(svc AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{svc: svc, logger: logger}
}

// Balance returns an owner's balance in one mint.
// GET /api/accounts/{owner}/balances/{mint}
func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	owner, err := pathAddress(r, "owner")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	mint, err := pathAddress(r, "mint")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	b, err := h.svc.Balance(r.Context(), owner, mint)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type depositRequest struct {
	Mint   string        `json:"mint"`
	Amount amount.Amount `json:"amount"`
}

// Deposit credits an owner's account from outside custody. Authority only.
// POST /api/accounts/{owner}/deposits
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	owner, err := pathAddress(r, "owner")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	mint, err := parseAddress("mint", req.Mint)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	b, err := h.svc.Deposit(r.Context(), who, owner, mint, req.Amount)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// Transfers lists the transfers into and out of an owner's accounts.
// GET /api/accounts/{owner}/transfers
func (h *AccountHandler) Transfers(w http.ResponseWriter, r *http.Request) {
	owner, err := pathAddress(r, "owner")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	ts, err := h.svc.ListTransfers(r.Context(), owner, parseListOpts(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if ts == nil {
		ts = []domain.Transfer{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transfers": ts})
}

// Positions lists an owner's positions, most recent first.
// GET /api/accounts/{owner}/positions
func (h *AccountHandler) Positions(w http.ResponseWriter, r *http.Request) {
	owner, err := pathAddress(r, "owner")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	positions, err := h.svc.ListUserPositions(r.Context(), owner, parseListOpts(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}
