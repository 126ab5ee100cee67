package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polywager/internal/domain"
	"github.com/alanyoungcy/polywager/internal/service"
)

// PositionService is what PositionHandler needs from the service layer.
type PositionService interface {
	GetPosition(ctx context.Context, addr common.Address) (domain.Position, error)
	ClaimWinnings(ctx context.Context, caller, positionAddr common.Address) (service.ClaimResult, error)
	RefundPosition(ctx context.Context, caller, positionAddr common.Address) (service.RefundResult, error)
}

// PositionHandler serves position endpoints.
type PositionHandler struct {
	svc    PositionService
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(svc PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{svc: svc, logger: logger}
}

// Get returns one position.
// GET /api/positions/{address}
func (h *PositionHandler) Get(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	pos, err := h.svc.GetPosition(r.Context(), addr)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// Claim pays out a winning position to its owner.
// POST /api/positions/{address}/claim
func (h *PositionHandler) Claim(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	addr, err := pathAddress(r, "address")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	res, err := h.svc.ClaimWinnings(r.Context(), who, addr)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Refund returns the stake of a position in a cancelled market or in a
// market resolved to an outcome nobody backed.
// POST /api/positions/{address}/refund
func (h *PositionHandler) Refund(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	addr, err := pathAddress(r, "address")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	res, err := h.svc.RefundPosition(r.Context(), who, addr)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
