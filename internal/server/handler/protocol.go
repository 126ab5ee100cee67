package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polywager/internal/domain"
	"github.com/alanyoungcy/polywager/internal/ledger"
)

// ProtocolService is what ProtocolHandler needs from the service layer.
type ProtocolService interface {
	GetProtocol(ctx context.Context) (domain.Protocol, error)
	InitializeProtocol(ctx context.Context, caller common.Address, params ledger.ProtocolParams) (domain.Protocol, error)
	UpdateFees(ctx context.Context, caller common.Address, u ledger.FeeUpdate) (domain.Protocol, error)
}

// ProtocolHandler serves the protocol singleton.
type ProtocolHandler struct {
	svc    ProtocolService
	logger *slog.Logger
}

// NewProtocolHandler creates a ProtocolHandler.
func NewProtocolHandler(svc ProtocolService, logger *slog.Logger) *ProtocolHandler {
	return &ProtocolHandler{svc: svc, logger: logger}
}

type feeRequest struct {
	ProtocolFeeBps uint16  `json:"protocol_fee_bps"`
	CancelFeeBps   uint16  `json:"cancel_fee_bps"`
	AmmFee         uint16  `json:"amm_fee"`
	FeeRecipient   *string `json:"fee_recipient,omitempty"`
	DevRecipient   *string `json:"dev_recipient,omitempty"`
}

func (f feeRequest) fees() domain.FeeSchedule {
	return domain.FeeSchedule{ProtocolFeeBps: f.ProtocolFeeBps, CancelFeeBps: f.CancelFeeBps, AmmFee: f.AmmFee}
}

func optionalAddress(name string, v *string) (*common.Address, error) {
	if v == nil {
		return nil, nil
	}
	if *v == "" {
		return &common.Address{}, nil
	}
	addr, err := parseAddress(name, *v)
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

// Get returns the protocol.
// GET /api/protocol
func (h *ProtocolHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetProtocol(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Initialize creates the protocol with the caller as authority.
// POST /api/protocol
func (h *ProtocolHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req feeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if req.FeeRecipient == nil {
		badRequest(w, "fee_recipient is required")
		return
	}
	feeRecipient, err := parseAddress("fee_recipient", *req.FeeRecipient)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	dev, err := optionalAddress("dev_recipient", req.DevRecipient)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	params := ledger.ProtocolParams{Fees: req.fees(), FeeRecipient: feeRecipient}
	if dev != nil {
		params.DevRecipient = *dev
	}

	p, err := h.svc.InitializeProtocol(r.Context(), who, params)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// UpdateFees replaces the fee schedule and optionally the recipients.
// PATCH /api/protocol/fees
func (h *ProtocolHandler) UpdateFees(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req feeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	u := ledger.FeeUpdate{Fees: req.fees()}
	var err error
	if u.FeeRecipient, err = optionalAddress("fee_recipient", req.FeeRecipient); err != nil {
		badRequest(w, "%v", err)
		return
	}
	if u.DevRecipient, err = optionalAddress("dev_recipient", req.DevRecipient); err != nil {
		badRequest(w, "%v", err)
		return
	}

	p, err := h.svc.UpdateFees(r.Context(), who, u)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
