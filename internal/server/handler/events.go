package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polywager/internal/domain"
)

// EventService is what EventHandler needs from the service layer.
type EventService interface {
	Events(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error)
	ListAudit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// EventHandler serves event replay and the audit log.
type EventHandler struct {
	svc    EventService
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(svc EventService, logger *slog.Logger) *EventHandler {
	return &EventHandler{svc: svc, logger: logger}
}

type streamEvent struct {
	StreamID string          `json:"stream_id"`
	Event    json.RawMessage `json:"event"`
}

// Events replays committed ledger events after the given stream id.
// GET /api/events?after=0&limit=50
func (h *EventHandler) Events(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	msgs, err := h.svc.Events(r.Context(), r.URL.Query().Get("after"), opts.Limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]streamEvent, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, streamEvent{StreamID: m.ID, Event: json.RawMessage(m.Payload)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

type auditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt string         `json:"created_at"`
}

// Audit lists audit log entries, newest first.
// GET /api/audit
func (h *EventHandler) Audit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.ListAudit(r.Context(), parseListOpts(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]auditEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntry{
			ID:        e.ID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}
