package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polywager/internal/domain"
	"github.com/alanyoungcy/polywager/internal/server/middleware"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusByCode maps ledger error codes to HTTP statuses. Codes not listed
// are validation failures (400); unknown errors are 500.
var statusByCode = map[string]int{
	"Unauthorized":         http.StatusForbidden,
	"NotFound":             http.StatusNotFound,
	"NotInitialized":       http.StatusNotFound,
	"AlreadyInitialized":   http.StatusConflict,
	"MarketEnded":          http.StatusConflict,
	"MarketResolved":       http.StatusConflict,
	"MarketCancelled":      http.StatusConflict,
	"MarketNotEnded":       http.StatusConflict,
	"AlreadyResolved":      http.StatusConflict,
	"MarketNotResolved":    http.StatusConflict,
	"NotWinner":            http.StatusConflict,
	"AlreadyClaimed":       http.StatusConflict,
	"NoWinningStakes":      http.StatusConflict,
	"RefundNotAllowed":     http.StatusConflict,
	"InsufficientFunds":    http.StatusConflict,
	"Busy":                 http.StatusConflict,
	"ArithmeticOverflow":   http.StatusUnprocessableEntity,
	"ArithmeticUnderflow":  http.StatusUnprocessableEntity,
	"ConservationViolated": http.StatusInternalServerError,
	"RateLimited":          http.StatusTooManyRequests,
	"Internal":             http.StatusInternalServerError,
}

// StatusFor returns the HTTP status for a service error.
func StatusFor(err error) int {
	if status, ok := statusByCode[domain.ErrorCode(err)]; ok {
		return status
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error","code":"Internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError maps err to a status and error body. Internal errors are
// logged and their text is not exposed.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code := domain.ErrorCode(err)
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func badRequest(w http.ResponseWriter, format string, args ...any) {
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Error: fmt.Sprintf(format, args...),
		Code:  domain.ErrorCode(domain.ErrInvalidInput),
	})
}

// decodeBody decodes a JSON request body into v, rejecting unknown fields.
// Errors match domain.ErrInvalidInput and keep any amount error.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w: %w", domain.ErrInvalidInput, err)
	}
	return nil
}

// caller returns the identity authenticated by the signature middleware.
func caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addr, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "request is not signed", Code: "Unauthorized"})
	}
	return addr, ok
}

// parseListOpts reads limit (default 50, max 500) and offset.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()
	limit := 50
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, 500)
	}
	offset := 0
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		offset = n
	}
	return domain.ListOpts{Limit: limit, Offset: offset}
}

func pathUint(r *http.Request, name string) (uint64, error) {
	v, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, r.PathValue(name))
	}
	return v, nil
}

func pathAddress(r *http.Request, name string) (common.Address, error) {
	return parseAddress(name, r.PathValue(name))
}

func parseAddress(name, v string) (common.Address, error) {
	v = strings.TrimSpace(v)
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("invalid %s %q", name, v)
	}
	return common.HexToAddress(v), nil
}
