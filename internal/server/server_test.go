package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polywager/internal/cache/local"
	"github.com/alanyoungcy/polywager/internal/crypto"
	"github.com/alanyoungcy/polywager/internal/metrics"
	"github.com/alanyoungcy/polywager/internal/server"
	"github.com/alanyoungcy/polywager/internal/server/handler"
	"github.com/alanyoungcy/polywager/internal/server/middleware"
	"github.com/alanyoungcy/polywager/internal/service"
	"github.com/alanyoungcy/polywager/internal/store/sqlite"
)

var (
	t0        = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	feeWallet = common.HexToAddress("0x000000000000000000000000000000000000fee1")
	usdc      = common.HexToAddress("0x0000000000000000000000000000000000005dc0")
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	handler http.Handler
	clock   *testClock
	healthy error
	nonce   int
}

func newHarness(t *testing.T, apiKey string) *harness {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(ctx, ":memory:", time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{clock: &testClock{now: t0}}
	m := metrics.New()
	svc := service.NewLedgerService(store, local.NewLockManager(), local.NewSignalBus(),
		local.NewMarketCache(time.Minute), h.clock, m,
		service.LedgerConfig{MaxFeeBps: 2500, LockWait: 200 * time.Millisecond}, logger)

	checks := map[string]handler.HealthCheck{
		"store": store.Ping,
		"probe": func(context.Context) error { return h.healthy },
	}
	srv := server.NewServer(server.Config{
		APIKey:           apiKey,
		MetricsPath:      "/metrics",
		SignatureMaxSkew: time.Minute,
		RateLimit:        1000,
		RateWindow:       time.Minute,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(checks, logger),
		Protocol:  handler.NewProtocolHandler(svc, logger),
		Markets:   handler.NewMarketHandler(svc, logger),
		Positions: handler.NewPositionHandler(svc, logger),
		Accounts:  handler.NewAccountHandler(svc, logger),
		Events:    handler.NewEventHandler(svc, logger),
	}, nil, server.Deps{
		Limiter: local.NewRateLimiter(),
		Nonces:  local.NewNonceStore(),
		Metrics: m,
		Clock:   h.clock,
	}, logger)
	h.handler = srv.Handler()
	return h
}

func newSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return crypto.NewSigner(key)
}

// do sends a request, signed by s when s is non-nil, and decodes the JSON
// response into out when out is non-nil.
func (h *harness) do(t *testing.T, s *crypto.Signer, method, path string, body any, out any) int {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if s != nil {
		h.nonce++
		signRequest(t, s, req, h.clock.Now().Unix(), "n-"+strconv.Itoa(h.nonce), raw)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func signRequest(t *testing.T, s *crypto.Signer, req *http.Request, ts int64, nonce string, body []byte) {
	t.Helper()
	sig, err := s.SignRequest(req.Method, req.URL.Path, ts, nonce, body)
	require.NoError(t, err)
	req.Header.Set(middleware.HeaderAddress, s.Address().Hex())
	req.Header.Set(middleware.HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(middleware.HeaderNonce, nonce)
	req.Header.Set(middleware.HeaderSignature, sig)
}

type errBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func TestMarketLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t, "")
	authority, creator, alice, bob := newSigner(t), newSigner(t), newSigner(t), newSigner(t)

	code := h.do(t, authority, http.MethodPost, "/api/protocol", map[string]any{
		"protocol_fee_bps": 500,
		"cancel_fee_bps":   100,
		"fee_recipient":    feeWallet.Hex(),
	}, nil)
	require.Equal(t, http.StatusCreated, code)

	for _, u := range []*crypto.Signer{alice, bob} {
		code := h.do(t, authority, http.MethodPost, "/api/accounts/"+u.Address().Hex()+"/deposits",
			map[string]any{"mint": usdc.Hex(), "amount": "10"}, nil)
		require.Equal(t, http.StatusCreated, code)
	}

	var market struct {
		ID uint64 `json:"id"`
	}
	code = h.do(t, creator, http.MethodPost, "/api/markets", map[string]any{
		"token_mint": usdc.Hex(),
		"question":   "Will the launch slip?",
		"outcomes":   []string{"Yes", "No"},
		"end_time":   t0.Add(time.Hour),
	}, &market)
	require.Equal(t, http.StatusCreated, code)
	base := fmt.Sprintf("/api/markets/%d", market.ID)

	var alicePos struct {
		Address common.Address `json:"address"`
	}
	require.Equal(t, http.StatusCreated,
		h.do(t, alice, http.MethodPost, base+"/bets", map[string]any{"outcome": 0, "amount": "1"}, &alicePos))
	require.Equal(t, http.StatusCreated,
		h.do(t, bob, http.MethodPost, base+"/bets", map[string]any{"outcome": 1, "amount": "1"}, nil))

	// Resolution before the end time is rejected.
	var e errBody
	code = h.do(t, creator, http.MethodPost, base+"/resolve", map[string]any{"winning_outcome": 0}, &e)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "MarketNotEnded", e.Code)

	h.clock.Advance(2 * time.Hour)
	require.Equal(t, http.StatusOK,
		h.do(t, creator, http.MethodPost, base+"/resolve", map[string]any{"winning_outcome": 0}, nil))

	// Only the position owner may claim.
	code = h.do(t, bob, http.MethodPost, "/api/positions/"+alicePos.Address.Hex()+"/claim", nil, &e)
	assert.Equal(t, http.StatusForbidden, code)

	var claim struct {
		Claim struct {
			Net string `json:"net"`
			Fee string `json:"fee"`
		} `json:"claim"`
	}
	require.Equal(t, http.StatusOK,
		h.do(t, alice, http.MethodPost, "/api/positions/"+alicePos.Address.Hex()+"/claim", nil, &claim))
	assert.Equal(t, "1.950000", claim.Claim.Net)
	assert.Equal(t, "0.050000", claim.Claim.Fee)

	code = h.do(t, alice, http.MethodPost, "/api/positions/"+alicePos.Address.Hex()+"/claim", nil, &e)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "AlreadyClaimed", e.Code)

	var bal struct {
		Amount string `json:"amount"`
	}
	require.Equal(t, http.StatusOK,
		h.do(t, nil, http.MethodGet, "/api/accounts/"+alice.Address().Hex()+"/balances/"+usdc.Hex(), nil, &bal))
	assert.Equal(t, "10.950000", bal.Amount)

	var verify struct {
		OK      bool   `json:"ok"`
		Custody string `json:"custody"`
	}
	require.Equal(t, http.StatusOK, h.do(t, nil, http.MethodGet, base+"/verify", nil, &verify))
	assert.True(t, verify.OK)

	var events struct {
		Events []json.RawMessage `json:"events"`
	}
	require.Equal(t, http.StatusOK, h.do(t, nil, http.MethodGet, "/api/events?limit=100", nil, &events))
	// init, 2 deposits, create, 2 bets, resolve, claim
	assert.Len(t, events.Events, 8)
}

func TestRejections(t *testing.T) {
	h := newHarness(t, "")
	s := newSigner(t)

	var e errBody
	code := h.do(t, nil, http.MethodPost, "/api/protocol", map[string]any{"fee_recipient": feeWallet.Hex()}, &e)
	assert.Equal(t, http.StatusUnauthorized, code)

	code = h.do(t, nil, http.MethodGet, "/api/protocol", nil, &e)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NotInitialized", e.Code)

	code = h.do(t, s, http.MethodPost, "/api/protocol", map[string]any{
		"protocol_fee_bps": 3000,
		"fee_recipient":    feeWallet.Hex(),
	}, &e)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "InvalidFee", e.Code)

	code = h.do(t, s, http.MethodPost, "/api/protocol", map[string]any{"surprise": true}, &e)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "InvalidInput", e.Code)

	code = h.do(t, nil, http.MethodGet, "/api/markets/42", nil, &e)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NotFound", e.Code)

	code = h.do(t, nil, http.MethodGet, "/api/markets/abc", nil, &e)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHealthAndAPIKey(t *testing.T) {
	h := newHarness(t, "secret")

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h.healthy = errors.New("probe down")
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"markets":[],"limit":50,"offset":0}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "wager_http_requests_total")
}

func TestReplayedBetIsRejected(t *testing.T) {
	h := newHarness(t, "")
	authority, creator, alice := newSigner(t), newSigner(t), newSigner(t)

	require.Equal(t, http.StatusCreated, h.do(t, authority, http.MethodPost, "/api/protocol", map[string]any{
		"protocol_fee_bps": 500,
		"fee_recipient":    feeWallet.Hex(),
	}, nil))
	require.Equal(t, http.StatusCreated, h.do(t, authority, http.MethodPost,
		"/api/accounts/"+alice.Address().Hex()+"/deposits", map[string]any{"mint": usdc.Hex(), "amount": "10"}, nil))
	require.Equal(t, http.StatusCreated, h.do(t, creator, http.MethodPost, "/api/markets", map[string]any{
		"token_mint": usdc.Hex(),
		"question":   "Will the launch slip?",
		"outcomes":   []string{"Yes", "No"},
		"end_time":   t0.Add(time.Hour),
	}, nil))

	body := []byte(`{"outcome":0,"amount":"1"}`)
	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/markets/0/bets", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		signRequest(t, alice, req, h.clock.Now().Unix(), "bet-once", body)
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusCreated, send())
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusUnauthorized, send())
	}

	var bal struct {
		Amount string `json:"amount"`
	}
	require.Equal(t, http.StatusOK,
		h.do(t, nil, http.MethodGet, "/api/accounts/"+alice.Address().Hex()+"/balances/"+usdc.Hex(), nil, &bal))
	assert.Equal(t, "9.000000", bal.Amount)
}
