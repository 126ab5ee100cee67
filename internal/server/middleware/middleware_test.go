package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polywager/internal/cache/local"
	"github.com/alanyoungcy/polywager/internal/crypto"
	"github.com/alanyoungcy/polywager/internal/metrics"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func echoCaller() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		caller, ok := CallerFrom(r.Context())
		if ok {
			w.Header().Set("X-Caller", caller.Hex())
		}
		_, _ = w.Write(body)
	})
}

var nonceSeq int

func signedRequest(t *testing.T, s *crypto.Signer, method, path, body string, ts time.Time) *http.Request {
	t.Helper()
	nonceSeq++
	return signedRequestWithNonce(t, s, method, path, body, ts, "n-"+strconv.Itoa(nonceSeq))
}

func signedRequestWithNonce(t *testing.T, s *crypto.Signer, method, path, body string, ts time.Time, nonce string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	sig, err := s.SignRequest(method, path, ts.Unix(), nonce, []byte(body))
	require.NoError(t, err)
	req.Header.Set(HeaderAddress, s.Address().Hex())
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts.Unix(), 10))
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderSignature, sig)
	return req
}

func fixedNow() time.Time { return t0 }

func newSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return crypto.NewSigner(key)
}

func TestSignatureAcceptsValidRequest(t *testing.T) {
	s := newSigner(t)
	h := Signature(time.Minute, local.NewNonceStore(), fixedNow)(echoCaller())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, s, http.MethodPost, "/api/markets/1/bets", `{"outcome":0}`, t0))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, s.Address().Hex(), rec.Header().Get("X-Caller"))
	assert.Equal(t, `{"outcome":0}`, rec.Body.String())
}

func TestSignatureRejects(t *testing.T) {
	s := newSigner(t)
	other := newSigner(t)
	h := Signature(time.Minute, local.NewNonceStore(), fixedNow)(echoCaller())

	tests := []struct {
		name string
		req  func() *http.Request
	}{
		{"missing headers", func() *http.Request {
			return httptest.NewRequest(http.MethodPost, "/api/markets", nil)
		}},
		{"stale timestamp", func() *http.Request {
			return signedRequest(t, s, http.MethodPost, "/api/markets", "{}", t0.Add(-time.Hour))
		}},
		{"tampered body", func() *http.Request {
			req := signedRequest(t, s, http.MethodPost, "/api/markets", `{"a":1}`, t0)
			req.Body = io.NopCloser(strings.NewReader(`{"a":2}`))
			return req
		}},
		{"claimed address differs", func() *http.Request {
			req := signedRequest(t, s, http.MethodPost, "/api/markets", "{}", t0)
			req.Header.Set(HeaderAddress, other.Address().Hex())
			return req
		}},
		{"missing nonce", func() *http.Request {
			req := signedRequest(t, s, http.MethodPost, "/api/markets", "{}", t0)
			req.Header.Del(HeaderNonce)
			return req
		}},
		{"nonce swapped", func() *http.Request {
			req := signedRequest(t, s, http.MethodPost, "/api/markets", "{}", t0)
			req.Header.Set(HeaderNonce, "other")
			return req
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, tt.req())
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), `"code":"Unauthorized"`)
		})
	}
}

func TestSignatureRejectsReplay(t *testing.T) {
	s := newSigner(t)
	other := newSigner(t)
	h := Signature(time.Minute, local.NewNonceStore(), fixedNow)(echoCaller())

	send := func(req *http.Request) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	first := signedRequestWithNonce(t, s, http.MethodPost, "/api/markets/0/bets", `{"outcome":0}`, t0, "bet-1")
	replay := first.Clone(first.Context())
	replay.Body = io.NopCloser(strings.NewReader(`{"outcome":0}`))

	assert.Equal(t, http.StatusOK, send(first))
	assert.Equal(t, http.StatusUnauthorized, send(replay))

	// Nonces are scoped to the signer.
	assert.Equal(t, http.StatusOK,
		send(signedRequestWithNonce(t, other, http.MethodPost, "/api/markets/0/bets", `{"outcome":0}`, t0, "bet-1")))
}

type failingNonces struct{}

func (failingNonces) Claim(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestSignatureNonceStoreDown(t *testing.T) {
	h := Signature(time.Minute, failingNonces{}, fixedNow)(echoCaller())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, newSigner(t), http.MethodPost, "/api/markets", "{}", t0))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSignatureSkipsReads(t *testing.T) {
	h := Signature(time.Minute, local.NewNonceStore(), nil)(echoCaller())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Caller"))
}

func TestWithCaller(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	got, ok := CallerFrom(WithCaller(httptest.NewRequest(http.MethodGet, "/", nil).Context(), addr))
	require.True(t, ok)
	assert.Equal(t, addr, got)
}

func TestAuth(t *testing.T) {
	h := Auth("secret", "/api/health")(echoCaller())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RateLimit(local.NewRateLimiter(), 2, time.Hour, logger)(echoCaller())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Another client has its own budget.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := CORS([]string{"https://app.example"})(echoCaller())
	req := httptest.NewRequest(http.MethodOptions, "/api/markets", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), HeaderSignature)
}

func TestLoggingRecordsMetrics(t *testing.T) {
	m := metrics.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Logging(logger, m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))
}
