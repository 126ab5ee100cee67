package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polywager/internal/crypto"
	"github.com/alanyoungcy/polywager/internal/domain"
)

// Request signature headers.
const (
	HeaderAddress   = "X-Wager-Address"
	HeaderTimestamp = "X-Wager-Timestamp"
	HeaderSignature = "X-Wager-Signature"
	HeaderNonce     = "X-Wager-Nonce"
)

const (
	// maxBodyBytes bounds request bodies read for signature checks.
	maxBodyBytes = 1 << 20
	maxNonceLen  = 128
)

type callerKey struct{}

// WithCaller returns a context carrying the authenticated caller.
func WithCaller(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, addr)
}

// CallerFrom returns the caller authenticated by Signature.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}

// Signature authenticates mutating requests by an EIP-191 signature over
// the method, path, timestamp, nonce and body hash. The recovered signer must
// equal X-Wager-Address and the timestamp must be within maxSkew of now. Each
// (signer, nonce) pair is accepted once: nonces are held for twice maxSkew,
// the whole span in which the timestamp stays acceptable. Safe methods pass
// through without a caller.
func Signature(maxSkew time.Duration, nonces domain.NonceStore, now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			claimed := r.Header.Get(HeaderAddress)
			sig := r.Header.Get(HeaderSignature)
			nonce := r.Header.Get(HeaderNonce)
			if !common.IsHexAddress(claimed) || sig == "" {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "missing request signature")
				return
			}
			if nonce == "" || len(nonce) > maxNonceLen {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "missing or oversized request nonce")
				return
			}
			ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid signature timestamp")
				return
			}
			if skew := now().Sub(time.Unix(ts, 0)); skew > maxSkew || skew < -maxSkew {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "signature timestamp outside allowed window")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
			if err != nil {
				writeError(w, http.StatusBadRequest, "InvalidInput", "read body")
				return
			}
			if len(body) > maxBodyBytes {
				writeError(w, http.StatusRequestEntityTooLarge, "InvalidInput", "body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			signer, err := crypto.RecoverRequestSigner(r.Method, r.URL.Path, ts, nonce, body, sig)
			if err != nil || signer != common.HexToAddress(claimed) {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "signature does not match address")
				return
			}

			fresh, err := nonces.Claim(r.Context(), signer.Hex()+":"+nonce, 2*maxSkew)
			if err != nil {
				writeError(w, http.StatusServiceUnavailable, "Unavailable", "nonce store unavailable")
				return
			}
			if !fresh {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "request nonce already used")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), signer)))
		})
	}
}
