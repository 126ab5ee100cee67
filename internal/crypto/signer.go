package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrBadSignature is returned when a request signature does not verify.
var ErrBadSignature = errors.New("bad signature")

// RequestDigest is the message a client signs for one API call: method, path,
// unix timestamp, a client nonce unique per request and the Keccak-256 of the
// body, newline separated.
func RequestDigest(method, path string, timestamp int64, nonce string, body []byte) []byte {
	var sb strings.Builder
	sb.WriteString(strings.ToUpper(method))
	sb.WriteByte('\n')
	sb.WriteString(path)
	sb.WriteByte('\n')
	sb.WriteString(strconv.FormatInt(timestamp, 10))
	sb.WriteByte('\n')
	sb.WriteString(nonce)
	sb.WriteByte('\n')
	sb.WriteString(hexutil.Encode(ethcrypto.Keccak256(body)))
	return []byte(sb.String())
}

// Signer produces EIP-191 personal signatures for API requests.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner wraps key.
func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, address: ethcrypto.PubkeyToAddress(key.PublicKey)}
}

// Address returns the signer's identity.
func (s *Signer) Address() common.Address { return s.address }

// SignRequest returns the 0x-prefixed 65-byte signature over the request
// digest, with V in {27, 28}.
func (s *Signer) SignRequest(method, path string, timestamp int64, nonce string, body []byte) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(RequestDigest(method, path, timestamp, nonce, body)), s.key)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: sign request: %w", err)
	}
	sig[ethcrypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// RecoverRequestSigner returns the address that produced signature over the
// request digest. Both {0,1} and {27,28} recovery ids are accepted.
func RecoverRequestSigner(method, path string, timestamp int64, nonce string, body []byte, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: decode signature: %w", ErrBadSignature)
	}
	if len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, fmt.Errorf("crypto/signer: signature is %d bytes: %w", len(sig), ErrBadSignature)
	}
	if sig[ethcrypto.RecoveryIDOffset] >= 27 {
		sig[ethcrypto.RecoveryIDOffset] -= 27
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(RequestDigest(method, path, timestamp, nonce, body)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", ErrBadSignature)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
