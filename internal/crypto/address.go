package crypto

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Seed prefixes for derived ledger identities.
const (
	seedProtocol = "protocol"
	seedMarket   = "market"
	seedPosition = "position"
)

// DeriveAddress hashes the seeds with Keccak-256 and keeps the low 20 bytes,
// giving one canonical address per seed sequence.
func DeriveAddress(seeds ...[]byte) common.Address {
	return common.BytesToAddress(ethcrypto.Keccak256(seeds...)[12:])
}

// ProtocolAddress is the identity of the protocol singleton.
func ProtocolAddress() common.Address {
	return DeriveAddress([]byte(seedProtocol))
}

// MarketAddress is the identity (and escrow account) of market id.
func MarketAddress(id uint64) common.Address {
	return DeriveAddress([]byte(seedMarket), le64(id))
}

// PositionAddress is the identity of a position placed by user on market.
func PositionAddress(user, market common.Address, positionID uint64) common.Address {
	return DeriveAddress([]byte(seedPosition), user.Bytes(), market.Bytes(), le64(positionID))
}

func le64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}
