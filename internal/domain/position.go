package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polywager/internal/amount"
)

// Position is a single bet. It is a claim against its market, redeemable
// exactly once through a claim or a refund.
type Position struct {
	Address  common.Address `json:"address"`
	ID       uint64         `json:"id"`
	MarketID uint64         `json:"market_id"`
	Market   common.Address `json:"market"`
	User     common.Address `json:"user"`
	Outcome  int            `json:"outcome"`
	Amount   amount.Amount  `json:"amount"`
	Claimed  bool           `json:"claimed"`
	// Payout and Fee record what the redemption paid out, zero until then.
	Payout    amount.Amount `json:"payout"`
	Fee       amount.Amount `json:"fee"`
	PlacedAt  time.Time     `json:"placed_at"`
	ClaimedAt *time.Time    `json:"claimed_at,omitempty"`
}
