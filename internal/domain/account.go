package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polywager/internal/amount"
)

// TransferKind classifies why funds moved.
type TransferKind string

const (
	TransferDeposit TransferKind = "deposit"
	TransferStake   TransferKind = "stake"
	TransferPayout  TransferKind = "payout"
	TransferFee     TransferKind = "fee"
	TransferRefund  TransferKind = "refund"
)

// Balance is the custody balance of one owner in one asset.
type Balance struct {
	Owner     common.Address `json:"owner"`
	Mint      common.Address `json:"mint"`
	Amount    amount.Amount  `json:"amount"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Transfer moves Amount of Mint from one account to another. A zero From
// address denotes funds entering custody from outside the system.
type Transfer struct {
	ID       string         `json:"id"`
	Kind     TransferKind   `json:"kind"`
	From     common.Address `json:"from"`
	To       common.Address `json:"to"`
	Mint     common.Address `json:"mint"`
	Amount   amount.Amount  `json:"amount"`
	MarketID *uint64        `json:"market_id,omitempty"`
	At       time.Time      `json:"at"`
}

// External reports whether the transfer originates outside custody.
func (t Transfer) External() bool {
	return t.From == (common.Address{})
}
