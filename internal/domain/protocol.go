package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polywager/internal/amount"
)

// MaxBps is the hard ceiling for every fee rate.
const MaxBps = amount.BpsDenominator

// FeeSchedule holds the fee rates in basis points. A market captures the
// schedule in force when it is created.
type FeeSchedule struct {
	ProtocolFeeBps uint16 `json:"protocol_fee_bps"`
	CancelFeeBps   uint16 `json:"cancel_fee_bps"`
	AmmFee         uint16 `json:"amm_fee"`
}

// Validate rejects rates above the hard limit or above ceiling, and schedules
// whose winnings deductions add up to more than 100%.
func (f FeeSchedule) Validate(ceiling uint16) error {
	if ceiling > MaxBps {
		ceiling = MaxBps
	}
	check := func(name string, v uint16) error {
		if v > MaxBps {
			return fmt.Errorf("%s %d exceeds %d bps: %w", name, v, MaxBps, ErrInvalidFee)
		}
		if v > ceiling {
			return fmt.Errorf("%s %d exceeds ceiling %d bps: %w", name, v, ceiling, ErrInvalidFee)
		}
		return nil
	}
	if err := check("protocol_fee_bps", f.ProtocolFeeBps); err != nil {
		return err
	}
	if err := check("cancel_fee_bps", f.CancelFeeBps); err != nil {
		return err
	}
	if err := check("amm_fee", f.AmmFee); err != nil {
		return err
	}
	if uint32(f.ProtocolFeeBps)+uint32(f.AmmFee) > MaxBps {
		return fmt.Errorf("protocol_fee_bps + amm_fee exceeds %d bps: %w", MaxBps, ErrInvalidFee)
	}
	return nil
}

// Protocol is the singleton configuration record.
type Protocol struct {
	Address      common.Address `json:"address"`
	Authority    common.Address `json:"authority"`
	Fees         FeeSchedule    `json:"fees"`
	FeeRecipient common.Address `json:"fee_recipient"`
	// DevRecipient receives the remainder of each fee split. The zero
	// address routes the whole fee to FeeRecipient.
	DevRecipient common.Address `json:"dev_recipient"`
	MarketCount  uint64         `json:"market_count"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
