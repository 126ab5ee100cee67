package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polywager/internal/amount"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen      MarketStatus = "open"
	MarketStatusResolved  MarketStatus = "resolved"
	MarketStatusCancelled MarketStatus = "cancelled"
)

// Bounds on market text.
const (
	MaxQuestionLen = 200
	MaxOutcomeLen  = 50
	MinOutcomes    = 2
	MaxOutcomes    = 32
)

// Market is the unit of escrow custody. Pools, counters and escrow are only
// ever changed by ledger transitions.
type Market struct {
	ID             uint64          `json:"id"`
	Address        common.Address  `json:"address"`
	Creator        common.Address  `json:"creator"`
	TokenMint      common.Address  `json:"token_mint"`
	Question       string          `json:"question"`
	Outcomes       []string        `json:"outcomes"`
	EndTime        time.Time       `json:"end_time"`
	OutcomePools   []amount.Amount `json:"outcome_pools"`
	TotalVolume    amount.Amount   `json:"total_volume"`
	PositionCount  uint64          `json:"position_count"`
	Resolved       bool            `json:"resolved"`
	WinningOutcome int             `json:"winning_outcome"`
	Cancelled      bool            `json:"cancelled"`
	EscrowBalance  amount.Amount   `json:"escrow_balance"`
	Fees           FeeSchedule     `json:"fees"`
	Archived       bool            `json:"archived"`
	CreatedAt      time.Time       `json:"created_at"`
	SettledAt      *time.Time      `json:"settled_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Status derives the lifecycle state from the resolution flags.
func (m Market) Status() MarketStatus {
	switch {
	case m.Resolved:
		return MarketStatusResolved
	case m.Cancelled:
		return MarketStatusCancelled
	default:
		return MarketStatusOpen
	}
}

// ValidOutcome reports whether i indexes one of the market's outcomes.
func (m Market) ValidOutcome(i int) bool {
	return i >= 0 && i < len(m.Outcomes)
}

// WinningPool is the total staked on the winning outcome.
func (m Market) WinningPool() (amount.Amount, error) {
	if !m.Resolved {
		return 0, fmt.Errorf("market %d: %w", m.ID, ErrMarketNotResolved)
	}
	if !m.ValidOutcome(m.WinningOutcome) || len(m.OutcomePools) != len(m.Outcomes) {
		return 0, fmt.Errorf("market %d outcome %d: %w", m.ID, m.WinningOutcome, ErrInvalidOutcome)
	}
	return m.OutcomePools[m.WinningOutcome], nil
}

// LosingPool is the sum of every pool except the winning one.
func (m Market) LosingPool() (amount.Amount, error) {
	winning, err := m.WinningPool()
	if err != nil {
		return 0, err
	}
	return m.TotalVolume.Sub(winning)
}

// Clone returns a copy that shares no slices with m.
func (m Market) Clone() Market {
	out := m
	out.Outcomes = append([]string(nil), m.Outcomes...)
	out.OutcomePools = append([]amount.Amount(nil), m.OutcomePools...)
	if m.SettledAt != nil {
		t := *m.SettledAt
		out.SettledAt = &t
	}
	return out
}
