package settlement

import (
	"fmt"

	"github.com/alanyoungcy/polywager/internal/amount"
	"github.com/alanyoungcy/polywager/internal/domain"
)

// Report summarises a market's escrow against the positions drawn on it.
type Report struct {
	MarketID       uint64        `json:"market_id"`
	Status         string        `json:"status"`
	EscrowBalance  amount.Amount `json:"escrow_balance"`
	PoolTotal      amount.Amount `json:"pool_total"`
	UnclaimedStake amount.Amount `json:"unclaimed_stake"`
	// Obligations is what escrow must still be able to pay out.
	Obligations amount.Amount `json:"obligations"`
	// Surplus is escrow left after every obligation, rounding dust included.
	Surplus amount.Amount `json:"surplus"`
}

// CheckConservation verifies the escrow invariants of m over all of its
// positions. Open and cancelled markets must hold exactly the unclaimed
// stakes. Resolved markets must hold at least what their unclaimed winning
// positions (or refunds, when nobody backed the winner) still require.
func CheckConservation(m domain.Market, positions []domain.Position) (Report, error) {
	rep := Report{
		MarketID:      m.ID,
		Status:        string(m.Status()),
		EscrowBalance: m.EscrowBalance,
	}

	poolTotal, err := amount.Sum(m.OutcomePools...)
	if err != nil {
		return rep, fmt.Errorf("settlement: market %d pools: %w", m.ID, err)
	}
	rep.PoolTotal = poolTotal
	if poolTotal != m.TotalVolume {
		return rep, fmt.Errorf("settlement: market %d pools %s != volume %s: %w",
			m.ID, poolTotal, m.TotalVolume, domain.ErrConservation)
	}

	var staked amount.Amount
	for _, p := range positions {
		if p.MarketID != m.ID {
			return rep, fmt.Errorf("settlement: position %s belongs to market %d: %w",
				p.Address.Hex(), p.MarketID, domain.ErrInvalidInput)
		}
		if staked, err = staked.Add(p.Amount); err != nil {
			return rep, fmt.Errorf("settlement: market %d stakes: %w", m.ID, err)
		}
		if p.Claimed {
			continue
		}
		if rep.UnclaimedStake, err = rep.UnclaimedStake.Add(p.Amount); err != nil {
			return rep, fmt.Errorf("settlement: market %d unclaimed: %w", m.ID, err)
		}
	}
	if staked != m.TotalVolume {
		return rep, fmt.Errorf("settlement: market %d stakes %s != volume %s: %w",
			m.ID, staked, m.TotalVolume, domain.ErrConservation)
	}

	rep.Obligations = rep.UnclaimedStake
	if m.Resolved {
		if rep.Obligations, err = resolvedObligations(m, positions); err != nil {
			return rep, err
		}
	}

	if m.Resolved {
		if m.EscrowBalance < rep.Obligations {
			return rep, fmt.Errorf("settlement: market %d escrow %s < obligations %s: %w",
				m.ID, m.EscrowBalance, rep.Obligations, domain.ErrConservation)
		}
	} else if m.EscrowBalance != rep.Obligations {
		return rep, fmt.Errorf("settlement: market %d escrow %s != unclaimed stakes %s: %w",
			m.ID, m.EscrowBalance, rep.Obligations, domain.ErrConservation)
	}
	rep.Surplus = m.EscrowBalance - rep.Obligations
	return rep, nil
}

func resolvedObligations(m domain.Market, positions []domain.Position) (amount.Amount, error) {
	winningPool, err := m.WinningPool()
	if err != nil {
		return 0, fmt.Errorf("settlement: market %d: %w", m.ID, err)
	}
	losingPool, err := m.LosingPool()
	if err != nil {
		return 0, fmt.Errorf("settlement: market %d: %w", m.ID, err)
	}

	var owed amount.Amount
	for _, p := range positions {
		if p.Claimed {
			continue
		}
		var due amount.Amount
		switch {
		case winningPool == 0:
			due = p.Amount
		case p.Outcome == m.WinningOutcome:
			c, err := ComputeClaim(winningPool, losingPool, p.Amount, m.Fees)
			if err != nil {
				return 0, err
			}
			due = c.EscrowDebit
		default:
			continue
		}
		if owed, err = owed.Add(due); err != nil {
			return 0, fmt.Errorf("settlement: market %d obligations: %w", m.ID, err)
		}
	}
	return owed, nil
}
