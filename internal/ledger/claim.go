package ledger

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polywager/internal/domain"
	"github.com/alanyoungcy/polywager/internal/settlement"
)

func checkBelongs(m *domain.Market, pos *domain.Position) error {
	if pos.MarketID != m.ID || pos.Market != m.Address {
		return fmt.Errorf("position %s is not on market %d: %w", pos.Address.Hex(), m.ID, domain.ErrInvalidInput)
	}
	return nil
}

// ClaimWinnings redeems a winning position. The market's escrow gives up the
// stake plus its share of the losing pool; the returned claim says how much
// of that goes to the user and how much is fee. Fees use the schedule the
// market was created with.
func ClaimWinnings(m *domain.Market, pos *domain.Position, caller common.Address, now time.Time) (settlement.Claim, error) {
	if err := checkBelongs(m, pos); err != nil {
		return settlement.Claim{}, fmt.Errorf("ledger: claim: %w", err)
	}
	switch {
	case caller != pos.User:
		return settlement.Claim{}, fmt.Errorf("ledger: claim %s: caller %s: %w", pos.Address.Hex(), caller.Hex(), domain.ErrUnauthorized)
	case !m.Resolved:
		return settlement.Claim{}, fmt.Errorf("ledger: claim %s: %w", pos.Address.Hex(), domain.ErrMarketNotResolved)
	}

	winningPool, err := m.WinningPool()
	if err != nil {
		return settlement.Claim{}, fmt.Errorf("ledger: claim %s: %w", pos.Address.Hex(), err)
	}
	// Nobody backed the winner: positions are redeemed through refunds.
	if winningPool == 0 {
		return settlement.Claim{}, fmt.Errorf("ledger: claim %s: %w", pos.Address.Hex(), domain.ErrNoWinningStakes)
	}
	if pos.Outcome != m.WinningOutcome {
		return settlement.Claim{}, fmt.Errorf("ledger: claim %s: %w", pos.Address.Hex(), domain.ErrNotWinner)
	}
	if pos.Claimed {
		return settlement.Claim{}, fmt.Errorf("ledger: claim %s: %w", pos.Address.Hex(), domain.ErrAlreadyClaimed)
	}
	losingPool, err := m.LosingPool()
	if err != nil {
		return settlement.Claim{}, fmt.Errorf("ledger: claim %s: %w", pos.Address.Hex(), err)
	}
	c, err := settlement.ComputeClaim(winningPool, losingPool, pos.Amount, m.Fees)
	if err != nil {
		return settlement.Claim{}, fmt.Errorf("ledger: claim %s: %w", pos.Address.Hex(), err)
	}
	escrow, err := m.EscrowBalance.Sub(c.EscrowDebit)
	if err != nil {
		return settlement.Claim{}, fmt.Errorf("ledger: claim %s: escrow: %w", pos.Address.Hex(), err)
	}

	m.EscrowBalance = escrow
	m.UpdatedAt = now
	pos.Claimed = true
	pos.Payout = c.Net
	pos.Fee = c.Fee
	pos.ClaimedAt = &now
	return c, nil
}

// RefundPosition returns a stake when there is no winning side to pay it:
// the market was cancelled (the cancel fee is withheld) or it resolved to an
// outcome nobody backed (full stake). The position owner, the market creator
// or the protocol authority may trigger it; the funds always go to the
// owner.
func RefundPosition(p domain.Protocol, m *domain.Market, pos *domain.Position, caller common.Address, now time.Time) (settlement.Refund, error) {
	if err := checkBelongs(m, pos); err != nil {
		return settlement.Refund{}, fmt.Errorf("ledger: refund: %w", err)
	}
	if caller != pos.User && caller != m.Creator && caller != p.Authority {
		return settlement.Refund{}, fmt.Errorf("ledger: refund %s: caller %s: %w", pos.Address.Hex(), caller.Hex(), domain.ErrUnauthorized)
	}
	if pos.Claimed {
		return settlement.Refund{}, fmt.Errorf("ledger: refund %s: %w", pos.Address.Hex(), domain.ErrAlreadyClaimed)
	}

	var feeBps uint16
	switch {
	case m.Cancelled:
		feeBps = m.Fees.CancelFeeBps
	case m.Resolved:
		winningPool, err := m.WinningPool()
		if err != nil {
			return settlement.Refund{}, fmt.Errorf("ledger: refund %s: %w", pos.Address.Hex(), err)
		}
		if winningPool != 0 {
			return settlement.Refund{}, fmt.Errorf("ledger: refund %s: market %d has winners: %w", pos.Address.Hex(), m.ID, domain.ErrRefundNotAllowed)
		}
	default:
		return settlement.Refund{}, fmt.Errorf("ledger: refund %s: market %d is open: %w", pos.Address.Hex(), m.ID, domain.ErrRefundNotAllowed)
	}

	r, err := settlement.ComputeRefund(pos.Amount, feeBps)
	if err != nil {
		return settlement.Refund{}, fmt.Errorf("ledger: refund %s: %w", pos.Address.Hex(), err)
	}
	escrow, err := m.EscrowBalance.Sub(pos.Amount)
	if err != nil {
		return settlement.Refund{}, fmt.Errorf("ledger: refund %s: escrow: %w", pos.Address.Hex(), err)
	}

	m.EscrowBalance = escrow
	m.UpdatedAt = now
	pos.Claimed = true
	pos.Payout = r.Net
	pos.Fee = r.Fee
	pos.ClaimedAt = &now
	return r, nil
}
