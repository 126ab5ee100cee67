package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polywager/internal/domain"
	"github.com/alanyoungcy/polywager/internal/ledger"
	"github.com/alanyoungcy/polywager/internal/settlement"
)

// ClaimResult is the outcome of a successful claim.
type ClaimResult struct {
	Position domain.Position  `json:"position"`
	Claim    settlement.Claim `json:"claim"`
}

// RefundResult is the outcome of a successful refund.
type RefundResult struct {
	Position domain.Position   `json:"position"`
	Refund   settlement.Refund `json:"refund"`
}

// positionMarket resolves the market a position belongs to. Positions never
// move between markets, so an unlocked read is enough to pick the lock.
func (s *LedgerService) positionMarket(ctx context.Context, addr common.Address) (uint64, error) {
	pos, err := s.ledger.Positions().GetByAddress(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("ledger_service: position %s: %w", addr.Hex(), err)
	}
	return pos.MarketID, nil
}

// lockedRecords reads the market, the position and the protocol inside tx.
func lockedRecords(ctx context.Context, tx domain.Stores, marketID uint64, addr common.Address) (domain.Market, domain.Position, domain.Protocol, error) {
	m, err := tx.Markets().GetByID(ctx, marketID)
	if err != nil {
		return domain.Market{}, domain.Position{}, domain.Protocol{}, fmt.Errorf("ledger_service: %w", err)
	}
	pos, err := tx.Positions().GetByAddress(ctx, addr)
	if err != nil {
		return domain.Market{}, domain.Position{}, domain.Protocol{}, fmt.Errorf("ledger_service: %w", err)
	}
	p, err := loadProtocol(ctx, tx)
	if err != nil {
		return domain.Market{}, domain.Position{}, domain.Protocol{}, err
	}
	return m, pos, p, nil
}

// ClaimWinnings pays a winning position its stake plus its share of the
// losing pool, less fees, from market escrow.
func (s *LedgerService) ClaimWinnings(ctx context.Context, caller, positionAddr common.Address) (ClaimResult, error) {
	marketID, err := s.positionMarket(ctx, positionAddr)
	if err != nil {
		s.metrics.RecordOperation("claim_winnings", domain.ErrorCode(err), 0)
		return ClaimResult{}, err
	}

	var res ClaimResult
	_, err = s.mutate(ctx, "claim_winnings", marketLockKey(marketID),
		func(ctx context.Context, tx domain.Stores, now time.Time) (domain.LedgerEvent, error) {
			m, pos, p, err := lockedRecords(ctx, tx, marketID, positionAddr)
			if err != nil {
				return domain.LedgerEvent{}, err
			}
			c, err := ledger.ClaimWinnings(&m, &pos, caller, now)
			if err != nil {
				return domain.LedgerEvent{}, err
			}
			legs := ledger.PayoutTransfers(p, m, pos, domain.TransferPayout, c.Net, c.Fee)
			if err := applyTransfers(ctx, tx, legs...); err != nil {
				return domain.LedgerEvent{}, err
			}
			if err := tx.Positions().Update(ctx, pos); err != nil {
				return domain.LedgerEvent{}, fmt.Errorf("ledger_service: update position: %w", err)
			}
			if err := tx.Markets().Update(ctx, m); err != nil {
				return domain.LedgerEvent{}, fmt.Errorf("ledger_service: update market %d: %w", m.ID, err)
			}
			res = ClaimResult{Position: pos, Claim: c}
			return domain.LedgerEvent{
				Type:     domain.EventWinningsClaimed,
				Actor:    caller,
				MarketID: ptr(m.ID),
				Position: ptr(pos.Address),
				User:     ptr(pos.User),
				Outcome:  ptr(pos.Outcome),
				Amount:   pos.Amount,
				Payout:   c.Net,
				Fee:      c.Fee,
			}, nil
		})
	if err != nil {
		return ClaimResult{}, err
	}
	s.metrics.RecordPayout(string(domain.TransferPayout), res.Claim.Net, res.Claim.Fee)
	return res, nil
}

// RefundPosition returns a stake from a cancelled market (less the cancel
// fee) or from a resolved market whose winning outcome has no stakes.
func (s *LedgerService) RefundPosition(ctx context.Context, caller, positionAddr common.Address) (RefundResult, error) {
	marketID, err := s.positionMarket(ctx, positionAddr)
	if err != nil {
		s.metrics.RecordOperation("refund_position", domain.ErrorCode(err), 0)
		return RefundResult{}, err
	}

	var res RefundResult
	_, err = s.mutate(ctx, "refund_position", marketLockKey(marketID),
		func(ctx context.Context, tx domain.Stores, now time.Time) (domain.LedgerEvent, error) {
			m, pos, p, err := lockedRecords(ctx, tx, marketID, positionAddr)
			if err != nil {
				return domain.LedgerEvent{}, err
			}
			r, err := ledger.RefundPosition(p, &m, &pos, caller, now)
			if err != nil {
				return domain.LedgerEvent{}, err
			}
			legs := ledger.PayoutTransfers(p, m, pos, domain.TransferRefund, r.Net, r.Fee)
			if err := applyTransfers(ctx, tx, legs...); err != nil {
				return domain.LedgerEvent{}, err
			}
			if err := tx.Positions().Update(ctx, pos); err != nil {
				return domain.LedgerEvent{}, fmt.Errorf("ledger_service: update position: %w", err)
			}
			if err := tx.Markets().Update(ctx, m); err != nil {
				return domain.LedgerEvent{}, fmt.Errorf("ledger_service: update market %d: %w", m.ID, err)
			}
			res = RefundResult{Position: pos, Refund: r}
			return domain.LedgerEvent{
				Type:     domain.EventPositionRefunded,
				Actor:    caller,
				MarketID: ptr(m.ID),
				Position: ptr(pos.Address),
				User:     ptr(pos.User),
				Outcome:  ptr(pos.Outcome),
				Amount:   pos.Amount,
				Payout:   r.Net,
				Fee:      r.Fee,
			}, nil
		})
	if err != nil {
		return RefundResult{}, err
	}
	s.metrics.RecordPayout(string(domain.TransferRefund), res.Refund.Net, res.Refund.Fee)
	return res, nil
}
