package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polywager/internal/amount"
	"github.com/alanyoungcy/polywager/internal/domain"
	"github.com/alanyoungcy/polywager/internal/ledger"
)

// CreateMarket allocates the next market id and opens a market with caller
// as creator. The market keeps the fee schedule in force now.
func (s *LedgerService) CreateMarket(ctx context.Context, caller common.Address, params ledger.MarketParams) (domain.Market, error) {
	var created domain.Market
	_, err := s.mutate(ctx, "create_market", protocolLockKey,
		func(ctx context.Context, tx domain.Stores, now time.Time) (domain.LedgerEvent, error) {
			p, err := lockProtocol(ctx, tx)
			if err != nil {
				return domain.LedgerEvent{}, err
			}
			m, err := ledger.CreateMarket(&p, caller, params, now)
			if err != nil {
				return domain.LedgerEvent{}, err
			}
			if err := tx.Markets().Create(ctx, m); err != nil {
				return domain.LedgerEvent{}, fmt.Errorf("ledger_service: create market %d: %w", m.ID, err)
			}
			if err := tx.Protocols().Update(ctx, p); err != nil {
				return domain.LedgerEvent{}, fmt.Errorf("ledger_service: bump market counter: %w", err)
			}
			created = m
			return domain.LedgerEvent{
				Type:     domain.EventMarketCreated,
				Actor:    caller,
				MarketID: ptr(m.ID),
				Mint:     ptr(m.TokenMint),
				Question: m.Question,
				Fees:     ptr(m.Fees),
			}, nil
		})
	if err != nil {
		return domain.Market{}, err
	}
	s.refreshMarketGauges(ctx)
	return created, nil
}

// PlaceBet stakes amt of the market's token from caller's account on
// outcome and returns the new position.
func (s *LedgerService) PlaceBet(ctx context.Context, caller common.Address, marketID uint64, outcome int, amt amount.Amount) (domain.Position, error) {
	var pos domain.Position
	var mint common.Address
	_, err := s.mutate(ctx, "place_bet", marketLockKey(marketID),
		func(ctx context.Context, tx domain.Stores, now time.Time) (domain.LedgerEvent, error) {
			m, err := tx.Markets().GetByID(ctx, marketID)
			if err != nil {
				return domain.LedgerEvent{}, fmt.Errorf("ledger_service: place bet: %w", err)
			}
			p, err := ledger.PlaceBet(&m, caller, outcome, amt, now)
			if err != nil {
				return domain.LedgerEvent{}, err
			}
			if err := applyTransfers(ctx, tx, ledger.StakeTransfer(m, p)); err != nil {
				return domain.LedgerEvent{}, err
			}
			if err := tx.Positions().Create(ctx, p); err != nil {
				return domain.LedgerEvent{}, fmt.Errorf("ledger_service: create position: %w", err)
			}
			if err := tx.Markets().Update(ctx, m); err != nil {
				return domain.LedgerEvent{}, fmt.Errorf("ledger_service: update market %d: %w", m.ID, err)
			}
			pos = p
			mint = m.TokenMint
			return domain.LedgerEvent{
				Type:     domain.EventBetPlaced,
				Actor:    caller,
				MarketID: ptr(m.ID),
				Position: ptr(p.Address),
				User:     ptr(caller),
				Mint:     ptr(m.TokenMint),
				Outcome:  ptr(outcome),
				Amount:   amt,
			}, nil
		})
	if err != nil {
		return domain.Position{}, err
	}
	s.metrics.RecordStake(mint.Hex(), amt)
	return pos, nil
}

// ResolveMarket sets the winning outcome once the market has ended.
func (s *LedgerService) ResolveMarket(ctx context.Context, caller common.Address, marketID uint64, winning int) (domain.Market, error) {
	var resolved domain.Market
	_, err := s.mutate(ctx, "resolve_market", marketLockKey(marketID),
		func(ctx context.Context, tx domain.Stores, now time.Time) (domain.LedgerEvent, error) {
			m, err := tx.Markets().GetByID(ctx, marketID)
			if err != nil {
				return domain.LedgerEvent{}, fmt.Errorf("ledger_service: resolve: %w", err)
			}
			if err := ledger.ResolveMarket(&m, caller, winning, now); err != nil {
				return domain.LedgerEvent{}, err
			}
			if err := tx.Markets().Update(ctx, m); err != nil {
				return domain.LedgerEvent{}, fmt.Errorf("ledger_service: update market %d: %w", m.ID, err)
			}
			resolved = m
			return domain.LedgerEvent{
				Type:     domain.EventMarketResolved,
				Actor:    caller,
				MarketID: ptr(m.ID),
				Outcome:  ptr(winning),
				Amount:   m.OutcomePools[winning],
				Question: m.Question,
			}, nil
		})
	if err != nil {
		return domain.Market{}, err
	}
	s.refreshMarketGauges(ctx)
	return resolved, nil
}

// CancelMarket voids an open market before its end time.
func (s *LedgerService) CancelMarket(ctx context.Context, caller common.Address, marketID uint64) (domain.Market, error) {
	var cancelled domain.Market
	_, err := s.mutate(ctx, "cancel_market", marketLockKey(marketID),
		func(ctx context.Context, tx domain.Stores, now time.Time) (domain.LedgerEvent, error) {
			m, err := tx.Markets().GetByID(ctx, marketID)
			if err != nil {
				return domain.LedgerEvent{}, fmt.Errorf("ledger_service: cancel: %w", err)
			}
			p, err := loadProtocol(ctx, tx)
			if err != nil {
				return domain.LedgerEvent{}, err
			}
			if err := ledger.CancelMarket(p, &m, caller, now); err != nil {
				return domain.LedgerEvent{}, err
			}
			if err := tx.Markets().Update(ctx, m); err != nil {
				return domain.LedgerEvent{}, fmt.Errorf("ledger_service: update market %d: %w", m.ID, err)
			}
			cancelled = m
			return domain.LedgerEvent{
				Type:     domain.EventMarketCancelled,
				Actor:    caller,
				MarketID: ptr(m.ID),
				Amount:   m.EscrowBalance,
				Question: m.Question,
			}, nil
		})
	if err != nil {
		return domain.Market{}, err
	}
	s.refreshMarketGauges(ctx)
	return cancelled, nil
}
