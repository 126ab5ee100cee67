package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polywager/internal/amount"
	"github.com/alanyoungcy/polywager/internal/domain"
	"github.com/alanyoungcy/polywager/internal/ledger"
)

// InitializeProtocol creates the protocol singleton with caller as its
// authority.
func (s *LedgerService) InitializeProtocol(ctx context.Context, caller common.Address, params ledger.ProtocolParams) (domain.Protocol, error) {
	var created domain.Protocol
	_, err := s.mutate(ctx, "initialize_protocol", protocolLockKey,
		func(ctx context.Context, tx domain.Stores, now time.Time) (domain.LedgerEvent, error) {
			var current *domain.Protocol
			existing, err := tx.Protocols().GetForUpdate(ctx)
			switch {
			case err == nil:
				current = &existing
			case !errors.Is(err, domain.ErrNotFound):
				return domain.LedgerEvent{}, fmt.Errorf("ledger_service: load protocol: %w", err)
			}

			p, err := ledger.InitializeProtocol(current, caller, params, s.cfg.MaxFeeBps, now)
			if err != nil {
				return domain.LedgerEvent{}, err
			}
			if err := tx.Protocols().Create(ctx, p); err != nil {
				if errors.Is(err, domain.ErrAlreadyExists) {
					return domain.LedgerEvent{}, fmt.Errorf("ledger_service: %w", domain.ErrAlreadyInitialized)
				}
				return domain.LedgerEvent{}, fmt.Errorf("ledger_service: create protocol: %w", err)
			}
			created = p
			return domain.LedgerEvent{
				Type:  domain.EventProtocolInitialized,
				Actor: caller,
				Fees:  ptr(p.Fees),
			}, nil
		})
	if err != nil {
		return domain.Protocol{}, err
	}
	return created, nil
}

// UpdateFees changes the fee schedule for markets created from now on.
func (s *LedgerService) UpdateFees(ctx context.Context, caller common.Address, u ledger.FeeUpdate) (domain.Protocol, error) {
	var updated domain.Protocol
	_, err := s.mutate(ctx, "update_fees", protocolLockKey,
		func(ctx context.Context, tx domain.Stores, now time.Time) (domain.LedgerEvent, error) {
			p, err := lockProtocol(ctx, tx)
			if err != nil {
				return domain.LedgerEvent{}, err
			}
			if err := ledger.UpdateFees(&p, caller, u, s.cfg.MaxFeeBps, now); err != nil {
				return domain.LedgerEvent{}, err
			}
			if err := tx.Protocols().Update(ctx, p); err != nil {
				return domain.LedgerEvent{}, fmt.Errorf("ledger_service: update protocol: %w", err)
			}
			updated = p
			return domain.LedgerEvent{
				Type:  domain.EventFeesUpdated,
				Actor: caller,
				Fees:  ptr(p.Fees),
			}, nil
		})
	if err != nil {
		return domain.Protocol{}, err
	}
	return updated, nil
}

// Deposit credits owner's custody account with amt of mint. Only the
// protocol authority may deposit.
func (s *LedgerService) Deposit(ctx context.Context, caller, owner, mint common.Address, amt amount.Amount) (domain.Balance, error) {
	var bal domain.Balance
	_, err := s.mutate(ctx, "deposit", "account:"+owner.Hex(),
		func(ctx context.Context, tx domain.Stores, now time.Time) (domain.LedgerEvent, error) {
			p, err := loadProtocol(ctx, tx)
			if err != nil {
				return domain.LedgerEvent{}, err
			}
			t, err := ledger.Deposit(p, caller, owner, mint, amt, now)
			if err != nil {
				return domain.LedgerEvent{}, err
			}
			if err := applyTransfers(ctx, tx, t); err != nil {
				return domain.LedgerEvent{}, err
			}
			total, err := tx.Accounts().Balance(ctx, owner, mint)
			if err != nil {
				return domain.LedgerEvent{}, fmt.Errorf("ledger_service: read balance: %w", err)
			}
			bal = domain.Balance{Owner: owner, Mint: mint, Amount: total, UpdatedAt: now}
			return domain.LedgerEvent{
				Type:   domain.EventFundsDeposited,
				Actor:  caller,
				User:   ptr(owner),
				Mint:   ptr(mint),
				Amount: amt,
			}, nil
		})
	if err != nil {
		return domain.Balance{}, err
	}
	return bal, nil
}
