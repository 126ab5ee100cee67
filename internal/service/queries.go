package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polywager/internal/amount"
	"github.com/alanyoungcy/polywager/internal/domain"
	"github.com/alanyoungcy/polywager/internal/settlement"
)

// Verification is the result of VerifyMarket.
type Verification struct {
	settlement.Report
	// Custody is the balance held by the market's escrow account, which
	// must match the recorded escrow balance.
	Custody amount.Amount `json:"custody"`
	OK      bool          `json:"ok"`
	Problem string        `json:"problem,omitempty"`
}

// GetProtocol returns the protocol singleton.
func (s *LedgerService) GetProtocol(ctx context.Context) (domain.Protocol, error) {
	p, err := s.ledger.Protocols().Get(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Protocol{}, fmt.Errorf("ledger_service: %w", domain.ErrNotInitialized)
		}
		return domain.Protocol{}, fmt.Errorf("ledger_service: get protocol: %w", err)
	}
	return p, nil
}

// GetMarket returns a market, reading through the cache. Misses are not
// written back; only committed mutations fill the cache (see mutateLocked).
func (s *LedgerService) GetMarket(ctx context.Context, id uint64) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, id); err == nil {
			return m, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "ledger_service: cache get failed",
				slog.Uint64("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	m, err := s.ledger.Markets().GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("ledger_service: get market %d: %w", id, err)
	}
	return m, nil
}

// ListMarkets returns markets in status (all when empty), newest first.
func (s *LedgerService) ListMarkets(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.ledger.Markets().List(ctx, status, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: list markets: %w", err)
	}
	return markets, nil
}

// MarketsFrom returns up to limit markets with id >= fromID in id order.
func (s *LedgerService) MarketsFrom(ctx context.Context, fromID uint64, limit int) ([]domain.Market, error) {
	markets, err := s.ledger.Markets().ListFromID(ctx, fromID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: list markets from %d: %w", fromID, err)
	}
	return markets, nil
}

// GetPosition returns the position stored at addr.
func (s *LedgerService) GetPosition(ctx context.Context, addr common.Address) (domain.Position, error) {
	pos, err := s.ledger.Positions().GetByAddress(ctx, addr)
	if err != nil {
		return domain.Position{}, fmt.Errorf("ledger_service: get position %s: %w", addr.Hex(), err)
	}
	return pos, nil
}

// ListMarketPositions returns a market's positions in placement order.
func (s *LedgerService) ListMarketPositions(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Position, error) {
	if _, err := s.ledger.Markets().GetByID(ctx, marketID); err != nil {
		return nil, fmt.Errorf("ledger_service: list positions of market %d: %w", marketID, err)
	}
	positions, err := s.ledger.Positions().ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: list positions of market %d: %w", marketID, err)
	}
	return positions, nil
}

// ListUserPositions returns a user's positions, most recent first.
func (s *LedgerService) ListUserPositions(ctx context.Context, user common.Address, opts domain.ListOpts) ([]domain.Position, error) {
	positions, err := s.ledger.Positions().ListByUser(ctx, user, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: list positions of %s: %w", user.Hex(), err)
	}
	return positions, nil
}

// Balance returns the custody balance of owner in mint.
func (s *LedgerService) Balance(ctx context.Context, owner, mint common.Address) (domain.Balance, error) {
	amt, err := s.ledger.Accounts().Balance(ctx, owner, mint)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("ledger_service: balance: %w", err)
	}
	return domain.Balance{Owner: owner, Mint: mint, Amount: amt, UpdatedAt: s.clock.Now()}, nil
}

// ListTransfers returns the transfers into or out of owner's accounts.
func (s *LedgerService) ListTransfers(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.Transfer, error) {
	ts, err := s.ledger.Accounts().ListTransfers(ctx, owner, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: list transfers: %w", err)
	}
	return ts, nil
}

// ListAudit returns audit entries, newest first.
func (s *LedgerService) ListAudit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	entries, err := s.ledger.Audit().List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: list audit: %w", err)
	}
	return entries, nil
}

// Events replays committed events from the durable stream after lastID.
func (s *LedgerService) Events(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error) {
	msgs, err := s.bus.StreamRead(ctx, domain.EventsStream, lastID, count)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: read events: %w", err)
	}
	return msgs, nil
}

// VerifyMarket checks the escrow conservation invariants of a market over
// all of its positions and compares the recorded escrow with the custody
// account of the market. The reads run under the market lock in one
// transaction so a concurrent bet or claim cannot split the snapshot.
func (s *LedgerService) VerifyMarket(ctx context.Context, id uint64) (Verification, error) {
	var (
		m         domain.Market
		positions []domain.Position
		custody   amount.Amount
	)
	err := s.readLocked(ctx, marketLockKey(id), func(tx domain.Stores) error {
		var err error
		if m, err = tx.Markets().GetByID(ctx, id); err != nil {
			return err
		}
		if positions, err = tx.Positions().ListByMarket(ctx, id, domain.ListOpts{}); err != nil {
			return err
		}
		custody, err = tx.Accounts().Balance(ctx, m.Address, m.TokenMint)
		return err
	})
	if err != nil {
		return Verification{}, fmt.Errorf("ledger_service: verify market %d: %w", id, err)
	}

	rep, checkErr := settlement.CheckConservation(m, positions)
	v := Verification{Report: rep, Custody: custody, OK: true}
	switch {
	case checkErr != nil:
		v.OK = false
		v.Problem = checkErr.Error()
	case custody != m.EscrowBalance:
		v.OK = false
		v.Problem = fmt.Sprintf("custody %s differs from escrow %s", custody, m.EscrowBalance)
	}
	if !v.OK {
		s.logger.ErrorContext(ctx, "ledger_service: conservation check failed",
			slog.Uint64("market_id", id),
			slog.String("problem", v.Problem),
		)
	}
	return v, nil
}

// SettledBatch loads up to limit terminal markets settled before cutoff
// that have not been archived yet, each with all of its positions.
func (s *LedgerService) SettledBatch(ctx context.Context, cutoff time.Time, limit int) ([]domain.SettledMarket, error) {
	markets, err := s.ledger.Markets().ListSettledBefore(ctx, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: list settled markets: %w", err)
	}
	batch := make([]domain.SettledMarket, 0, len(markets))
	for _, m := range markets {
		positions, err := s.ledger.Positions().ListByMarket(ctx, m.ID, domain.ListOpts{})
		if err != nil {
			return nil, fmt.Errorf("ledger_service: positions of market %d: %w", m.ID, err)
		}
		batch = append(batch, domain.SettledMarket{Market: m, Positions: positions})
	}
	return batch, nil
}

// MarkArchived flags markets as exported to cold storage.
func (s *LedgerService) MarkArchived(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.ledger.Markets().MarkArchived(ctx, ids); err != nil {
		return fmt.Errorf("ledger_service: mark archived: %w", err)
	}
	for _, id := range ids {
		if s.cache != nil {
			_ = s.cache.Invalidate(ctx, id)
		}
	}
	s.metrics.AddArchived(int64(len(ids)))
	return nil
}
