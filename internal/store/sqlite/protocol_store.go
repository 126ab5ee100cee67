package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polywager/internal/domain"
)

// ProtocolStore implements domain.ProtocolStore using SQLite.
type ProtocolStore struct {
	db DBTX
}

var _ domain.ProtocolStore = (*ProtocolStore)(nil)

// Create inserts the singleton row.
func (s *ProtocolStore) Create(ctx context.Context, p domain.Protocol) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO protocol (
			singleton, address, authority, protocol_fee_bps, cancel_fee_bps, amm_fee,
			fee_recipient, dev_recipient, market_count, created_at, updated_at
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Address.Hex(), p.Authority.Hex(),
		p.Fees.ProtocolFeeBps, p.Fees.CancelFeeBps, p.Fees.AmmFee,
		p.FeeRecipient.Hex(), p.DevRecipient.Hex(),
		int64(p.MarketCount), ts(p.CreatedAt), ts(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create protocol: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: create protocol: %w", domain.ErrAlreadyExists)
	}
	return nil
}

// Update overwrites the mutable protocol fields.
func (s *ProtocolStore) Update(ctx context.Context, p domain.Protocol) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE protocol SET
			protocol_fee_bps = ?, cancel_fee_bps = ?, amm_fee = ?,
			fee_recipient = ?, dev_recipient = ?, market_count = ?, updated_at = ?
		WHERE singleton = 1`,
		p.Fees.ProtocolFeeBps, p.Fees.CancelFeeBps, p.Fees.AmmFee,
		p.FeeRecipient.Hex(), p.DevRecipient.Hex(), int64(p.MarketCount), ts(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: update protocol: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: update protocol: %w", domain.ErrNotFound)
	}
	return nil
}

// GetForUpdate is Get: the single connection already serializes
// transactions.
func (s *ProtocolStore) GetForUpdate(ctx context.Context) (domain.Protocol, error) {
	return s.Get(ctx)
}

// Get returns the singleton, or ErrNotFound before initialization.
func (s *ProtocolStore) Get(ctx context.Context) (domain.Protocol, error) {
	var (
		p                            domain.Protocol
		addr, auth, feeRcpt, devRcpt string
		protoFee, cancelFee, ammFee  uint16
		count, created, updated      int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT address, authority, protocol_fee_bps, cancel_fee_bps, amm_fee,
			fee_recipient, dev_recipient, market_count, created_at, updated_at
		FROM protocol WHERE singleton = 1`,
	).Scan(&addr, &auth, &protoFee, &cancelFee, &ammFee, &feeRcpt, &devRcpt, &count, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Protocol{}, fmt.Errorf("sqlite: get protocol: %w", domain.ErrNotFound)
		}
		return domain.Protocol{}, fmt.Errorf("sqlite: get protocol: %w", err)
	}

	p.Address = common.HexToAddress(addr)
	p.Authority = common.HexToAddress(auth)
	p.FeeRecipient = common.HexToAddress(feeRcpt)
	p.DevRecipient = common.HexToAddress(devRcpt)
	p.Fees = domain.FeeSchedule{ProtocolFeeBps: protoFee, CancelFeeBps: cancelFee, AmmFee: ammFee}
	p.MarketCount = uint64(count)
	p.CreatedAt = fromTS(created)
	p.UpdatedAt = fromTS(updated)
	return p, nil
}
