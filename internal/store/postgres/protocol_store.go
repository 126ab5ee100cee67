package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/polywager/internal/domain"
)

// ProtocolStore implements domain.ProtocolStore using PostgreSQL.
type ProtocolStore struct {
	db   DBTX
	lock bool
}

var _ domain.ProtocolStore = (*ProtocolStore)(nil)

// Create inserts the singleton row.
func (s *ProtocolStore) Create(ctx context.Context, p domain.Protocol) error {
	const query = `
		INSERT INTO protocol (
			address, authority, protocol_fee_bps, cancel_fee_bps, amm_fee,
			fee_recipient, dev_recipient, market_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (singleton) DO NOTHING`

	tag, err := s.db.Exec(ctx, query,
		hexAddr(p.Address), hexAddr(p.Authority),
		int32(p.Fees.ProtocolFeeBps), int32(p.Fees.CancelFeeBps), int32(p.Fees.AmmFee),
		hexAddr(p.FeeRecipient), hexAddr(p.DevRecipient),
		int64(p.MarketCount), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create protocol: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: create protocol: %w", domain.ErrAlreadyExists)
	}
	return nil
}

// Update overwrites the mutable protocol fields.
func (s *ProtocolStore) Update(ctx context.Context, p domain.Protocol) error {
	const query = `
		UPDATE protocol SET
			protocol_fee_bps = $1, cancel_fee_bps = $2, amm_fee = $3,
			fee_recipient = $4, dev_recipient = $5, market_count = $6, updated_at = $7
		WHERE singleton`

	tag, err := s.db.Exec(ctx, query,
		int32(p.Fees.ProtocolFeeBps), int32(p.Fees.CancelFeeBps), int32(p.Fees.AmmFee),
		hexAddr(p.FeeRecipient), hexAddr(p.DevRecipient),
		int64(p.MarketCount), p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update protocol: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update protocol: %w", domain.ErrNotFound)
	}
	return nil
}

// Get returns the singleton, or ErrNotFound before initialization. It never
// takes a row lock, so claims and deposits on different markets do not queue
// behind each other on the singleton.
func (s *ProtocolStore) Get(ctx context.Context) (domain.Protocol, error) {
	return s.get(ctx, false)
}

// GetForUpdate is Get with the row locked for the rest of the transaction.
func (s *ProtocolStore) GetForUpdate(ctx context.Context) (domain.Protocol, error) {
	return s.get(ctx, s.lock)
}

func protocolQuery(lock bool) string {
	return `
		SELECT address, authority, protocol_fee_bps, cancel_fee_bps, amm_fee,
			fee_recipient, dev_recipient, market_count, created_at, updated_at
		FROM protocol WHERE singleton` + forUpdate(lock)
}

func (s *ProtocolStore) get(ctx context.Context, lock bool) (domain.Protocol, error) {
	query := protocolQuery(lock)

	var (
		p                               domain.Protocol
		addr, authority, feeRcpt, devRc string
		protoFee, cancelFee, ammFee     int32
		count                           int64
	)
	err := s.db.QueryRow(ctx, query).Scan(
		&addr, &authority, &protoFee, &cancelFee, &ammFee,
		&feeRcpt, &devRc, &count, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Protocol{}, fmt.Errorf("postgres: get protocol: %w", domain.ErrNotFound)
		}
		return domain.Protocol{}, fmt.Errorf("postgres: get protocol: %w", err)
	}

	p.Address = common.HexToAddress(addr)
	p.Authority = common.HexToAddress(authority)
	p.FeeRecipient = common.HexToAddress(feeRcpt)
	p.DevRecipient = common.HexToAddress(devRc)
	p.Fees = domain.FeeSchedule{
		ProtocolFeeBps: uint16(protoFee),
		CancelFeeBps:   uint16(cancelFee),
		AmmFee:         uint16(ammFee),
	}
	p.MarketCount = uint64(count)
	return p, nil
}
