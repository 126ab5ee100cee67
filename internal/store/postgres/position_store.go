package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/polywager/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	db   DBTX
	lock bool
}

var _ domain.PositionStore = (*PositionStore)(nil)

const positionSelectCols = `address, id, market_id, market, user_addr, outcome,
	amount, claimed, payout, fee, placed_at, claimed_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var (
		p                  domain.Position
		addr, market, user string
		id, marketID       int64
		outcome            int32
		stake, payout, fee int64
	)
	err := row.Scan(
		&addr, &id, &marketID, &market, &user, &outcome,
		&stake, &p.Claimed, &payout, &fee, &p.PlacedAt, &p.ClaimedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}

	p.Address = common.HexToAddress(addr)
	p.ID = uint64(id)
	p.MarketID = uint64(marketID)
	p.Market = common.HexToAddress(market)
	p.User = common.HexToAddress(user)
	p.Outcome = int(outcome)
	if p.Amount, err = fromBigint(stake); err != nil {
		return domain.Position{}, err
	}
	if p.Payout, err = fromBigint(payout); err != nil {
		return domain.Position{}, err
	}
	if p.Fee, err = fromBigint(fee); err != nil {
		return domain.Position{}, err
	}
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	stake, err := toBigint(p.Amount)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.Address.Hex(), err)
	}

	const query = `
		INSERT INTO positions (
			address, id, market_id, market, user_addr, outcome,
			amount, claimed, payout, fee, placed_at, claimed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = s.db.Exec(ctx, query,
		hexAddr(p.Address), int64(p.ID), int64(p.MarketID), hexAddr(p.Market),
		hexAddr(p.User), int32(p.Outcome),
		stake, p.Claimed, int64(p.Payout), int64(p.Fee), p.PlacedAt, p.ClaimedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create position %s: %w", p.Address.Hex(), domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create position %s: %w", p.Address.Hex(), err)
	}
	return nil
}

// Update records redemption state. Stake and ownership never change.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	payout, err := toBigint(p.Payout)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.Address.Hex(), err)
	}
	fee, err := toBigint(p.Fee)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.Address.Hex(), err)
	}

	const query = `
		UPDATE positions SET
			claimed    = $2,
			payout     = $3,
			fee        = $4,
			claimed_at = $5
		WHERE address = $1`

	tag, err := s.db.Exec(ctx, query, hexAddr(p.Address), p.Claimed, payout, fee, p.ClaimedAt)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.Address.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update position %s: %w", p.Address.Hex(), domain.ErrNotFound)
	}
	return nil
}

// GetByAddress retrieves a single position by its derived address.
func (s *PositionStore) GetByAddress(ctx context.Context, addr common.Address) (domain.Position, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE address = $1`+forUpdate(s.lock), hexAddr(addr))

	p, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", addr.Hex(), domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", addr.Hex(), err)
	}
	return p, nil
}

// ListByMarket returns a market's positions in placement order.
func (s *PositionStore) ListByMarket(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Position, error) {
	query, args := positionFilter(`market_id = $1`, []any{int64(marketID)}, "id ASC", opts)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for market %d: %w", marketID, err)
	}
	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions for market %d: %w", marketID, err)
	}
	return positions, nil
}

// ListByUser returns a user's positions, newest first.
func (s *PositionStore) ListByUser(ctx context.Context, user common.Address, opts domain.ListOpts) ([]domain.Position, error) {
	query, args := positionFilter(`user_addr = $1`, []any{hexAddr(user)}, "placed_at DESC, address ASC", opts)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", user.Hex(), err)
	}
	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions for %s: %w", user.Hex(), err)
	}
	return positions, nil
}

func positionFilter(where string, args []any, order string, opts domain.ListOpts) (string, []any) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE ` + where
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND placed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND placed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	return listSuffix(query, args, argIdx, order, opts)
}
