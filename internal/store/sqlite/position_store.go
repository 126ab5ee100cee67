package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polywager/internal/domain"
)

// PositionStore implements domain.PositionStore using SQLite.
type PositionStore struct {
	db DBTX
}

var _ domain.PositionStore = (*PositionStore)(nil)

const positionCols = `address, id, market_id, market, user_addr, outcome,
	amount, claimed, payout, fee, placed_at, claimed_at`

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	stake, err := toInt(p.Amount)
	if err != nil {
		return fmt.Errorf("sqlite: create position %s: %w", p.Address.Hex(), err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO positions (`+positionCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Address.Hex(), int64(p.ID), int64(p.MarketID), p.Market.Hex(), p.User.Hex(), p.Outcome,
		stake, p.Claimed, int64(p.Payout), int64(p.Fee), ts(p.PlacedAt), tsPtr(p.ClaimedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sqlite: create position %s: %w", p.Address.Hex(), domain.ErrAlreadyExists)
		}
		return fmt.Errorf("sqlite: create position %s: %w", p.Address.Hex(), err)
	}
	return nil
}

// Update records redemption state.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	payout, err := toInt(p.Payout)
	if err != nil {
		return fmt.Errorf("sqlite: update position %s: %w", p.Address.Hex(), err)
	}
	fee, err := toInt(p.Fee)
	if err != nil {
		return fmt.Errorf("sqlite: update position %s: %w", p.Address.Hex(), err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE positions SET claimed = ?, payout = ?, fee = ?, claimed_at = ?
		WHERE address = ?`,
		p.Claimed, payout, fee, tsPtr(p.ClaimedAt), p.Address.Hex(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: update position %s: %w", p.Address.Hex(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: update position %s: %w", p.Address.Hex(), domain.ErrNotFound)
	}
	return nil
}

// GetByAddress retrieves a position by its derived address.
func (s *PositionStore) GetByAddress(ctx context.Context, addr common.Address) (domain.Position, error) {
	p, err := scanPosition(s.db.QueryRowContext(ctx,
		`SELECT `+positionCols+` FROM positions WHERE address = ?`, addr.Hex()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("sqlite: get position %s: %w", addr.Hex(), domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("sqlite: get position %s: %w", addr.Hex(), err)
	}
	return p, nil
}

// ListByMarket returns a market's positions in placement order.
func (s *PositionStore) ListByMarket(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Position, error) {
	return s.list(ctx, `market_id = ?`, int64(marketID), "id ASC", opts)
}

// ListByUser returns a user's positions, newest first.
func (s *PositionStore) ListByUser(ctx context.Context, user common.Address, opts domain.ListOpts) ([]domain.Position, error) {
	return s.list(ctx, `user_addr = ?`, user.Hex(), "placed_at DESC, address ASC", opts)
}

func (s *PositionStore) list(ctx context.Context, where string, key any, order string, opts domain.ListOpts) ([]domain.Position, error) {
	query, args := timeFilter(`SELECT `+positionCols+` FROM positions WHERE `+where, []any{key}, "placed_at", opts)
	query, args = listSuffix(query, args, order, opts)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPosition(row scanner) (domain.Position, error) {
	var (
		p                  domain.Position
		addr, market, user string
		id, marketID       int64
		stake, payout, fee int64
		placed             int64
		claimedAt          sql.NullInt64
	)
	err := row.Scan(
		&addr, &id, &marketID, &market, &user, &p.Outcome,
		&stake, &p.Claimed, &payout, &fee, &placed, &claimedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}

	p.Address = common.HexToAddress(addr)
	p.ID = uint64(id)
	p.MarketID = uint64(marketID)
	p.Market = common.HexToAddress(market)
	p.User = common.HexToAddress(user)
	p.PlacedAt = fromTS(placed)
	p.ClaimedAt = fromTSPtr(claimedAt)
	if p.Amount, err = fromInt(stake); err != nil {
		return domain.Position{}, err
	}
	if p.Payout, err = fromInt(payout); err != nil {
		return domain.Position{}, err
	}
	if p.Fee, err = fromInt(fee); err != nil {
		return domain.Position{}, err
	}
	return p, nil
}
