package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polywager/internal/amount"
	"github.com/alanyoungcy/polywager/internal/domain"
)

// MarketStore implements domain.MarketStore using SQLite. Outcomes and
// pools are stored as JSON arrays.
type MarketStore struct {
	db DBTX
}

var _ domain.MarketStore = (*MarketStore)(nil)

const marketCols = `id, address, creator, token_mint, question, outcomes, end_time,
	outcome_pools, total_volume, position_count, resolved, winning_outcome,
	cancelled, escrow_balance, protocol_fee_bps, cancel_fee_bps, amm_fee,
	archived, created_at, settled_at, updated_at`

func marketStatusClause(status domain.MarketStatus) (string, error) {
	switch status {
	case "":
		return "1=1", nil
	case domain.MarketStatusOpen:
		return "resolved = 0 AND cancelled = 0", nil
	case domain.MarketStatusResolved:
		return "resolved = 1", nil
	case domain.MarketStatusCancelled:
		return "cancelled = 1", nil
	default:
		return "", fmt.Errorf("market status %q: %w", status, domain.ErrInvalidInput)
	}
}

// marketRow holds the column values shared by Create and Update.
type marketRow struct {
	pools  string
	volume int64
	escrow int64
}

func encodeMarket(m domain.Market) (marketRow, error) {
	raw := make([]int64, len(m.OutcomePools))
	for i, p := range m.OutcomePools {
		v, err := toInt(p)
		if err != nil {
			return marketRow{}, err
		}
		raw[i] = v
	}
	pools, err := json.Marshal(raw)
	if err != nil {
		return marketRow{}, err
	}
	volume, err := toInt(m.TotalVolume)
	if err != nil {
		return marketRow{}, err
	}
	escrow, err := toInt(m.EscrowBalance)
	if err != nil {
		return marketRow{}, err
	}
	return marketRow{pools: string(pools), volume: volume, escrow: escrow}, nil
}

// Create inserts a new market.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	row, err := encodeMarket(m)
	if err != nil {
		return fmt.Errorf("sqlite: create market %d: %w", m.ID, err)
	}
	outcomes, err := json.Marshal(m.Outcomes)
	if err != nil {
		return fmt.Errorf("sqlite: create market %d: %w", m.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO markets (`+marketCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(m.ID), m.Address.Hex(), m.Creator.Hex(), m.TokenMint.Hex(),
		m.Question, string(outcomes), ts(m.EndTime),
		row.pools, row.volume, int64(m.PositionCount), m.Resolved, m.WinningOutcome,
		m.Cancelled, row.escrow,
		m.Fees.ProtocolFeeBps, m.Fees.CancelFeeBps, m.Fees.AmmFee,
		m.Archived, ts(m.CreatedAt), tsPtr(m.SettledAt), ts(m.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sqlite: create market %d: %w", m.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("sqlite: create market %d: %w", m.ID, err)
	}
	return nil
}

// Update writes the mutable market state.
func (s *MarketStore) Update(ctx context.Context, m domain.Market) error {
	row, err := encodeMarket(m)
	if err != nil {
		return fmt.Errorf("sqlite: update market %d: %w", m.ID, err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE markets SET
			outcome_pools = ?, total_volume = ?, position_count = ?,
			resolved = ?, winning_outcome = ?, cancelled = ?,
			escrow_balance = ?, archived = ?, settled_at = ?, updated_at = ?
		WHERE id = ?`,
		row.pools, row.volume, int64(m.PositionCount),
		m.Resolved, m.WinningOutcome, m.Cancelled,
		row.escrow, m.Archived, tsPtr(m.SettledAt), ts(m.UpdatedAt),
		int64(m.ID),
	)
	if err != nil {
		return fmt.Errorf("sqlite: update market %d: %w", m.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: update market %d: %w", m.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID retrieves a market by its sequential id.
func (s *MarketStore) GetByID(ctx context.Context, id uint64) (domain.Market, error) {
	m, err := scanMarket(s.db.QueryRowContext(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = ?`, int64(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Market{}, fmt.Errorf("sqlite: get market %d: %w", id, domain.ErrNotFound)
		}
		return domain.Market{}, fmt.Errorf("sqlite: get market %d: %w", id, err)
	}
	return m, nil
}

// List returns markets newest first.
func (s *MarketStore) List(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	clause, err := marketStatusClause(status)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list markets: %w", err)
	}
	query, args := timeFilter(`SELECT `+marketCols+` FROM markets WHERE `+clause, nil, "created_at", opts)
	query, args = listSuffix(query, args, "id DESC", opts)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list markets: %w", err)
	}
	return scanMarkets(rows)
}

// ListFromID returns up to limit markets with id >= fromID in id order.
func (s *MarketStore) ListFromID(ctx context.Context, fromID uint64, limit int) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE id >= ? ORDER BY id ASC`
	args := []any{int64(fromID)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list markets from %d: %w", fromID, err)
	}
	return scanMarkets(rows)
}

// Count returns the number of markets in the given status.
func (s *MarketStore) Count(ctx context.Context, status domain.MarketStatus) (int64, error) {
	clause, err := marketStatusClause(status)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count markets: %w", err)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM markets WHERE `+clause).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count markets: %w", err)
	}
	return n, nil
}

const pendingPayouts = `EXISTS (
		SELECT 1 FROM positions p
		WHERE p.market_id = markets.id AND p.claimed = 0
			AND (markets.cancelled = 1 OR p.outcome = markets.winning_outcome
				OR NOT EXISTS (SELECT 1 FROM positions w
					WHERE w.market_id = markets.id AND w.outcome = markets.winning_outcome)))`

// ListSettledBefore returns unarchived terminal markets settled before t
// that owe no further claims or refunds.
func (s *MarketStore) ListSettledBefore(ctx context.Context, t time.Time, limit int) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets
		WHERE (resolved = 1 OR cancelled = 1) AND archived = 0
			AND settled_at IS NOT NULL AND settled_at < ?
			AND NOT ` + pendingPayouts + `
		ORDER BY settled_at ASC, id ASC`
	args := []any{ts(t)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list settled markets: %w", err)
	}
	return scanMarkets(rows)
}

// MarkArchived flags the given markets as exported.
func (s *MarketStore) MarkArchived(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = int64(id)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE markets SET archived = 1 WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("sqlite: mark %d markets archived: %w", len(ids), err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMarket(row scanner) (domain.Market, error) {
	var (
		m                           domain.Market
		id, count, volume, escrow   int64
		endTime, created, updated   int64
		settled                     sql.NullInt64
		addr, creator, mint         string
		outcomes, pools             string
		protoFee, cancelFee, ammFee uint16
	)
	err := row.Scan(
		&id, &addr, &creator, &mint, &m.Question, &outcomes, &endTime,
		&pools, &volume, &count, &m.Resolved, &m.WinningOutcome,
		&m.Cancelled, &escrow, &protoFee, &cancelFee, &ammFee,
		&m.Archived, &created, &settled, &updated,
	)
	if err != nil {
		return domain.Market{}, err
	}

	if err := json.Unmarshal([]byte(outcomes), &m.Outcomes); err != nil {
		return domain.Market{}, fmt.Errorf("decode outcomes: %w", err)
	}
	var raw []int64
	if err := json.Unmarshal([]byte(pools), &raw); err != nil {
		return domain.Market{}, fmt.Errorf("decode pools: %w", err)
	}
	m.OutcomePools = make([]amount.Amount, len(raw))
	for i, v := range raw {
		if m.OutcomePools[i], err = fromInt(v); err != nil {
			return domain.Market{}, err
		}
	}
	if m.TotalVolume, err = fromInt(volume); err != nil {
		return domain.Market{}, err
	}
	if m.EscrowBalance, err = fromInt(escrow); err != nil {
		return domain.Market{}, err
	}

	m.ID = uint64(id)
	m.Address = common.HexToAddress(addr)
	m.Creator = common.HexToAddress(creator)
	m.TokenMint = common.HexToAddress(mint)
	m.EndTime = fromTS(endTime)
	m.PositionCount = uint64(count)
	m.Fees = domain.FeeSchedule{ProtocolFeeBps: protoFee, CancelFeeBps: cancelFee, AmmFee: ammFee}
	m.CreatedAt = fromTS(created)
	m.SettledAt = fromTSPtr(settled)
	m.UpdatedAt = fromTS(updated)
	return m, nil
}

func scanMarkets(rows *sql.Rows) ([]domain.Market, error) {
	defer rows.Close()
	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan market row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate market rows: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}
