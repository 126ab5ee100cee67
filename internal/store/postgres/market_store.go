package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/polywager/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	db   DBTX
	lock bool
}

var _ domain.MarketStore = (*MarketStore)(nil)

const marketCols = `id, address, creator, token_mint, question, outcomes, end_time,
	outcome_pools, total_volume, position_count, resolved, winning_outcome,
	cancelled, escrow_balance, protocol_fee_bps, cancel_fee_bps, amm_fee,
	archived, created_at, settled_at, updated_at`

// marketStatusClause maps a status to its WHERE predicate.
func marketStatusClause(status domain.MarketStatus) (string, error) {
	switch status {
	case "":
		return "TRUE", nil
	case domain.MarketStatusOpen:
		return "NOT resolved AND NOT cancelled", nil
	case domain.MarketStatusResolved:
		return "resolved", nil
	case domain.MarketStatusCancelled:
		return "cancelled", nil
	default:
		return "", fmt.Errorf("market status %q: %w", status, domain.ErrInvalidInput)
	}
}

// Create inserts a new market.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	pools, err := toBigints(m.OutcomePools)
	if err != nil {
		return fmt.Errorf("postgres: create market %d: %w", m.ID, err)
	}
	volume, err := toBigint(m.TotalVolume)
	if err != nil {
		return fmt.Errorf("postgres: create market %d: %w", m.ID, err)
	}
	escrow, err := toBigint(m.EscrowBalance)
	if err != nil {
		return fmt.Errorf("postgres: create market %d: %w", m.ID, err)
	}

	const query = `
		INSERT INTO markets (` + marketCols + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21
		)`

	_, err = s.db.Exec(ctx, query,
		int64(m.ID), hexAddr(m.Address), hexAddr(m.Creator), hexAddr(m.TokenMint),
		m.Question, m.Outcomes, m.EndTime,
		pools, volume, int64(m.PositionCount), m.Resolved, int32(m.WinningOutcome),
		m.Cancelled, escrow,
		int32(m.Fees.ProtocolFeeBps), int32(m.Fees.CancelFeeBps), int32(m.Fees.AmmFee),
		m.Archived, m.CreatedAt, m.SettledAt, m.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create market %d: %w", m.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create market %d: %w", m.ID, err)
	}
	return nil
}

// Update writes the mutable market state. Identity, question, outcomes and
// the fee snapshot are fixed at creation.
func (s *MarketStore) Update(ctx context.Context, m domain.Market) error {
	pools, err := toBigints(m.OutcomePools)
	if err != nil {
		return fmt.Errorf("postgres: update market %d: %w", m.ID, err)
	}
	volume, err := toBigint(m.TotalVolume)
	if err != nil {
		return fmt.Errorf("postgres: update market %d: %w", m.ID, err)
	}
	escrow, err := toBigint(m.EscrowBalance)
	if err != nil {
		return fmt.Errorf("postgres: update market %d: %w", m.ID, err)
	}

	const query = `
		UPDATE markets SET
			outcome_pools = $2, total_volume = $3, position_count = $4,
			resolved = $5, winning_outcome = $6, cancelled = $7,
			escrow_balance = $8, archived = $9, settled_at = $10, updated_at = $11
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query,
		int64(m.ID), pools, volume, int64(m.PositionCount),
		m.Resolved, int32(m.WinningOutcome), m.Cancelled,
		escrow, m.Archived, m.SettledAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %d: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update market %d: %w", m.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID retrieves a market by its sequential id.
func (s *MarketStore) GetByID(ctx context.Context, id uint64) (domain.Market, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`+forUpdate(s.lock), int64(id))
	m, err := scanMarketRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, domain.ErrNotFound)
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	return m, nil
}

// List returns markets newest first, filtered by status and creation time.
func (s *MarketStore) List(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	clause, err := marketStatusClause(status)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}

	query := `SELECT ` + marketCols + ` FROM markets WHERE ` + clause
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query, args = listSuffix(query, args, argIdx, "id DESC", opts)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	return scanMarketRows(rows)
}

// ListFromID returns up to limit markets with id >= fromID in id order.
func (s *MarketStore) ListFromID(ctx context.Context, fromID uint64, limit int) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE id >= $1 ORDER BY id ASC`
	args := []any{int64(fromID)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets from %d: %w", fromID, err)
	}
	return scanMarketRows(rows)
}

// Count returns the number of markets in the given status.
func (s *MarketStore) Count(ctx context.Context, status domain.MarketStatus) (int64, error) {
	clause, err := marketStatusClause(status)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM markets WHERE `+clause).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return n, nil
}

// pendingPayouts matches a market that still owes an unclaimed position a
// claim or a refund.
const pendingPayouts = `EXISTS (
		SELECT 1 FROM positions p
		WHERE p.market_id = markets.id AND NOT p.claimed
			AND (markets.cancelled OR p.outcome = markets.winning_outcome
				OR NOT EXISTS (SELECT 1 FROM positions w
					WHERE w.market_id = markets.id AND w.outcome = markets.winning_outcome)))`

// ListSettledBefore returns terminal markets not yet archived whose
// settlement happened before t, oldest first. Markets with payouts still
// owed are left out.
func (s *MarketStore) ListSettledBefore(ctx context.Context, t time.Time, limit int) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets
		WHERE (resolved OR cancelled) AND NOT archived AND settled_at < $1
			AND NOT ` + pendingPayouts + `
		ORDER BY settled_at ASC, id ASC`
	args := []any{t}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled markets: %w", err)
	}
	return scanMarketRows(rows)
}

// MarkArchived flags the given markets as exported to cold storage.
func (s *MarketStore) MarkArchived(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]int64, len(ids))
	for i, id := range ids {
		keys[i] = int64(id)
	}
	if _, err := s.db.Exec(ctx, `UPDATE markets SET archived = TRUE WHERE id = ANY($1)`, keys); err != nil {
		return fmt.Errorf("postgres: mark %d markets archived: %w", len(ids), err)
	}
	return nil
}

func scanMarketRow(row pgx.Row) (domain.Market, error) {
	var (
		m                           domain.Market
		id, count, volume, escrow   int64
		addr, creator, mint         string
		pools                       []int64
		winning                     int32
		protoFee, cancelFee, ammFee int32
	)
	err := row.Scan(
		&id, &addr, &creator, &mint, &m.Question, &m.Outcomes, &m.EndTime,
		&pools, &volume, &count, &m.Resolved, &winning,
		&m.Cancelled, &escrow, &protoFee, &cancelFee, &ammFee,
		&m.Archived, &m.CreatedAt, &m.SettledAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}

	m.ID = uint64(id)
	m.Address = common.HexToAddress(addr)
	m.Creator = common.HexToAddress(creator)
	m.TokenMint = common.HexToAddress(mint)
	m.PositionCount = uint64(count)
	m.WinningOutcome = int(winning)
	m.Fees = domain.FeeSchedule{
		ProtocolFeeBps: uint16(protoFee),
		CancelFeeBps:   uint16(cancelFee),
		AmmFee:         uint16(ammFee),
	}
	if m.OutcomePools, err = fromBigints(pools); err != nil {
		return domain.Market{}, err
	}
	if m.TotalVolume, err = fromBigint(volume); err != nil {
		return domain.Market{}, err
	}
	if m.EscrowBalance, err = fromBigint(escrow); err != nil {
		return domain.Market{}, err
	}
	return m, nil
}

func scanMarketRows(rows pgx.Rows) ([]domain.Market, error) {
	defer rows.Close()
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarketRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market row: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate market rows: %w", err)
	}
	return markets, nil
}
