package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/polywager/internal/amount"
	"github.com/alanyoungcy/polywager/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL. Balances
// live in one row per (owner, mint); every movement is journaled in
// transfers.
type AccountStore struct {
	db DBTX
}

var _ domain.AccountStore = (*AccountStore)(nil)

// Balance returns the custody balance, zero for unknown accounts.
func (s *AccountStore) Balance(ctx context.Context, owner, mint common.Address) (amount.Amount, error) {
	var v int64
	err := s.db.QueryRow(ctx,
		`SELECT amount FROM balances WHERE owner = $1 AND mint = $2`,
		hexAddr(owner), hexAddr(mint),
	).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: balance %s/%s: %w", owner.Hex(), mint.Hex(), err)
	}
	return fromBigint(v)
}

// Transfer debits From (unless external), credits To and journals the
// movement, all inside one savepoint so a failed debit leaves no trace.
func (s *AccountStore) Transfer(ctx context.Context, t domain.Transfer) error {
	if t.Amount.IsZero() {
		return fmt.Errorf("postgres: transfer %s: %w", t.Kind, domain.ErrZeroAmount)
	}
	amt, err := toBigint(t.Amount)
	if err != nil {
		return fmt.Errorf("postgres: transfer %s: %w", t.Kind, err)
	}
	id := t.ID
	if id == "" {
		id = uuid.NewString()
	}
	var marketID *int64
	if t.MarketID != nil {
		v := int64(*t.MarketID)
		marketID = &v
	}

	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if !t.External() {
			tag, err := tx.Exec(ctx, `
				UPDATE balances SET amount = amount - $3, updated_at = $4
				WHERE owner = $1 AND mint = $2 AND amount >= $3`,
				hexAddr(t.From), hexAddr(t.Mint), amt, t.At)
			if err != nil {
				return fmt.Errorf("postgres: debit %s: %w", t.From.Hex(), err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("postgres: debit %s %s: %w", t.From.Hex(), t.Amount, domain.ErrInsufficientFunds)
			}
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO balances (owner, mint, amount, updated_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT (owner, mint) DO UPDATE SET
				amount     = balances.amount + EXCLUDED.amount,
				updated_at = EXCLUDED.updated_at`,
			hexAddr(t.To), hexAddr(t.Mint), amt, t.At)
		if err != nil {
			return fmt.Errorf("postgres: credit %s: %w", t.To.Hex(), err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO transfers (id, kind, from_addr, to_addr, mint, amount, market_id, at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			id, string(t.Kind), hexAddr(t.From), hexAddr(t.To), hexAddr(t.Mint), amt, marketID, t.At)
		if err != nil {
			return fmt.Errorf("postgres: journal transfer %s: %w", id, err)
		}
		return nil
	})
}

// ListTransfers returns movements into or out of owner, newest first.
func (s *AccountStore) ListTransfers(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.Transfer, error) {
	query := `SELECT id, kind, from_addr, to_addr, mint, amount, market_id, at
		FROM transfers WHERE (from_addr = $1 OR to_addr = $1)`
	args := []any{hexAddr(owner)}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query, args = listSuffix(query, args, argIdx, "at DESC, id ASC", opts)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transfers for %s: %w", owner.Hex(), err)
	}
	defer rows.Close()

	var out []domain.Transfer
	for rows.Next() {
		var (
			t                  domain.Transfer
			kind, from, to, mt string
			amt                int64
			marketID           *int64
		)
		if err := rows.Scan(&t.ID, &kind, &from, &to, &mt, &amt, &marketID, &t.At); err != nil {
			return nil, fmt.Errorf("postgres: scan transfer: %w", err)
		}
		t.Kind = domain.TransferKind(kind)
		t.From = common.HexToAddress(from)
		t.To = common.HexToAddress(to)
		t.Mint = common.HexToAddress(mt)
		if t.Amount, err = fromBigint(amt); err != nil {
			return nil, fmt.Errorf("postgres: scan transfer: %w", err)
		}
		if marketID != nil {
			v := uint64(*marketID)
			t.MarketID = &v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
