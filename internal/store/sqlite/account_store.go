package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/polywager/internal/amount"
	"github.com/alanyoungcy/polywager/internal/domain"
)

// AccountStore implements domain.AccountStore using SQLite.
type AccountStore struct {
	db DBTX
}

var _ domain.AccountStore = (*AccountStore)(nil)

// Balance returns the custody balance, zero for unknown accounts.
func (s *AccountStore) Balance(ctx context.Context, owner, mint common.Address) (amount.Amount, error) {
	var v int64
	err := s.db.QueryRowContext(ctx,
		`SELECT amount FROM balances WHERE owner = ? AND mint = ?`, owner.Hex(), mint.Hex(),
	).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("sqlite: balance %s/%s: %w", owner.Hex(), mint.Hex(), err)
	}
	return fromInt(v)
}

// Transfer debits From (unless external), credits To and journals the
// movement. Outside a transaction it opens its own.
func (s *AccountStore) Transfer(ctx context.Context, t domain.Transfer) error {
	if t.Amount.IsZero() {
		return fmt.Errorf("sqlite: transfer %s: %w", t.Kind, domain.ErrZeroAmount)
	}
	if db, ok := s.db.(*sql.DB); ok {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("sqlite: begin transfer: %w", err)
		}
		if err := transfer(ctx, tx, t); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	}
	return transfer(ctx, s.db, t)
}

func transfer(ctx context.Context, db DBTX, t domain.Transfer) error {
	amt, err := toInt(t.Amount)
	if err != nil {
		return fmt.Errorf("sqlite: transfer %s: %w", t.Kind, err)
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
	at := ts(t.At)

	if !t.External() {
		res, err := db.ExecContext(ctx, `
			UPDATE balances SET amount = amount - ?, updated_at = ?
			WHERE owner = ? AND mint = ? AND amount >= ?`,
			amt, at, t.From.Hex(), t.Mint.Hex(), amt)
		if err != nil {
			return fmt.Errorf("sqlite: debit %s: %w", t.From.Hex(), err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("sqlite: debit %s %s: %w", t.From.Hex(), t.Amount, domain.ErrInsufficientFunds)
		}
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO balances (owner, mint, amount, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (owner, mint) DO UPDATE SET
			amount     = balances.amount + excluded.amount,
			updated_at = excluded.updated_at`,
		t.To.Hex(), t.Mint.Hex(), amt, at); err != nil {
		return fmt.Errorf("sqlite: credit %s: %w", t.To.Hex(), err)
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO transfers (id, kind, from_addr, to_addr, mint, amount, market_id, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(t.Kind), t.From.Hex(), t.To.Hex(), t.Mint.Hex(), amt, marketID, at); err != nil {
		return fmt.Errorf("sqlite: journal transfer %s: %w", id, err)
	}
	return nil
}

// ListTransfers returns movements into or out of owner, newest first.
func (s *AccountStore) ListTransfers(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.Transfer, error) {
	query, args := timeFilter(`SELECT id, kind, from_addr, to_addr, mint, amount, market_id, at
		FROM transfers WHERE (from_addr = ? OR to_addr = ?)`,
		[]any{owner.Hex(), owner.Hex()}, "at", opts)
	query, args = listSuffix(query, args, "at DESC, id ASC", opts)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list transfers for %s: %w", owner.Hex(), err)
	}
	defer rows.Close()

	var out []domain.Transfer
	for rows.Next() {
		var (
			t                  domain.Transfer
			kind, from, to, mt string
			amt, at            int64
			marketID           sql.NullInt64
		)
		if err := rows.Scan(&t.ID, &kind, &from, &to, &mt, &amt, &marketID, &at); err != nil {
			return nil, fmt.Errorf("sqlite: scan transfer: %w", err)
		}
		t.Kind = domain.TransferKind(kind)
		t.From = common.HexToAddress(from)
		t.To = common.HexToAddress(to)
		t.Mint = common.HexToAddress(mt)
		t.At = fromTS(at)
		if t.Amount, err = fromInt(amt); err != nil {
			return nil, fmt.Errorf("sqlite: scan transfer: %w", err)
		}
		if marketID.Valid {
			v := uint64(marketID.Int64)
			t.MarketID = &v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
