package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polywager/internal/amount"
	"github.com/alanyoungcy/polywager/internal/domain"
)

// DBTX is the query surface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Ledger implements domain.Ledger. Stores returned from InTx share one
// transaction and lock the market and position rows they read with
// SELECT ... FOR UPDATE. The protocol singleton is locked only through
// ProtocolStore.GetForUpdate.
type Ledger struct {
	pool *pgxpool.Pool
	stores
}

var _ domain.Ledger = (*Ledger)(nil)

// NewLedger creates a Ledger over pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool, stores: newStores(pool, false)}
}

// InTx runs fn inside a single transaction, committing only when fn
// returns nil.
func (l *Ledger) InTx(ctx context.Context, fn func(tx domain.Stores) error) error {
	return pgx.BeginTxFunc(ctx, l.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(newStores(tx, true))
	})
}

type stores struct {
	protocols *ProtocolStore
	markets   *MarketStore
	positions *PositionStore
	accounts  *AccountStore
	audit     *AuditStore
}

func newStores(db DBTX, lock bool) stores {
	return stores{
		protocols: &ProtocolStore{db: db, lock: lock},
		markets:   &MarketStore{db: db, lock: lock},
		positions: &PositionStore{db: db, lock: lock},
		accounts:  &AccountStore{db: db},
		audit:     &AuditStore{db: db},
	}
}

func (s stores) Protocols() domain.ProtocolStore { return s.protocols }
func (s stores) Markets() domain.MarketStore     { return s.markets }
func (s stores) Positions() domain.PositionStore { return s.positions }
func (s stores) Accounts() domain.AccountStore   { return s.accounts }
func (s stores) Audit() domain.AuditStore        { return s.audit }

func forUpdate(lock bool) string {
	if lock {
		return " FOR UPDATE"
	}
	return ""
}

// toBigint narrows an amount to the signed column type.
func toBigint(a amount.Amount) (int64, error) {
	if uint64(a) > math.MaxInt64 {
		return 0, fmt.Errorf("amount %d exceeds storage range: %w", uint64(a), domain.ErrArithmeticOverflow)
	}
	return int64(a), nil
}

func fromBigint(v int64) (amount.Amount, error) {
	if v < 0 {
		return 0, fmt.Errorf("negative stored amount %d: %w", v, domain.ErrArithmeticUnderflow)
	}
	return amount.Amount(v), nil
}

func toBigints(as []amount.Amount) ([]int64, error) {
	out := make([]int64, len(as))
	for i, a := range as {
		v, err := toBigint(a)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func fromBigints(vs []int64) ([]amount.Amount, error) {
	out := make([]amount.Amount, len(vs))
	for i, v := range vs {
		a, err := fromBigint(v)
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}

func hexAddr(a common.Address) string { return a.Hex() }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// listSuffix appends ORDER BY, LIMIT and OFFSET clauses starting at
// placeholder argIdx.
func listSuffix(query string, args []any, argIdx int, order string, opts domain.ListOpts) (string, []any) {
	query += " ORDER BY " + order
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}
