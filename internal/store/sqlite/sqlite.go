// Package sqlite implements the ledger stores on an embedded SQLite database
// (pure Go driver, no cgo). It backs single-node deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/alanyoungcy/polywager/internal/amount"
	"github.com/alanyoungcy/polywager/internal/domain"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS protocol (
    singleton        INTEGER PRIMARY KEY CHECK (singleton = 1),
    address          TEXT    NOT NULL,
    authority        TEXT    NOT NULL,
    protocol_fee_bps INTEGER NOT NULL,
    cancel_fee_bps   INTEGER NOT NULL,
    amm_fee          INTEGER NOT NULL,
    fee_recipient    TEXT    NOT NULL,
    dev_recipient    TEXT    NOT NULL,
    market_count     INTEGER NOT NULL,
    created_at       INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS markets (
    id               INTEGER PRIMARY KEY,
    address          TEXT    NOT NULL UNIQUE,
    creator          TEXT    NOT NULL,
    token_mint       TEXT    NOT NULL,
    question         TEXT    NOT NULL,
    outcomes         TEXT    NOT NULL,
    end_time         INTEGER NOT NULL,
    outcome_pools    TEXT    NOT NULL,
    total_volume     INTEGER NOT NULL CHECK (total_volume >= 0),
    position_count   INTEGER NOT NULL,
    resolved         INTEGER NOT NULL DEFAULT 0,
    winning_outcome  INTEGER NOT NULL DEFAULT 0,
    cancelled        INTEGER NOT NULL DEFAULT 0,
    escrow_balance   INTEGER NOT NULL CHECK (escrow_balance >= 0),
    protocol_fee_bps INTEGER NOT NULL,
    cancel_fee_bps   INTEGER NOT NULL,
    amm_fee          INTEGER NOT NULL,
    archived         INTEGER NOT NULL DEFAULT 0,
    created_at       INTEGER NOT NULL,
    settled_at       INTEGER,
    updated_at       INTEGER NOT NULL,
    CHECK (NOT (resolved AND cancelled))
);

CREATE INDEX IF NOT EXISTS idx_markets_settled ON markets(settled_at);

CREATE TABLE IF NOT EXISTS positions (
    address    TEXT PRIMARY KEY,
    id         INTEGER NOT NULL,
    market_id  INTEGER NOT NULL REFERENCES markets(id),
    market     TEXT    NOT NULL,
    user_addr  TEXT    NOT NULL,
    outcome    INTEGER NOT NULL,
    amount     INTEGER NOT NULL CHECK (amount > 0),
    claimed    INTEGER NOT NULL DEFAULT 0,
    payout     INTEGER NOT NULL DEFAULT 0,
    fee        INTEGER NOT NULL DEFAULT 0,
    placed_at  INTEGER NOT NULL,
    claimed_at INTEGER,
    UNIQUE (market_id, id)
);

CREATE INDEX IF NOT EXISTS idx_positions_user ON positions(user_addr, placed_at DESC);

CREATE TABLE IF NOT EXISTS balances (
    owner      TEXT    NOT NULL,
    mint       TEXT    NOT NULL,
    amount     INTEGER NOT NULL CHECK (amount >= 0),
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (owner, mint)
);

CREATE TABLE IF NOT EXISTS transfers (
    id        TEXT PRIMARY KEY,
    kind      TEXT    NOT NULL,
    from_addr TEXT    NOT NULL,
    to_addr   TEXT    NOT NULL,
    mint      TEXT    NOT NULL,
    amount    INTEGER NOT NULL CHECK (amount > 0),
    market_id INTEGER,
    at        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transfers_from ON transfers(from_addr, at DESC);
CREATE INDEX IF NOT EXISTS idx_transfers_to   ON transfers(to_addr, at DESC);

CREATE TABLE IF NOT EXISTS audit_log (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    event      TEXT    NOT NULL,
    detail     TEXT,
    created_at INTEGER NOT NULL
);
`

// DBTX is the query surface shared by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Ledger implements domain.Ledger on SQLite. The pool holds a single
// connection, so a transaction excludes every other reader and writer
// until it ends.
type Ledger struct {
	db *sql.DB
	stores
}

var _ domain.Ledger = (*Ledger)(nil)

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string, busyTimeout time.Duration) (*Ledger, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory for %q: %w", path, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout.Milliseconds()),
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Ledger{db: db, stores: newStores(db)}, nil
}

// Ping checks that the database is reachable.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// InTx runs fn inside a single transaction, committing only when fn
// returns nil.
func (l *Ledger) InTx(ctx context.Context, fn func(tx domain.Stores) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	if err := fn(newStores(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

type stores struct {
	protocols *ProtocolStore
	markets   *MarketStore
	positions *PositionStore
	accounts  *AccountStore
	audit     *AuditStore
}

func newStores(db DBTX) stores {
	return stores{
		protocols: &ProtocolStore{db: db},
		markets:   &MarketStore{db: db},
		positions: &PositionStore{db: db},
		accounts:  &AccountStore{db: db},
		audit:     &AuditStore{db: db},
	}
}

func (s stores) Protocols() domain.ProtocolStore { return s.protocols }
func (s stores) Markets() domain.MarketStore     { return s.markets }
func (s stores) Positions() domain.PositionStore { return s.positions }
func (s stores) Accounts() domain.AccountStore   { return s.accounts }
func (s stores) Audit() domain.AuditStore        { return s.audit }

// Timestamps are stored as Unix nanoseconds.
func ts(t time.Time) int64 { return t.UTC().UnixNano() }

func fromTS(n int64) time.Time { return time.Unix(0, n).UTC() }

func tsPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	n := ts(*t)
	return &n
}

func fromTSPtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromTS(n.Int64)
	return &t
}

func toInt(a amount.Amount) (int64, error) {
	if uint64(a) > math.MaxInt64 {
		return 0, fmt.Errorf("amount %d exceeds storage range: %w", uint64(a), domain.ErrArithmeticOverflow)
	}
	return int64(a), nil
}

func fromInt(v int64) (amount.Amount, error) {
	if v < 0 {
		return 0, fmt.Errorf("negative stored amount %d: %w", v, domain.ErrArithmeticUnderflow)
	}
	return amount.Amount(v), nil
}

func listSuffix(query string, args []any, order string, opts domain.ListOpts) (string, []any) {
	query += " ORDER BY " + order
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, opts.Offset)
	}
	return query, args
}

func timeFilter(query string, args []any, col string, opts domain.ListOpts) (string, []any) {
	if opts.Since != nil {
		query += " AND " + col + " >= ?"
		args = append(args, ts(*opts.Since))
	}
	if opts.Until != nil {
		query += " AND " + col + " <= ?"
		args = append(args, ts(*opts.Until))
	}
	return query, args
}
