package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polywager/internal/amount"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ProtocolStore persists the protocol singleton.
type ProtocolStore interface {
	// Create fails with ErrAlreadyExists when the singleton exists.
	Create(ctx context.Context, p Protocol) error
	Update(ctx context.Context, p Protocol) error
	// Get reads the singleton without locking it.
	Get(ctx context.Context) (Protocol, error)
	// GetForUpdate reads the singleton and, inside a transaction, locks it
	// until the transaction ends. Only operations that rewrite the protocol
	// use it.
	GetForUpdate(ctx context.Context) (Protocol, error)
}

// MarketStore persists markets. Reads made through a transaction lock the
// returned row until the transaction ends.
type MarketStore interface {
	Create(ctx context.Context, m Market) error
	Update(ctx context.Context, m Market) error
	GetByID(ctx context.Context, id uint64) (Market, error)
	// List returns markets in the given status, or all when status is empty.
	List(ctx context.Context, status MarketStatus, opts ListOpts) ([]Market, error)
	// ListFromID returns markets with id >= fromID in ascending id order.
	ListFromID(ctx context.Context, fromID uint64, limit int) ([]Market, error)
	Count(ctx context.Context, status MarketStatus) (int64, error)
	// ListSettledBefore returns terminal, unarchived markets settled before
	// t with no claims or refunds still owed.
	ListSettledBefore(ctx context.Context, t time.Time, limit int) ([]Market, error)
	MarkArchived(ctx context.Context, ids []uint64) error
}

// PositionStore persists positions.
type PositionStore interface {
	Create(ctx context.Context, p Position) error
	Update(ctx context.Context, p Position) error
	GetByAddress(ctx context.Context, addr common.Address) (Position, error)
	ListByMarket(ctx context.Context, marketID uint64, opts ListOpts) ([]Position, error)
	ListByUser(ctx context.Context, user common.Address, opts ListOpts) ([]Position, error)
}

// AccountStore is the custody ledger that backs the transfer primitive.
type AccountStore interface {
	Balance(ctx context.Context, owner, mint common.Address) (amount.Amount, error)
	// Transfer debits From and credits To. It fails with
	// ErrInsufficientFunds without moving anything when From cannot cover
	// the amount.
	Transfer(ctx context.Context, t Transfer) error
	ListTransfers(ctx context.Context, owner common.Address, opts ListOpts) ([]Transfer, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// Stores groups the ledger record stores. Within a transaction every store
// shares the same transaction.
type Stores interface {
	Protocols() ProtocolStore
	Markets() MarketStore
	Positions() PositionStore
	Accounts() AccountStore
	Audit() AuditStore
}

// Ledger is a Stores whose mutations can be grouped atomically. If fn
// returns an error nothing it wrote is persisted.
type Ledger interface {
	Stores
	InTx(ctx context.Context, fn func(tx Stores) error) error
}
