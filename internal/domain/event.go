package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polywager/internal/amount"
)

// Bus channel and stream that carry ledger events.
const (
	EventsChannel = "ledger"
	EventsStream  = "ledger:events"
)

// EventType names a committed ledger mutation.
type EventType string

const (
	EventProtocolInitialized EventType = "ProtocolInitialized"
	EventFeesUpdated         EventType = "FeesUpdated"
	EventFundsDeposited      EventType = "FundsDeposited"
	EventMarketCreated       EventType = "MarketCreated"
	EventBetPlaced           EventType = "BetPlaced"
	EventMarketResolved      EventType = "MarketResolved"
	EventMarketCancelled     EventType = "MarketCancelled"
	EventWinningsClaimed     EventType = "WinningsClaimed"
	EventPositionRefunded    EventType = "PositionRefunded"
)

// LedgerEvent is emitted once per committed mutation. Fields that do not
// apply to the event type are left empty.
type LedgerEvent struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	Actor      common.Address  `json:"actor"`
	MarketID   *uint64         `json:"market_id,omitempty"`
	Position   *common.Address `json:"position,omitempty"`
	User       *common.Address `json:"user,omitempty"`
	Mint       *common.Address `json:"mint,omitempty"`
	Outcome    *int            `json:"outcome,omitempty"`
	Amount     amount.Amount   `json:"amount"`
	Fee        amount.Amount   `json:"fee"`
	Payout     amount.Amount   `json:"payout"`
	Fees       *FeeSchedule    `json:"fees,omitempty"`
	Question   string          `json:"question,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}
