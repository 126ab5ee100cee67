package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polywager/internal/domain"
)

// Relay forwards committed ledger events from the bus to a Notifier.
type Relay struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewRelay creates a Relay.
func NewRelay(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Relay {
	return &Relay{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_relay")),
	}
}

// Run subscribes to the ledger channel and notifies until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ch, err := r.bus.Subscribe(ctx, domain.EventsChannel)
	if err != nil {
		return fmt.Errorf("notify: subscribe: %w", err)
	}
	r.logger.InfoContext(ctx, "notify relay started",
		slog.Int("senders", len(r.notifier.senders)),
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, payload)
		}
	}
}

func (r *Relay) handle(ctx context.Context, payload []byte) {
	var evt domain.LedgerEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		r.logger.WarnContext(ctx, "undecodable ledger event",
			slog.String("error", err.Error()),
		)
		return
	}
	if !r.notifier.Allows(string(evt.Type)) {
		return
	}
	title, message := Format(evt)
	// Failures are logged and counted by the notifier.
	_ = r.notifier.Notify(ctx, string(evt.Type), title, message)
}

// Format renders an event as a notification title and body.
func Format(evt domain.LedgerEvent) (string, string) {
	market := ""
	if evt.MarketID != nil {
		market = fmt.Sprintf("#%d", *evt.MarketID)
	}
	var b strings.Builder
	line := func(format string, args ...any) {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, format, args...)
	}
	if evt.Question != "" {
		line("%s", evt.Question)
	}

	var title string
	switch evt.Type {
	case domain.EventProtocolInitialized:
		title = "Protocol initialized"
		feeLine(line, evt.Fees)
		line("authority %s", evt.Actor.Hex())
	case domain.EventFeesUpdated:
		title = "Fees updated"
		feeLine(line, evt.Fees)
	case domain.EventFundsDeposited:
		title = "Funds deposited"
		line("%s credited to %s", evt.Amount, addr(evt.User))
	case domain.EventMarketCreated:
		title = "Market " + market + " created"
		line("creator %s", evt.Actor.Hex())
	case domain.EventBetPlaced:
		title = "Bet on market " + market
		line("%s staked %s on outcome %d", addr(evt.User), evt.Amount, deref(evt.Outcome))
	case domain.EventMarketResolved:
		title = "Market " + market + " resolved"
		line("winning outcome %d with pool %s", deref(evt.Outcome), evt.Amount)
	case domain.EventMarketCancelled:
		title = "Market " + market + " cancelled"
		line("escrow awaiting refund %s", evt.Amount)
	case domain.EventWinningsClaimed:
		title = "Winnings claimed on market " + market
		line("%s received %s (fee %s)", addr(evt.User), evt.Payout, evt.Fee)
	case domain.EventPositionRefunded:
		title = "Refund on market " + market
		line("%s refunded %s (fee %s)", addr(evt.User), evt.Payout, evt.Fee)
	default:
		title = string(evt.Type)
	}
	return title, b.String()
}

func feeLine(line func(string, ...any), f *domain.FeeSchedule) {
	if f != nil {
		line("protocol fee %d bps, cancel fee %d bps, amm fee %d bps", f.ProtocolFeeBps, f.CancelFeeBps, f.AmmFee)
	}
}

func addr(a *common.Address) string {
	if a == nil {
		return "unknown"
	}
	return a.Hex()
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
