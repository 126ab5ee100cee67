package ledger

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polywager/internal/amount"
	"github.com/alanyoungcy/polywager/internal/crypto"
	"github.com/alanyoungcy/polywager/internal/domain"
)

// MarketParams are the inputs of CreateMarket.
type MarketParams struct {
	TokenMint common.Address
	Question  string
	Outcomes  []string
	EndTime   time.Time
}

func (mp MarketParams) validate(now time.Time) error {
	if n := len(mp.Outcomes); n < domain.MinOutcomes || n > domain.MaxOutcomes {
		return fmt.Errorf("%d outcomes, want %d-%d: %w", n, domain.MinOutcomes, domain.MaxOutcomes, domain.ErrInvalidOutcomeCount)
	}
	q := strings.TrimSpace(mp.Question)
	if q == "" || utf8.RuneCountInString(q) > domain.MaxQuestionLen {
		return fmt.Errorf("question must be 1-%d characters: %w", domain.MaxQuestionLen, domain.ErrInvalidQuestion)
	}
	seen := make(map[string]bool, len(mp.Outcomes))
	for i, label := range mp.Outcomes {
		label = strings.TrimSpace(label)
		if label == "" || utf8.RuneCountInString(label) > domain.MaxOutcomeLen {
			return fmt.Errorf("outcome %d must be 1-%d characters: %w", i, domain.MaxOutcomeLen, domain.ErrInvalidOutcome)
		}
		if seen[label] {
			return fmt.Errorf("outcome %q is duplicated: %w", label, domain.ErrInvalidOutcome)
		}
		seen[label] = true
	}
	if mp.TokenMint == (common.Address{}) {
		return fmt.Errorf("empty token mint: %w", domain.ErrInvalidInput)
	}
	if !mp.EndTime.After(now) {
		return fmt.Errorf("end time %s is not after %s: %w", mp.EndTime.Format(time.RFC3339), now.Format(time.RFC3339), domain.ErrInvalidEndTime)
	}
	return nil
}

// CreateMarket allocates the next market id from p and returns the new
// market. p.MarketCount is incremented only on success.
func CreateMarket(p *domain.Protocol, caller common.Address, params MarketParams, now time.Time) (domain.Market, error) {
	if err := params.validate(now); err != nil {
		return domain.Market{}, fmt.Errorf("ledger: create market: %w", err)
	}
	if p.MarketCount == math.MaxUint64 {
		return domain.Market{}, fmt.Errorf("ledger: create market: market counter: %w", domain.ErrArithmeticOverflow)
	}

	id := p.MarketCount
	outcomes := make([]string, len(params.Outcomes))
	for i, o := range params.Outcomes {
		outcomes[i] = strings.TrimSpace(o)
	}
	m := domain.Market{
		ID:           id,
		Address:      crypto.MarketAddress(id),
		Creator:      caller,
		TokenMint:    params.TokenMint,
		Question:     strings.TrimSpace(params.Question),
		Outcomes:     outcomes,
		EndTime:      params.EndTime.UTC(),
		OutcomePools: make([]amount.Amount, len(outcomes)),
		Fees:         p.Fees,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	p.MarketCount = id + 1
	p.UpdatedAt = now
	return m, nil
}

// PlaceBet records a stake of amt on outcome and returns the new position.
// The market's pool, volume, escrow and position counter are updated
// together. Betting closes at EndTime: a bet at exactly EndTime is rejected.
func PlaceBet(m *domain.Market, user common.Address, outcome int, amt amount.Amount, now time.Time) (domain.Position, error) {
	switch {
	case m.Resolved:
		return domain.Position{}, fmt.Errorf("ledger: place bet on market %d: %w", m.ID, domain.ErrMarketResolved)
	case m.Cancelled:
		return domain.Position{}, fmt.Errorf("ledger: place bet on market %d: %w", m.ID, domain.ErrMarketCancelled)
	case !now.Before(m.EndTime):
		return domain.Position{}, fmt.Errorf("ledger: place bet on market %d: %w", m.ID, domain.ErrMarketEnded)
	case !m.ValidOutcome(outcome):
		return domain.Position{}, fmt.Errorf("ledger: place bet on market %d: outcome %d: %w", m.ID, outcome, domain.ErrInvalidOutcome)
	case amt.IsZero():
		return domain.Position{}, fmt.Errorf("ledger: place bet on market %d: %w", m.ID, domain.ErrZeroAmount)
	case user == (common.Address{}):
		return domain.Position{}, fmt.Errorf("ledger: place bet on market %d: empty user: %w", m.ID, domain.ErrUnauthorized)
	}

	pool, err := m.OutcomePools[outcome].Add(amt)
	if err != nil {
		return domain.Position{}, fmt.Errorf("ledger: place bet on market %d: pool: %w", m.ID, err)
	}
	volume, err := m.TotalVolume.Add(amt)
	if err != nil {
		return domain.Position{}, fmt.Errorf("ledger: place bet on market %d: volume: %w", m.ID, err)
	}
	escrow, err := m.EscrowBalance.Add(amt)
	if err != nil {
		return domain.Position{}, fmt.Errorf("ledger: place bet on market %d: escrow: %w", m.ID, err)
	}
	if m.PositionCount == math.MaxUint64 {
		return domain.Position{}, fmt.Errorf("ledger: place bet on market %d: position counter: %w", m.ID, domain.ErrArithmeticOverflow)
	}

	id := m.PositionCount
	pos := domain.Position{
		Address:  crypto.PositionAddress(user, m.Address, id),
		ID:       id,
		MarketID: m.ID,
		Market:   m.Address,
		User:     user,
		Outcome:  outcome,
		Amount:   amt,
		PlacedAt: now,
	}

	m.OutcomePools[outcome] = pool
	m.TotalVolume = volume
	m.EscrowBalance = escrow
	m.PositionCount = id + 1
	m.UpdatedAt = now
	return pos, nil
}

// ResolveMarket fixes the winning outcome. Only the creator may resolve, and
// only once EndTime has been reached: resolving at exactly EndTime succeeds.
func ResolveMarket(m *domain.Market, caller common.Address, winning int, now time.Time) error {
	switch {
	case caller != m.Creator:
		return fmt.Errorf("ledger: resolve market %d: caller %s: %w", m.ID, caller.Hex(), domain.ErrUnauthorized)
	case m.Resolved:
		return fmt.Errorf("ledger: resolve market %d: %w", m.ID, domain.ErrAlreadyResolved)
	case m.Cancelled:
		return fmt.Errorf("ledger: resolve market %d: %w", m.ID, domain.ErrMarketCancelled)
	case now.Before(m.EndTime):
		return fmt.Errorf("ledger: resolve market %d: %w", m.ID, domain.ErrMarketNotEnded)
	case !m.ValidOutcome(winning):
		return fmt.Errorf("ledger: resolve market %d: outcome %d: %w", m.ID, winning, domain.ErrInvalidOutcome)
	}

	m.Resolved = true
	m.WinningOutcome = winning
	m.SettledAt = &now
	m.UpdatedAt = now
	return nil
}

// CancelMarket voids an open market before its end time. The creator or the
// protocol authority may cancel. Stakes are then returned through
// RefundPosition less the market's cancel fee.
func CancelMarket(p domain.Protocol, m *domain.Market, caller common.Address, now time.Time) error {
	switch {
	case caller != m.Creator && caller != p.Authority:
		return fmt.Errorf("ledger: cancel market %d: caller %s: %w", m.ID, caller.Hex(), domain.ErrUnauthorized)
	case m.Resolved:
		return fmt.Errorf("ledger: cancel market %d: %w", m.ID, domain.ErrMarketResolved)
	case m.Cancelled:
		return fmt.Errorf("ledger: cancel market %d: %w", m.ID, domain.ErrMarketCancelled)
	case !now.Before(m.EndTime):
		return fmt.Errorf("ledger: cancel market %d: %w", m.ID, domain.ErrMarketEnded)
	}

	m.Cancelled = true
	m.SettledAt = &now
	m.UpdatedAt = now
	return nil
}
