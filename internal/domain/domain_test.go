package domain_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polywager/internal/amount"
	"github.com/alanyoungcy/polywager/internal/domain"
)

func TestFeeScheduleValidate(t *testing.T) {
	assert.NoError(t, domain.FeeSchedule{ProtocolFeeBps: 500, CancelFeeBps: 100}.Validate(domain.MaxBps))
	assert.NoError(t, domain.FeeSchedule{ProtocolFeeBps: 10_000}.Validate(domain.MaxBps))

	assert.ErrorIs(t, domain.FeeSchedule{ProtocolFeeBps: 10_001}.Validate(domain.MaxBps), domain.ErrInvalidFee)
	assert.ErrorIs(t, domain.FeeSchedule{CancelFeeBps: 10_001}.Validate(domain.MaxBps), domain.ErrInvalidFee)
	assert.ErrorIs(t, domain.FeeSchedule{ProtocolFeeBps: 300}.Validate(250), domain.ErrInvalidFee)
	assert.ErrorIs(t, domain.FeeSchedule{ProtocolFeeBps: 9_000, AmmFee: 2_000}.Validate(domain.MaxBps), domain.ErrInvalidFee)
	// A ceiling above the hard limit is clamped.
	assert.ErrorIs(t, domain.FeeSchedule{AmmFee: 10_500}.Validate(20_000), domain.ErrInvalidFee)
}

func TestMarketPools(t *testing.T) {
	m := domain.Market{
		ID:           3,
		Outcomes:     []string{"A", "B", "C"},
		OutcomePools: []amount.Amount{50, 30, 20},
		TotalVolume:  100,
	}
	_, err := m.WinningPool()
	assert.ErrorIs(t, err, domain.ErrMarketNotResolved)

	m.Resolved = true
	m.WinningOutcome = 1
	w, err := m.WinningPool()
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(30), w)

	l, err := m.LosingPool()
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(70), l)
	assert.Equal(t, domain.MarketStatusResolved, m.Status())
}

func TestMarketClone(t *testing.T) {
	m := domain.Market{Outcomes: []string{"A", "B"}, OutcomePools: []amount.Amount{1, 2}}
	c := m.Clone()
	c.OutcomePools[0] = 99
	c.Outcomes[0] = "Z"
	assert.Equal(t, amount.Amount(1), m.OutcomePools[0])
	assert.Equal(t, "A", m.Outcomes[0])
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "MarketEnded", domain.ErrorCode(fmt.Errorf("wrapped: %w", domain.ErrMarketEnded)))
	assert.Equal(t, "ArithmeticOverflow", domain.ErrorCode(fmt.Errorf("x: %w", amount.ErrOverflow)))
	assert.Equal(t, "Internal", domain.ErrorCode(fmt.Errorf("boom")))
}
