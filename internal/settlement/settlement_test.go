package settlement_test

import (
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polywager/internal/amount"
	"github.com/alanyoungcy/polywager/internal/domain"
	"github.com/alanyoungcy/polywager/internal/settlement"
)

func TestComputeClaimEvenMarket(t *testing.T) {
	c, err := settlement.ComputeClaim(100, 100, 100, domain.FeeSchedule{ProtocolFeeBps: 500})
	require.NoError(t, err)

	assert.Equal(t, amount.Amount(100), c.Gross)
	assert.Equal(t, amount.Amount(5), c.ProtocolFee)
	assert.Equal(t, amount.Amount(0), c.AmmFee)
	assert.Equal(t, amount.Amount(195), c.Net)
	assert.Equal(t, amount.Amount(200), c.EscrowDebit)
}

func TestComputeClaimProportionalShare(t *testing.T) {
	// Winning pool 300 (stakes 100 + 200), losing pool 150.
	a, err := settlement.ComputeClaim(300, 150, 100, domain.FeeSchedule{})
	require.NoError(t, err)
	b, err := settlement.ComputeClaim(300, 150, 200, domain.FeeSchedule{})
	require.NoError(t, err)

	assert.Equal(t, amount.Amount(50), a.Gross)
	assert.Equal(t, amount.Amount(100), b.Gross)
	assert.Equal(t, amount.Amount(450), a.EscrowDebit+b.EscrowDebit)
}

func TestComputeClaimRoundsDown(t *testing.T) {
	// 100 * 1 / 3 = 33.33..
	c, err := settlement.ComputeClaim(3, 100, 1, domain.FeeSchedule{ProtocolFeeBps: 300})
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(33), c.Gross)
	// 33 * 3% = 0.99 -> 0
	assert.Equal(t, amount.Amount(0), c.ProtocolFee)
	assert.Equal(t, amount.Amount(34), c.Net)
}

func TestComputeClaimAmmFeeFirst(t *testing.T) {
	c, err := settlement.ComputeClaim(1_000, 1_000, 1_000, domain.FeeSchedule{ProtocolFeeBps: 1_000, AmmFee: 100})
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(1_000), c.Gross)
	assert.Equal(t, amount.Amount(10), c.AmmFee)
	assert.Equal(t, amount.Amount(99), c.ProtocolFee)
	assert.Equal(t, amount.Amount(109), c.Fee)
	assert.Equal(t, amount.Amount(1_891), c.Net)
	assert.Equal(t, c.EscrowDebit, c.Net+c.Fee)
}

func TestComputeClaimNoWinningStakes(t *testing.T) {
	_, err := settlement.ComputeClaim(0, 100, 0, domain.FeeSchedule{})
	assert.ErrorIs(t, err, domain.ErrNoWinningStakes)
}

func TestComputeClaimOverflow(t *testing.T) {
	_, err := settlement.ComputeClaim(math.MaxUint64, math.MaxUint64, math.MaxUint64, domain.FeeSchedule{})
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)
}

func TestComputeRefund(t *testing.T) {
	r, err := settlement.ComputeRefund(1_000, 150)
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(15), r.Fee)
	assert.Equal(t, amount.Amount(985), r.Net)

	r, err = settlement.ComputeRefund(1_000, 0)
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(1_000), r.Net)
}

func TestSplitFee(t *testing.T) {
	assert.Equal(t, settlement.FeeSplit{Recipient: 2, Dev: 3}, settlement.SplitFee(5, true))
	assert.Equal(t, settlement.FeeSplit{Recipient: 5}, settlement.SplitFee(5, false))
	assert.Equal(t, settlement.FeeSplit{}, settlement.SplitFee(0, true))
}

func testMarket() domain.Market {
	return domain.Market{
		ID:           1,
		Outcomes:     []string{"yes", "no"},
		OutcomePools: []amount.Amount{100, 100},
		TotalVolume:  200,
		Fees:         domain.FeeSchedule{ProtocolFeeBps: 500},
	}
}

func testPositions() []domain.Position {
	return []domain.Position{
		{Address: common.HexToAddress("0x01"), MarketID: 1, Outcome: 0, Amount: 100},
		{Address: common.HexToAddress("0x02"), MarketID: 1, Outcome: 1, Amount: 100},
	}
}

func TestCheckConservationOpen(t *testing.T) {
	m := testMarket()
	m.EscrowBalance = 200

	rep, err := settlement.CheckConservation(m, testPositions())
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(200), rep.UnclaimedStake)
	assert.Equal(t, amount.Amount(0), rep.Surplus)

	m.EscrowBalance = 199
	_, err = settlement.CheckConservation(m, testPositions())
	assert.ErrorIs(t, err, domain.ErrConservation)
}

func TestCheckConservationResolved(t *testing.T) {
	m := testMarket()
	m.Resolved = true
	m.WinningOutcome = 0
	m.EscrowBalance = 200

	rep, err := settlement.CheckConservation(m, testPositions())
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(200), rep.Obligations)

	// After the winner claims, nothing is owed and escrow is empty.
	positions := testPositions()
	positions[0].Claimed = true
	m.EscrowBalance = 0
	rep, err = settlement.CheckConservation(m, positions)
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(0), rep.Obligations)
}

func TestCheckConservationVolumeMismatch(t *testing.T) {
	m := testMarket()
	m.TotalVolume = 250
	_, err := settlement.CheckConservation(m, testPositions())
	assert.ErrorIs(t, err, domain.ErrConservation)
}
