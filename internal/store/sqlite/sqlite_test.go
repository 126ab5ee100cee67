package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polywager/internal/amount"
	"github.com/alanyoungcy/polywager/internal/crypto"
	"github.com/alanyoungcy/polywager/internal/domain"
)

var (
	authority = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	mint      = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	t0        = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func openTest(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), ":memory:", time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func testMarket(id uint64) domain.Market {
	return domain.Market{
		ID:           id,
		Address:      crypto.MarketAddress(id),
		Creator:      authority,
		TokenMint:    mint,
		Question:     "Will it rain?",
		Outcomes:     []string{"Yes", "No"},
		EndTime:      t0.Add(time.Hour),
		OutcomePools: []amount.Amount{0, 0},
		Fees:         domain.FeeSchedule{ProtocolFeeBps: 500, CancelFeeBps: 100},
		CreatedAt:    t0,
		UpdatedAt:    t0,
	}
}

func TestProtocolSingleton(t *testing.T) {
	ctx := context.Background()
	l := openTest(t)

	_, err := l.Protocols().Get(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	p := domain.Protocol{
		Address:      crypto.ProtocolAddress(),
		Authority:    authority,
		Fees:         domain.FeeSchedule{ProtocolFeeBps: 250, CancelFeeBps: 50, AmmFee: 30},
		FeeRecipient: alice,
		CreatedAt:    t0,
		UpdatedAt:    t0,
	}
	require.NoError(t, l.Protocols().Create(ctx, p))
	assert.ErrorIs(t, l.Protocols().Create(ctx, p), domain.ErrAlreadyExists)

	p.MarketCount = 3
	p.Fees.ProtocolFeeBps = 300
	p.UpdatedAt = t0.Add(time.Minute)
	require.NoError(t, l.Protocols().Update(ctx, p))

	got, err := l.Protocols().Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestMarketRoundTripAndFilters(t *testing.T) {
	ctx := context.Background()
	l := openTest(t)

	for id := uint64(0); id < 3; id++ {
		require.NoError(t, l.Markets().Create(ctx, testMarket(id)))
	}
	assert.ErrorIs(t, l.Markets().Create(ctx, testMarket(1)), domain.ErrAlreadyExists)

	m, err := l.Markets().GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, testMarket(1), m)

	settled := t0.Add(2 * time.Hour)
	m.Resolved = true
	m.WinningOutcome = 1
	m.OutcomePools = []amount.Amount{40, 60}
	m.TotalVolume = 100
	m.EscrowBalance = 100
	m.SettledAt = &settled
	require.NoError(t, l.Markets().Update(ctx, m))

	got, err := l.Markets().GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	open, err := l.Markets().List(ctx, domain.MarketStatusOpen, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, uint64(2), open[0].ID)

	n, err := l.Markets().Count(ctx, domain.MarketStatusResolved)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	page, err := l.Markets().List(ctx, "", domain.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, uint64(1), page[0].ID)

	_, err = l.Markets().GetByID(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSettledBeforeAndArchive(t *testing.T) {
	ctx := context.Background()
	l := openTest(t)

	for id := uint64(0); id < 3; id++ {
		m := testMarket(id)
		if id < 2 {
			at := t0.Add(time.Duration(id+1) * time.Hour)
			m.Cancelled = true
			m.SettledAt = &at
		}
		require.NoError(t, l.Markets().Create(ctx, m))
	}

	due, err := l.Markets().ListSettledBefore(ctx, t0.Add(24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, uint64(0), due[0].ID)

	require.NoError(t, l.Markets().MarkArchived(ctx, []uint64{0}))
	due, err = l.Markets().ListSettledBefore(ctx, t0.Add(24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, uint64(1), due[0].ID)
}

func addPosition(t *testing.T, l *Ledger, m domain.Market, id uint64, user common.Address, outcome int, claimed bool) domain.Position {
	t.Helper()
	pos := domain.Position{
		Address:  crypto.PositionAddress(user, m.Address, id),
		ID:       id,
		MarketID: m.ID,
		Market:   m.Address,
		User:     user,
		Outcome:  outcome,
		Amount:   amount.Amount(1_000_000),
		Claimed:  claimed,
		PlacedAt: t0,
	}
	require.NoError(t, l.Positions().Create(context.Background(), pos))
	return pos
}

func TestSettledBeforeSkipsOwedPayouts(t *testing.T) {
	ctx := context.Background()
	l := openTest(t)
	settled := t0.Add(time.Hour)

	var markets []domain.Market
	for id := uint64(0); id < 4; id++ {
		m := testMarket(id)
		m.SettledAt = &settled
		if id == 3 {
			m.Cancelled = true
		} else {
			m.Resolved = true
			m.WinningOutcome = 0
		}
		require.NoError(t, l.Markets().Create(ctx, m))
		markets = append(markets, m)
	}
	// 0: unclaimed winner.
	winner := addPosition(t, l, markets[0], 0, alice, 0, false)
	addPosition(t, l, markets[0], 1, bob, 1, false)
	// 1: nobody backed the winner, so the stake is refundable.
	addPosition(t, l, markets[1], 0, bob, 1, false)
	// 2: winner paid, only a losing stake left.
	addPosition(t, l, markets[2], 0, alice, 0, true)
	addPosition(t, l, markets[2], 1, bob, 1, false)
	// 3: cancelled with an unrefunded stake.
	addPosition(t, l, markets[3], 0, alice, 1, false)

	due, err := l.Markets().ListSettledBefore(ctx, t0.Add(24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, uint64(2), due[0].ID)

	winner.Claimed = true
	require.NoError(t, l.Positions().Update(ctx, winner))
	due, err = l.Markets().ListSettledBefore(ctx, t0.Add(24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, uint64(0), due[0].ID)
	assert.Equal(t, uint64(2), due[1].ID)
}

func TestListFromID(t *testing.T) {
	ctx := context.Background()
	l := openTest(t)
	for id := uint64(0); id < 5; id++ {
		require.NoError(t, l.Markets().Create(ctx, testMarket(id)))
	}

	page, err := l.Markets().ListFromID(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(2), page[0].ID)
	assert.Equal(t, uint64(3), page[1].ID)

	rest, err := l.Markets().ListFromID(ctx, 4, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, uint64(4), rest[0].ID)
}

func TestPositions(t *testing.T) {
	ctx := context.Background()
	l := openTest(t)
	m := testMarket(0)
	require.NoError(t, l.Markets().Create(ctx, m))

	pos := domain.Position{
		Address:  crypto.PositionAddress(alice, m.Address, 0),
		ID:       0,
		MarketID: m.ID,
		Market:   m.Address,
		User:     alice,
		Outcome:  1,
		Amount:   amount.Amount(5_000_000),
		PlacedAt: t0,
	}
	require.NoError(t, l.Positions().Create(ctx, pos))
	assert.ErrorIs(t, l.Positions().Create(ctx, pos), domain.ErrAlreadyExists)

	claimedAt := t0.Add(3 * time.Hour)
	pos.Claimed = true
	pos.Payout = 4_900_000
	pos.Fee = 100_000
	pos.ClaimedAt = &claimedAt
	require.NoError(t, l.Positions().Update(ctx, pos))

	got, err := l.Positions().GetByAddress(ctx, pos.Address)
	require.NoError(t, err)
	assert.Equal(t, pos, got)

	byUser, err := l.Positions().ListByUser(ctx, alice, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, byUser, 1)

	none, err := l.Positions().ListByUser(ctx, bob, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, none)

	byMarket, err := l.Positions().ListByMarket(ctx, m.ID, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, byMarket, 1)
}

func TestTransfers(t *testing.T) {
	ctx := context.Background()
	l := openTest(t)
	acct := l.Accounts()

	require.NoError(t, acct.Transfer(ctx, domain.Transfer{
		Kind: domain.TransferDeposit, To: alice, Mint: mint, Amount: 100, At: t0,
	}))
	bal, err := acct.Balance(ctx, alice, mint)
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(100), bal)

	err = acct.Transfer(ctx, domain.Transfer{
		Kind: domain.TransferStake, From: alice, To: bob, Mint: mint, Amount: 101, At: t0,
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	marketID := uint64(7)
	require.NoError(t, acct.Transfer(ctx, domain.Transfer{
		Kind: domain.TransferStake, From: alice, To: bob, Mint: mint, Amount: 40,
		MarketID: &marketID, At: t0.Add(time.Minute),
	}))

	bal, err = acct.Balance(ctx, alice, mint)
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(60), bal)
	bal, err = acct.Balance(ctx, bob, mint)
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(40), bal)

	history, err := acct.ListTransfers(ctx, alice, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.TransferStake, history[0].Kind)
	require.NotNil(t, history[0].MarketID)
	assert.Equal(t, marketID, *history[0].MarketID)
	assert.NotEmpty(t, history[0].ID)

	assert.ErrorIs(t, acct.Transfer(ctx, domain.Transfer{Kind: domain.TransferFee, From: alice, To: bob, Mint: mint}),
		domain.ErrZeroAmount)
}

func TestInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	l := openTest(t)
	boom := errors.New("boom")

	err := l.InTx(ctx, func(tx domain.Stores) error {
		if err := tx.Markets().Create(ctx, testMarket(0)); err != nil {
			return err
		}
		if err := tx.Accounts().Transfer(ctx, domain.Transfer{
			Kind: domain.TransferDeposit, To: alice, Mint: mint, Amount: 10, At: t0,
		}); err != nil {
			return err
		}
		require.NoError(t, tx.Audit().Log(ctx, "MarketCreated", map[string]any{"market_id": 0}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = l.Markets().GetByID(ctx, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	bal, err := l.Accounts().Balance(ctx, alice, mint)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
	entries, err := l.Audit().List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, l.InTx(ctx, func(tx domain.Stores) error {
		return tx.Audit().Log(ctx, "MarketCreated", map[string]any{"market_id": 0})
	}))
	entries, err = l.Audit().List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "MarketCreated", entries[0].Event)
	assert.Equal(t, float64(0), entries[0].Detail["market_id"])
}
