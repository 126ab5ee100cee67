package service_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polywager/internal/amount"
	"github.com/alanyoungcy/polywager/internal/cache/local"
	"github.com/alanyoungcy/polywager/internal/domain"
	"github.com/alanyoungcy/polywager/internal/ledger"
	"github.com/alanyoungcy/polywager/internal/metrics"
	"github.com/alanyoungcy/polywager/internal/service"
	"github.com/alanyoungcy/polywager/internal/store/sqlite"
)

var (
	authority = common.HexToAddress("0x000000000000000000000000000000000000a001")
	feeWallet = common.HexToAddress("0x000000000000000000000000000000000000fee1")
	creator   = common.HexToAddress("0x000000000000000000000000000000000000c001")
	alice     = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob       = common.HexToAddress("0x000000000000000000000000000000000000b0b0")
	usdc      = common.HexToAddress("0x0000000000000000000000000000000000005dc0")

	t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	svc     *service.LedgerService
	store   *sqlite.Ledger
	bus     *local.SignalBus
	cache   *recordingCache
	clock   *testClock
	metrics *metrics.Metrics
}

type fixtureOption func(cfg *service.LedgerConfig, ledger *domain.Ledger)

func withConfig(fn func(cfg *service.LedgerConfig)) fixtureOption {
	return func(cfg *service.LedgerConfig, _ *domain.Ledger) { fn(cfg) }
}

func withLedger(wrap func(domain.Ledger) domain.Ledger) fixtureOption {
	return func(_ *service.LedgerConfig, l *domain.Ledger) { *l = wrap(*l) }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(ctx, ":memory:", time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		store:   store,
		bus:     local.NewSignalBus(),
		cache:   &recordingCache{MarketCache: local.NewMarketCache(time.Minute)},
		clock:   &testClock{now: t0},
		metrics: metrics.New(),
	}
	cfg := service.LedgerConfig{MaxFeeBps: 2500, LockWait: 5 * time.Second}
	var l domain.Ledger = store
	for _, opt := range opts {
		opt(&cfg, &l)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = service.NewLedgerService(l, local.NewLockManager(), f.bus, f.cache,
		f.clock, f.metrics, cfg, logger)
	return f
}

// recordingCache counts writes to the market cache.
type recordingCache struct {
	*local.MarketCache
	sets atomic.Int32
}

func (c *recordingCache) Set(ctx context.Context, m domain.Market) error {
	c.sets.Add(1)
	return c.MarketCache.Set(ctx, m)
}

// lockCountingLedger counts protocol row locks taken inside transactions.
type lockCountingLedger struct {
	domain.Ledger
	locks *atomic.Int32
}

func (l lockCountingLedger) InTx(ctx context.Context, fn func(tx domain.Stores) error) error {
	return l.Ledger.InTx(ctx, func(tx domain.Stores) error {
		return fn(lockCountingStores{Stores: tx, locks: l.locks})
	})
}

type lockCountingStores struct {
	domain.Stores
	locks *atomic.Int32
}

func (s lockCountingStores) Protocols() domain.ProtocolStore {
	return lockCountingProtocols{ProtocolStore: s.Stores.Protocols(), locks: s.locks}
}

type lockCountingProtocols struct {
	domain.ProtocolStore
	locks *atomic.Int32
}

func (p lockCountingProtocols) GetForUpdate(ctx context.Context) (domain.Protocol, error) {
	p.locks.Add(1)
	return p.ProtocolStore.GetForUpdate(ctx)
}

// setup initializes the protocol with a 5% fee and funds alice and bob.
func (f *fixture) setup(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.InitializeProtocol(ctx, authority, ledger.ProtocolParams{
		Fees:         domain.FeeSchedule{ProtocolFeeBps: 500, CancelFeeBps: 100},
		FeeRecipient: feeWallet,
	})
	require.NoError(t, err)
	for _, u := range []common.Address{alice, bob} {
		_, err := f.svc.Deposit(ctx, authority, u, usdc, 1_000)
		require.NoError(t, err)
	}
}

func (f *fixture) market(t *testing.T) domain.Market {
	t.Helper()
	m, err := f.svc.CreateMarket(context.Background(), creator, ledger.MarketParams{
		TokenMint: usdc,
		Question:  "Will it rain tomorrow?",
		Outcomes:  []string{"Yes", "No"},
		EndTime:   t0.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) balance(t *testing.T, owner common.Address) amount.Amount {
	t.Helper()
	b, err := f.svc.Balance(context.Background(), owner, usdc)
	require.NoError(t, err)
	return b.Amount
}

func TestInitializeProtocolOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetProtocol(ctx)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)

	f.setup(t)
	p, err := f.svc.GetProtocol(ctx)
	require.NoError(t, err)
	assert.Equal(t, authority, p.Authority)
	assert.Equal(t, uint16(500), p.Fees.ProtocolFeeBps)

	_, err = f.svc.InitializeProtocol(ctx, bob, ledger.ProtocolParams{FeeRecipient: feeWallet})
	assert.ErrorIs(t, err, domain.ErrAlreadyInitialized)
}

func TestOperatorFeeCeiling(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.InitializeProtocol(context.Background(), authority, ledger.ProtocolParams{
		Fees:         domain.FeeSchedule{ProtocolFeeBps: 3000},
		FeeRecipient: feeWallet,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidFee)

	_, err = f.svc.GetProtocol(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
	entries, err := f.svc.ListAudit(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestZeroFeeCeilingAllowsOnlyFeeFreeSchedules(t *testing.T) {
	f := newFixture(t, withConfig(func(cfg *service.LedgerConfig) { cfg.MaxFeeBps = 0 }))
	ctx := context.Background()

	_, err := f.svc.InitializeProtocol(ctx, authority, ledger.ProtocolParams{
		Fees:         domain.FeeSchedule{ProtocolFeeBps: 1},
		FeeRecipient: feeWallet,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidFee)

	p, err := f.svc.InitializeProtocol(ctx, authority, ledger.ProtocolParams{FeeRecipient: feeWallet})
	require.NoError(t, err)
	assert.Equal(t, domain.FeeSchedule{}, p.Fees)

	_, err = f.svc.UpdateFees(ctx, authority, ledger.FeeUpdate{Fees: domain.FeeSchedule{CancelFeeBps: 1}})
	assert.ErrorIs(t, err, domain.ErrInvalidFee)
}

func TestCreateMarketRequiresProtocol(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateMarket(context.Background(), creator, ledger.MarketParams{
		TokenMint: usdc,
		Question:  "Q?",
		Outcomes:  []string{"A", "B"},
		EndTime:   t0.Add(time.Hour),
	})
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
}

func TestFullMarketLifecycle(t *testing.T) {
	f := newFixture(t)
	f.setup(t)
	ctx := context.Background()
	m := f.market(t)
	assert.Equal(t, uint64(0), m.ID)

	yes, err := f.svc.PlaceBet(ctx, alice, m.ID, 0, 100)
	require.NoError(t, err)
	no, err := f.svc.PlaceBet(ctx, bob, m.ID, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), no.ID)

	assert.Equal(t, amount.Amount(900), f.balance(t, alice))
	got, err := f.svc.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, []amount.Amount{100, 100}, got.OutcomePools)
	assert.Equal(t, amount.Amount(200), got.EscrowBalance)

	_, err = f.svc.ResolveMarket(ctx, creator, m.ID, 0)
	assert.ErrorIs(t, err, domain.ErrMarketNotEnded)

	f.clock.Set(t0.Add(24 * time.Hour))
	_, err = f.svc.PlaceBet(ctx, alice, m.ID, 0, 10)
	assert.ErrorIs(t, err, domain.ErrMarketEnded)

	_, err = f.svc.ResolveMarket(ctx, creator, m.ID, 0)
	require.NoError(t, err)

	_, err = f.svc.ClaimWinnings(ctx, alice, no.Address)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	res, err := f.svc.ClaimWinnings(ctx, alice, yes.Address)
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(195), res.Claim.Net)
	assert.Equal(t, amount.Amount(5), res.Claim.Fee)
	assert.True(t, res.Position.Claimed)

	assert.Equal(t, amount.Amount(1_095), f.balance(t, alice))
	assert.Equal(t, amount.Amount(5), f.balance(t, feeWallet))

	_, err = f.svc.ClaimWinnings(ctx, alice, yes.Address)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	_, err = f.svc.ClaimWinnings(ctx, bob, no.Address)
	assert.ErrorIs(t, err, domain.ErrNotWinner)

	v, err := f.svc.VerifyMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, v.OK, v.Problem)
	assert.Equal(t, amount.Zero, v.Custody)
	assert.Equal(t, amount.Zero, v.EscrowBalance)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OperationsTotal.WithLabelValues("claim_winnings", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OperationsTotal.WithLabelValues("claim_winnings", "AlreadyClaimed")))
}

func TestCancelAndRefund(t *testing.T) {
	f := newFixture(t)
	f.setup(t)
	ctx := context.Background()
	m := f.market(t)

	pos, err := f.svc.PlaceBet(ctx, alice, m.ID, 1, 1_000)
	require.NoError(t, err)

	_, err = f.svc.RefundPosition(ctx, alice, pos.Address)
	assert.ErrorIs(t, err, domain.ErrRefundNotAllowed)

	_, err = f.svc.CancelMarket(ctx, bob, m.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = f.svc.CancelMarket(ctx, creator, m.ID)
	require.NoError(t, err)

	_, err = f.svc.PlaceBet(ctx, bob, m.ID, 0, 10)
	assert.ErrorIs(t, err, domain.ErrMarketCancelled)

	// The creator may trigger the refund; funds go to the owner.
	res, err := f.svc.RefundPosition(ctx, creator, pos.Address)
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(990), res.Refund.Net)
	assert.Equal(t, amount.Amount(10), res.Refund.Fee)
	assert.Equal(t, amount.Amount(990), f.balance(t, alice))
	assert.Equal(t, amount.Amount(10), f.balance(t, feeWallet))

	_, err = f.svc.RefundPosition(ctx, alice, pos.Address)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	v, err := f.svc.VerifyMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, v.OK, v.Problem)
}

func TestResolvedWithoutWinnersRefundsInFull(t *testing.T) {
	f := newFixture(t)
	f.setup(t)
	ctx := context.Background()
	m := f.market(t)

	pos, err := f.svc.PlaceBet(ctx, bob, m.ID, 1, 400)
	require.NoError(t, err)
	f.clock.Set(t0.Add(48 * time.Hour))
	_, err = f.svc.ResolveMarket(ctx, authority, m.ID, 0)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = f.svc.ResolveMarket(ctx, creator, m.ID, 0)
	require.NoError(t, err)

	_, err = f.svc.ClaimWinnings(ctx, bob, pos.Address)
	assert.ErrorIs(t, err, domain.ErrNoWinningStakes)

	res, err := f.svc.RefundPosition(ctx, bob, pos.Address)
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(400), res.Refund.Net)
	assert.True(t, res.Refund.Fee.IsZero())
	assert.Equal(t, amount.Amount(1_000), f.balance(t, bob))
}

func TestInsufficientFundsLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	f.setup(t)
	ctx := context.Background()
	m := f.market(t)

	_, err := f.svc.PlaceBet(ctx, alice, m.ID, 0, 5_000)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	got, err := f.svc.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Zero(t, got.PositionCount)
	assert.Equal(t, []amount.Amount{0, 0}, got.OutcomePools)
	assert.Equal(t, amount.Amount(1_000), f.balance(t, alice))

	positions, err := f.svc.ListMarketPositions(ctx, m.ID, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestDepositRequiresAuthority(t *testing.T) {
	f := newFixture(t)
	f.setup(t)
	_, err := f.svc.Deposit(context.Background(), alice, alice, usdc, 1)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.svc.Deposit(context.Background(), authority, alice, usdc, 0)
	assert.ErrorIs(t, err, domain.ErrZeroAmount)
}

func TestUpdateFeesAppliesToNewMarketsOnly(t *testing.T) {
	f := newFixture(t)
	f.setup(t)
	ctx := context.Background()
	before := f.market(t)

	_, err := f.svc.UpdateFees(ctx, alice, ledger.FeeUpdate{Fees: domain.FeeSchedule{ProtocolFeeBps: 100}})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.svc.UpdateFees(ctx, authority, ledger.FeeUpdate{Fees: domain.FeeSchedule{ProtocolFeeBps: 100}})
	require.NoError(t, err)
	after := f.market(t)

	assert.Equal(t, uint16(500), before.Fees.ProtocolFeeBps)
	assert.Equal(t, uint16(100), after.Fees.ProtocolFeeBps)
	assert.Equal(t, uint64(1), after.ID)

	got, err := f.svc.GetMarket(ctx, before.ID)
	require.NoError(t, err)
	assert.Equal(t, uint16(500), got.Fees.ProtocolFeeBps)
}

func TestEventsArePublishedAndAudited(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := f.bus.Subscribe(ctx, domain.EventsChannel)
	require.NoError(t, err)

	f.setup(t)
	m := f.market(t)
	_, err = f.svc.PlaceBet(ctx, alice, m.ID, 0, 50)
	require.NoError(t, err)

	want := []domain.EventType{
		domain.EventProtocolInitialized,
		domain.EventFundsDeposited,
		domain.EventFundsDeposited,
		domain.EventMarketCreated,
		domain.EventBetPlaced,
	}
	for _, typ := range want {
		select {
		case payload := <-sub:
			var evt domain.LedgerEvent
			require.NoError(t, json.Unmarshal(payload, &evt))
			assert.Equal(t, typ, evt.Type)
			assert.NotEmpty(t, evt.ID)
		case <-time.After(time.Second):
			t.Fatalf("no %s event", typ)
		}
	}

	msgs, err := f.svc.Events(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, len(want))

	entries, err := f.svc.ListAudit(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, len(want))
	assert.Equal(t, string(domain.EventBetPlaced), entries[0].Event)

	// Rejections are neither published nor audited.
	_, err = f.svc.PlaceBet(ctx, alice, m.ID, 7, 50)
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
	entries, err = f.svc.ListAudit(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, entries, len(want))
}

func TestConcurrentBetsSerialize(t *testing.T) {
	f := newFixture(t)
	f.setup(t)
	ctx := context.Background()
	m := f.market(t)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := alice
			if i%2 == 1 {
				user = bob
			}
			_, err := f.svc.PlaceBet(ctx, user, m.ID, i%2, 10)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		}
	}

	require.Equal(t, 10, ok)

	got, err := f.svc.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(ok), got.PositionCount)
	assert.Equal(t, amount.Amount(10*ok), got.TotalVolume)

	positions, err := f.svc.ListMarketPositions(ctx, m.ID, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, positions, ok)
	for i, p := range positions {
		assert.Equal(t, uint64(i), p.ID)
	}
}

func TestSettledBatchAndMarkArchived(t *testing.T) {
	f := newFixture(t)
	f.setup(t)
	ctx := context.Background()
	m := f.market(t)
	pos, err := f.svc.PlaceBet(ctx, alice, m.ID, 0, 10)
	require.NoError(t, err)
	open := f.market(t)

	_, err = f.svc.CancelMarket(ctx, creator, m.ID)
	require.NoError(t, err)

	// Still owes alice her refund.
	batch, err := f.svc.SettledBatch(ctx, t0.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, batch)

	_, err = f.svc.RefundPosition(ctx, alice, pos.Address)
	require.NoError(t, err)
	batch, err = f.svc.SettledBatch(ctx, t0.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, m.ID, batch[0].Market.ID)
	assert.Len(t, batch[0].Positions, 1)

	require.NoError(t, f.svc.MarkArchived(ctx, []uint64{m.ID}))
	batch, err = f.svc.SettledBatch(ctx, t0.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, batch)

	got, err := f.svc.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, got.Archived)
	assert.NotEqual(t, open.ID, got.ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ArchivedMarkets))
}

func TestSettledBatchWaitsForWinningClaims(t *testing.T) {
	f := newFixture(t)
	f.setup(t)
	ctx := context.Background()
	m := f.market(t)
	yes, err := f.svc.PlaceBet(ctx, alice, m.ID, 0, 100)
	require.NoError(t, err)
	_, err = f.svc.PlaceBet(ctx, bob, m.ID, 1, 100)
	require.NoError(t, err)

	f.clock.Set(t0.Add(24 * time.Hour))
	_, err = f.svc.ResolveMarket(ctx, creator, m.ID, 0)
	require.NoError(t, err)

	batch, err := f.svc.SettledBatch(ctx, t0.Add(48*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, batch)

	_, err = f.svc.ClaimWinnings(ctx, alice, yes.Address)
	require.NoError(t, err)

	// Bob's losing stake owes nothing.
	batch, err = f.svc.SettledBatch(ctx, t0.Add(48*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, m.ID, batch[0].Market.ID)
	assert.True(t, batch[0].Market.EscrowBalance.IsZero())
}

func TestVerifyDuringConcurrentBets(t *testing.T) {
	f := newFixture(t)
	f.setup(t)
	ctx := context.Background()
	m := f.market(t)

	const bets = 100
	done := make(chan struct{})
	betErrs := make(chan error, 1)
	go func() {
		defer close(done)
		for i := 0; i < bets; i++ {
			user := alice
			if i%2 == 1 {
				user = bob
			}
			if _, err := f.svc.PlaceBet(ctx, user, m.ID, i%2, 1); err != nil {
				betErrs <- err
				return
			}
		}
	}()

	checks := 0
	for running := true; running; checks++ {
		select {
		case <-done:
			running = false
		default:
		}
		v, err := f.svc.VerifyMarket(ctx, m.ID)
		require.NoError(t, err)
		require.True(t, v.OK, v.Problem)
		time.Sleep(time.Millisecond)
	}
	select {
	case err := <-betErrs:
		t.Fatalf("bet failed: %v", err)
	default:
	}
	assert.Positive(t, checks)

	got, err := f.svc.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(bets), got.PositionCount)
}

func TestOnlyProtocolWritesLockProtocolRow(t *testing.T) {
	var locks atomic.Int32
	f := newFixture(t, withLedger(func(l domain.Ledger) domain.Ledger {
		return lockCountingLedger{Ledger: l, locks: &locks}
	}))
	ctx := context.Background()

	f.setup(t)
	assert.Equal(t, int32(1), locks.Swap(0), "initialize locks the protocol row")

	m := f.market(t)
	other := f.market(t)
	assert.Equal(t, int32(2), locks.Swap(0), "create market locks the protocol row")

	yes, err := f.svc.PlaceBet(ctx, alice, m.ID, 0, 100)
	require.NoError(t, err)
	_, err = f.svc.PlaceBet(ctx, bob, m.ID, 1, 100)
	require.NoError(t, err)
	refund, err := f.svc.PlaceBet(ctx, bob, other.ID, 0, 50)
	require.NoError(t, err)
	_, err = f.svc.Deposit(ctx, authority, alice, usdc, 10)
	require.NoError(t, err)
	_, err = f.svc.CancelMarket(ctx, creator, other.ID)
	require.NoError(t, err)
	_, err = f.svc.RefundPosition(ctx, bob, refund.Address)
	require.NoError(t, err)
	f.clock.Set(t0.Add(24 * time.Hour))
	_, err = f.svc.ResolveMarket(ctx, creator, m.ID, 0)
	require.NoError(t, err)
	_, err = f.svc.ClaimWinnings(ctx, alice, yes.Address)
	require.NoError(t, err)
	assert.Zero(t, locks.Load(), "bets, deposits, cancels, refunds and claims read the protocol unlocked")

	_, err = f.svc.UpdateFees(ctx, authority, ledger.FeeUpdate{Fees: domain.FeeSchedule{ProtocolFeeBps: 100}})
	require.NoError(t, err)
	assert.Equal(t, int32(1), locks.Load(), "update fees locks the protocol row")
}

func TestGetMarketNeverWritesCache(t *testing.T) {
	f := newFixture(t)
	f.setup(t)
	ctx := context.Background()
	m := f.market(t)

	require.NoError(t, f.cache.Invalidate(ctx, m.ID))
	sets := f.cache.sets.Load()
	for i := 0; i < 3; i++ {
		_, err := f.svc.GetMarket(ctx, m.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, sets, f.cache.sets.Load())
	_, err := f.cache.Get(ctx, m.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.PlaceBet(ctx, alice, m.ID, 1, 70)
	require.NoError(t, err)
	cached, err := f.cache.Get(ctx, m.ID)
	require.NoError(t, err)
	stored, err := f.store.Markets().GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, stored, cached)
	assert.Equal(t, []amount.Amount{0, 70}, cached.OutcomePools)
}
