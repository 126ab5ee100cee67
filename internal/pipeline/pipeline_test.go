package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polywager/internal/domain"
	"github.com/alanyoungcy/polywager/internal/service"
)

var t0 = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeSource struct {
	pending  []domain.SettledMarket
	cutoffs  []time.Time
	archived []uint64
}

func (f *fakeSource) SettledBatch(_ context.Context, cutoff time.Time, limit int) ([]domain.SettledMarket, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	var out []domain.SettledMarket
	for _, sm := range f.pending {
		if len(out) == limit {
			break
		}
		if !sm.Market.Archived {
			out = append(out, sm)
		}
	}
	return out, nil
}

func (f *fakeSource) MarkArchived(_ context.Context, ids []uint64) error {
	f.archived = append(f.archived, ids...)
	for _, id := range ids {
		for i := range f.pending {
			if f.pending[i].Market.ID == id {
				f.pending[i].Market.Archived = true
			}
		}
	}
	return nil
}

type fakeBlob struct {
	batches [][]domain.SettledMarket
	err     error
}

func (f *fakeBlob) ArchiveSettled(_ context.Context, batch []domain.SettledMarket) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.batches = append(f.batches, batch)
	return int64(len(batch)), nil
}

func pending(n int) []domain.SettledMarket {
	out := make([]domain.SettledMarket, n)
	for i := range out {
		out[i].Market.ID = uint64(i)
	}
	return out
}

func TestArchiverDrainsBatches(t *testing.T) {
	src := &fakeSource{pending: pending(5)}
	blob := &fakeBlob{}
	clock := domain.ClockFunc(func() time.Time { return t0 })
	a := NewArchiver(src, blob, clock, 24*time.Hour, 2, discard())

	n, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Len(t, blob.batches, 3)
	assert.Equal(t, []uint64{0, 1, 2, 3, 4}, src.archived)
	assert.Equal(t, t0.Add(-24*time.Hour), src.cutoffs[0])
}

func TestArchiverUploadFailureKeepsMarkets(t *testing.T) {
	src := &fakeSource{pending: pending(2)}
	a := NewArchiver(src, &fakeBlob{err: errors.New("s3 down")}, nil, time.Hour, 10, discard())

	_, err := a.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, src.archived)
}

type fakeVerifier struct {
	markets []domain.Market
	bad     map[uint64]bool
	checked []uint64
	calls   int
	onList  func(f *fakeVerifier)
}

func (f *fakeVerifier) MarketsFrom(_ context.Context, fromID uint64, limit int) ([]domain.Market, error) {
	f.calls++
	if f.onList != nil {
		f.onList(f)
	}
	var out []domain.Market
	for _, m := range f.markets {
		if m.ID >= fromID && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeVerifier) VerifyMarket(_ context.Context, id uint64) (service.Verification, error) {
	f.checked = append(f.checked, id)
	return service.Verification{OK: !f.bad[id]}, nil
}

func TestReconcilerReportsFailures(t *testing.T) {
	v := &fakeVerifier{bad: map[uint64]bool{3: true}}
	for i := 0; i < 5; i++ {
		v.markets = append(v.markets, domain.Market{ID: uint64(i), Archived: i == 1})
	}
	r := NewReconciler(v, discard())
	r.pageSize = 2

	failed, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{3}, failed)
	assert.Equal(t, []uint64{0, 2, 3, 4}, v.checked)
}

func TestReconcilerChecksArchivedMarketHoldingEscrow(t *testing.T) {
	v := &fakeVerifier{bad: map[uint64]bool{1: true}}
	v.markets = []domain.Market{
		{ID: 0, Archived: true},
		{ID: 1, Archived: true, EscrowBalance: 5_000_000},
		{ID: 2},
	}
	r := NewReconciler(v, discard())

	failed, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, failed)
	assert.Equal(t, []uint64{1, 2}, v.checked)
}

func TestReconcilerPagesByIDWhileMarketsAreCreated(t *testing.T) {
	v := &fakeVerifier{}
	for i := 0; i < 4; i++ {
		v.markets = append(v.markets, domain.Market{ID: uint64(i)})
	}
	// A market is created between every page.
	v.onList = func(f *fakeVerifier) {
		f.markets = append(f.markets, domain.Market{ID: uint64(len(f.markets))})
	}
	r := NewReconciler(v, discard())
	r.pageSize = 2

	_, err := r.Run(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(v.checked), 4)
	for i, id := range v.checked {
		assert.Equal(t, uint64(i), id, "markets are checked once each in id order")
	}
}

func TestOrchestratorStopsCleanly(t *testing.T) {
	src := &fakeSource{}
	a := NewArchiver(src, &fakeBlob{}, nil, time.Hour, 10, discard())
	o := NewOrchestrator(a, NewReconciler(&fakeVerifier{}, discard()), time.Hour, time.Hour, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
}
