package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polywager/internal/amount"
	"github.com/alanyoungcy/polywager/internal/domain"
)

// memBlobs is an in-memory BlobWriter and BlobReader.
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

type memAudit struct {
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func settled(id uint64, at time.Time, stakes ...amount.Amount) domain.SettledMarket {
	m := domain.Market{
		ID:           id,
		Question:     "Q?",
		Outcomes:     []string{"A", "B"},
		OutcomePools: []amount.Amount{0, 0},
		Cancelled:    true,
		SettledAt:    &at,
	}
	var ps []domain.Position
	for i, s := range stakes {
		ps = append(ps, domain.Position{ID: uint64(i), MarketID: id, Amount: s})
	}
	return domain.SettledMarket{Market: m, Positions: ps}
}

func lines(t *testing.T, b []byte) []string {
	t.Helper()
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	require.NoError(t, sc.Err())
	return out
}

func TestArchiveSettledPartitionsByMonth(t *testing.T) {
	blobs := newMemBlobs()
	audit := &memAudit{}
	a := NewArchiver(blobs, blobs, audit)

	jan := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	n, err := a.ArchiveSettled(context.Background(), []domain.SettledMarket{
		settled(1, jan, 10, 20),
		settled(2, feb),
		settled(3, jan, 5),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	assert.Len(t, lines(t, blobs.objects["archive/markets/2026-01.jsonl"]), 2)
	assert.Len(t, lines(t, blobs.objects["archive/positions/2026-01.jsonl"]), 3)
	assert.Len(t, lines(t, blobs.objects["archive/markets/2026-02.jsonl"]), 1)
	assert.NotContains(t, blobs.objects, "archive/positions/2026-02.jsonl")
	assert.Equal(t, []string{"archive.markets", "archive.markets"}, audit.events)

	var m domain.Market
	require.NoError(t, json.Unmarshal([]byte(lines(t, blobs.objects["archive/markets/2026-02.jsonl"])[0]), &m))
	assert.Equal(t, uint64(2), m.ID)
}

func TestArchiveSettledAppends(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, nil)
	jan := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)

	_, err := a.ArchiveSettled(context.Background(), []domain.SettledMarket{settled(1, jan)})
	require.NoError(t, err)
	_, err = a.ArchiveSettled(context.Background(), []domain.SettledMarket{settled(2, jan)})
	require.NoError(t, err)

	got := lines(t, blobs.objects["archive/markets/2026-01.jsonl"])
	require.Len(t, got, 2)
	assert.Contains(t, got[0], `"id":1`)
	assert.Contains(t, got[1], `"id":2`)
}

func TestArchiveSettledEmpty(t *testing.T) {
	blobs := newMemBlobs()
	n, err := NewArchiver(blobs, blobs, nil).ArchiveSettled(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blobs.objects)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
}
