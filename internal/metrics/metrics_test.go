package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polywager/internal/amount"
)

func TestRecording(t *testing.T) {
	m := New()

	m.RecordOperation("place_bet", "OK", 3*time.Millisecond)
	m.RecordOperation("place_bet", "MarketEnded", time.Millisecond)
	m.RecordStake("0xmint", amount.Amount(2_500_000))
	m.RecordPayout("payout", amount.Amount(195_000_000), amount.Amount(5_000_000))
	m.SetMarkets("open", 4)
	m.RecordNotification("discord", errors.New("boom"))
	m.AddArchived(3)
	m.AddArchived(0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("place_bet", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("place_bet", "MarketEnded")))
	assert.Equal(t, 2.5, testutil.ToFloat64(m.StakedTotal.WithLabelValues("0xmint")))
	assert.Equal(t, 195.0, testutil.ToFloat64(m.PaidOutTotal.WithLabelValues("payout")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.FeesTotal.WithLabelValues("payout")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Markets.WithLabelValues("open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("discord", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ArchivedMarkets))
}

func TestNilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordOperation("x", "OK", 0)
		m.RecordStake("m", 1)
		m.RecordPayout("refund", 1, 1)
		m.SetMarkets("open", 1)
		m.ObserveLockWait(time.Millisecond)
		m.RecordHTTP("GET", 200, time.Millisecond)
		m.SetWSClients(1)
		m.RecordNotification("telegram", nil)
		m.AddArchived(1)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordHTTP("GET", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `wager_http_requests_total{code="200",method="GET"} 1`)
}
