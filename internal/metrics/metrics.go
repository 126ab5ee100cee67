// Package metrics exposes Prometheus metrics for the ledger, its API and
// its background jobs. All recording methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/polywager/internal/amount"
)

// Metrics holds the collectors, registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// Ledger
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	StakedTotal       *prometheus.CounterVec
	PaidOutTotal      *prometheus.CounterVec
	FeesTotal         *prometheus.CounterVec
	Markets           *prometheus.GaugeVec
	LockWait          prometheus.Histogram

	// API
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	WSClients    prometheus.Gauge

	// Jobs
	Notifications   *prometheus.CounterVec
	ArchivedMarkets prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wager_operations_total",
				Help: "Ledger operations by name and outcome code",
			},
			[]string{"op", "code"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wager_operation_duration_seconds",
				Help:    "Ledger operation latency including lock wait and commit",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"op"},
		),
		StakedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wager_staked_total",
				Help: "Total stake placed, in whole token units",
			},
			[]string{"mint"},
		),
		PaidOutTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wager_paid_out_total",
				Help: "Total paid out of escrow to position owners, in whole token units",
			},
			[]string{"kind"},
		),
		FeesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wager_fees_total",
				Help: "Total fees collected, in whole token units",
			},
			[]string{"source"},
		),
		Markets: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wager_markets",
				Help: "Markets by lifecycle status",
			},
			[]string{"status"},
		),
		LockWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wager_lock_wait_seconds",
				Help:    "Time spent waiting for a market lock",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wager_http_requests_total",
				Help: "HTTP requests by method and status code",
			},
			[]string{"method", "code"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wager_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		WSClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wager_ws_clients",
				Help: "Connected websocket clients",
			},
		),
		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wager_notifications_total",
				Help: "Outbound notifications by channel and result",
			},
			[]string{"channel", "result"},
		),
		ArchivedMarkets: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wager_archived_markets_total",
				Help: "Settled markets exported to object storage",
			},
		),
	}

	m.registry.MustRegister(
		m.OperationsTotal, m.OperationDuration, m.StakedTotal, m.PaidOutTotal,
		m.FeesTotal, m.Markets, m.LockWait,
		m.HTTPRequests, m.HTTPDuration, m.WSClients,
		m.Notifications, m.ArchivedMarkets,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func units(a amount.Amount) float64 {
	return a.Decimal().InexactFloat64()
}

// RecordOperation counts one ledger operation; code is "OK" or an error
// code.
func (m *Metrics) RecordOperation(op, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(op, code).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(d.Seconds())
}

// RecordStake adds a placed stake.
func (m *Metrics) RecordStake(mint string, a amount.Amount) {
	if m == nil {
		return
	}
	m.StakedTotal.WithLabelValues(mint).Add(units(a))
}

// RecordPayout adds an escrow payout (net) and the fee withheld from it.
func (m *Metrics) RecordPayout(kind string, net, fee amount.Amount) {
	if m == nil {
		return
	}
	m.PaidOutTotal.WithLabelValues(kind).Add(units(net))
	m.FeesTotal.WithLabelValues(kind).Add(units(fee))
}

// SetMarkets sets the market gauge for status.
func (m *Metrics) SetMarkets(status string, n int64) {
	if m == nil {
		return
	}
	m.Markets.WithLabelValues(status).Set(float64(n))
}

// ObserveLockWait records time spent acquiring a lock.
func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.LockWait.Observe(d.Seconds())
}

// RecordHTTP counts one served request.
func (m *Metrics) RecordHTTP(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method).Observe(d.Seconds())
}

// SetWSClients sets the connected websocket client gauge.
func (m *Metrics) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.WSClients.Set(float64(n))
}

// RecordNotification counts one notification attempt.
func (m *Metrics) RecordNotification(channel string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Notifications.WithLabelValues(channel, result).Inc()
}

// AddArchived counts exported markets.
func (m *Metrics) AddArchived(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.ArchivedMarkets.Add(float64(n))
}
