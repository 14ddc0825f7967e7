// Package metrics provides Prometheus metrics for the 0k-Sync relay.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "zeroksync_relay"
)

// Metrics contains all Prometheus metrics exposed by a relay process. Field
// names and registered metric names follow spec §6's relay HTTP side
// channel: the counters are a stable, enumerated set; the gauges track
// point-in-time coordination/storage state.
type Metrics struct {
	// Connection metrics
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter

	// Session / group metrics
	GroupsActive  prometheus.Gauge
	SessionsTotal *prometheus.CounterVec // label: transport

	// Push/pull metrics
	PushesTotal prometheus.Counter
	PullsTotal  prometheus.Counter

	// Data transfer metrics
	BytesReceivedTotal prometheus.Counter
	BytesSentTotal     prometheus.Counter

	// Storage metrics
	BlobsStoredTotal  prometheus.Counter
	StorageBytesTotal prometheus.Gauge

	// Admission / error metrics
	RateLimitHitsTotal *prometheus.CounterVec // label: kind (connection, message, session_cap)
	ErrorsTotal        *prometheus.CounterVec // label: code

	// Latency
	HandshakeLatency prometheus.Histogram
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide default metrics instance, registered
// against the global Prometheus registerer.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance registered on the default
// Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a Metrics instance registered on reg, so
// tests can use a throwaway registry instead of the process-wide default.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of currently open relay connections",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total connections accepted by the relay",
		}),
		GroupsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "groups_active",
			Help:      "Number of groups with at least one online session",
		}),
		SessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total sessions completing a HELLO/WELCOME handshake, by transport",
		}, []string{"transport"}),
		PushesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pushes_total",
			Help:      "Total PUSH messages accepted",
		}),
		PullsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pulls_total",
			Help:      "Total PULL messages served",
		}),
		BytesReceivedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total payload bytes received via PUSH",
		}),
		BytesSentTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total payload bytes sent via PULL_RESPONSE",
		}),
		BlobsStoredTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blobs_stored_total",
			Help:      "Total blobs accepted into storage",
		}),
		StorageBytesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "storage_bytes_total",
			Help:      "Current total payload bytes held across all groups",
		}),
		RateLimitHitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total requests rejected by a rate limiter, by limiter kind",
		}, []string{"kind"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total protocol-level error replies sent, by error code",
		}, []string{"code"}),
		HandshakeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_latency_seconds",
			Help:      "Histogram of HELLO-to-WELCOME latency",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
	}
}

// RecordConnect records a newly accepted transport connection.
func (m *Metrics) RecordConnect() {
	m.ConnectionsActive.Inc()
	m.ConnectionsTotal.Inc()
}

// RecordDisconnect records a connection closing, regardless of cause.
func (m *Metrics) RecordDisconnect() {
	m.ConnectionsActive.Dec()
}

// RecordSession records a completed HELLO/WELCOME handshake over the given
// transport type.
func (m *Metrics) RecordSession(transport string) {
	m.SessionsTotal.WithLabelValues(transport).Inc()
}

// RecordPush records an accepted PUSH and the payload bytes it carried.
func (m *Metrics) RecordPush(payloadBytes int) {
	m.PushesTotal.Inc()
	m.BytesReceivedTotal.Add(float64(payloadBytes))
	m.BlobsStoredTotal.Inc()
}

// RecordPull records a served PULL and the payload bytes returned.
func (m *Metrics) RecordPull(payloadBytes int) {
	m.PullsTotal.Inc()
	m.BytesSentTotal.Add(float64(payloadBytes))
}

// RecordRateLimitHit records a request rejected by the named limiter kind
// ("connection", "message", or "session_cap").
func (m *Metrics) RecordRateLimitHit(kind string) {
	m.RateLimitHitsTotal.WithLabelValues(kind).Inc()
}

// RecordError records a protocol-level wire.Error reply sent to a client.
func (m *Metrics) RecordError(code string) {
	m.ErrorsTotal.WithLabelValues(code).Inc()
}

// RecordHandshakeLatency observes the time between HELLO and WELCOME.
func (m *Metrics) RecordHandshakeLatency(seconds float64) {
	m.HandshakeLatency.Observe(seconds)
}

// SetStorageBytes sets the current total stored payload bytes gauge.
func (m *Metrics) SetStorageBytes(bytes int64) {
	m.StorageBytesTotal.Set(float64(bytes))
}

// SetGroupsActive sets the gauge of groups with at least one online session.
func (m *Metrics) SetGroupsActive(count int) {
	m.GroupsActive.Set(float64(count))
}
