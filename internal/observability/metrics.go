// Package observability provides Prometheus metrics and logger setup for
// the gateway.
package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// RequestsTotal counts inbound HTTP requests by route pattern and status code.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpool_requests_total",
			Help: "Inbound requests",
		},
		[]string{"route", "status"},
	)

	// StreamingConnections tracks the number of open SSE responses.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gpool_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// PoolAttemptsTotal counts per-account attempts by outcome
	// (success, failure, skipped, cancelled).
	PoolAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpool_pool_attempts_total",
			Help: "Pool attempts by outcome",
		},
		[]string{"outcome"},
	)

	// PoolQuarantinesTotal counts quarantines by reason (warmup, rate_limit, failure).
	PoolQuarantinesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpool_pool_quarantines_total",
			Help: "Account quarantines by reason",
		},
		[]string{"reason"},
	)

	// PoolSelectionsTotal counts selections by kind (cold, sampled, none).
	PoolSelectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpool_pool_selections_total",
			Help: "Account selections by kind",
		},
		[]string{"kind"},
	)

	// StreamObjectsTotal counts reconstructed upstream objects by result
	// (parsed, malformed).
	StreamObjectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpool_stream_objects_total",
			Help: "Reconstructed stream objects",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		StreamingConnections,
		PoolAttemptsTotal,
		PoolQuarantinesTotal,
		PoolSelectionsTotal,
		StreamObjectsTotal,
	)
}
