// Package api implements the HTTP API Surface: a thin gin projection over
// the Storage Adapter, WebSocket Hub, and Debate Orchestrator. Grounded on
// internal/server/server.go's route table, internal/server/pagination.go
// (generalized from page/page_size to the Storage Adapter's opaque cursor),
// and internal/server/error_handler.go's middleware composition.
package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors exposed at /metrics, following
// internal/background/metrics.go's promauto-registered
// gauge/counter/histogram construction.
type Metrics struct {
	DebatesStarted      prometheus.Counter
	DebatesCompleted    *prometheus.CounterVec
	InvokerRetries      prometheus.Counter
	WebSocketConns      prometheus.Gauge
	EventBusQueueDepth  *prometheus.GaugeVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers and returns the engine's Prometheus collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		DebatesStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "aragora",
			Subsystem: "orchestrator",
			Name:      "debates_started_total",
			Help:      "Total number of debates started.",
		}),
		DebatesCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aragora",
			Subsystem: "orchestrator",
			Name:      "debates_completed_total",
			Help:      "Total number of debates completed, labeled by outcome.",
		}, []string{"outcome"}),
		InvokerRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "aragora",
			Subsystem: "agent_invoker",
			Name:      "retries_total",
			Help:      "Total number of Agent Invoker retry attempts.",
		}),
		WebSocketConns: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "aragora",
			Subsystem: "wshub",
			Name:      "active_connections",
			Help:      "Number of currently open WebSocket subscriber connections.",
		}),
		EventBusQueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "aragora",
			Subsystem: "events",
			Name:      "subscriber_queue_depth",
			Help:      "Depth of a subscriber's outbound event queue.",
		}, []string{"debate_id"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aragora",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
}
