// Package metrics declares the Prometheus collectors exposed on the
// admin /metrics endpoint, grounded in the teacher's use of
// prometheus/client_golang (registered globally there via
// promauto; kept explicit here since this server has fewer, more
// deliberately named series).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_active",
		Help: "Number of currently open WebSocket connections.",
	})

	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Messages accepted for delivery (persisted or ephemeral), by kind.",
	}, []string{"kind"})

	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_rooms_active",
		Help: "Number of currently active rooms.",
	})

	FramesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_frames_rejected_total",
		Help: "Client frames rejected before dispatch, by error code.",
	}, []string{"code"})

	StoreErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_store_errors_total",
		Help: "Durable store operation failures, by operation.",
	}, []string{"op"})

	CacheBreakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_cache_breaker_state",
		Help: "Redis circuit breaker state for the cache's L2 tier (0=closed, 1=half_open, 2=open).",
	})
)

// Registry is a dedicated Prometheus registry (rather than the global
// default) so admin /metrics output is limited to this server's own
// series plus the Go/process collectors.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		ConnectionsActive,
		MessagesSent,
		RoomsActive,
		FramesRejected,
		StoreErrors,
		CacheBreakerState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}
