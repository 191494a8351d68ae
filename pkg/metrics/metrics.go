// Package metrics exposes Prometheus counters and gauges for the
// server's ambient observability: connection volume, frame/message
// throughput, error rates, and AI participant health.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatroom_connections_total",
		Help: "Total TCP connections accepted.",
	})

	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatroom_connections_active",
		Help: "Currently open connections.",
	})

	FramesReceivedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatroom_frames_received_total",
		Help: "Total non-empty protocol lines received, before parsing.",
	})

	MessagesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatroom_messages_sent_total",
		Help: "Total chat messages persisted, labeled by kind.",
	}, []string{"kind"})

	ErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatroom_errors_total",
		Help: "Total error frames sent to clients, labeled by error code.",
	}, []string{"code"})

	AdminCommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatroom_admin_commands_total",
		Help: "Total admin commands processed, labeled by verb and outcome.",
	}, []string{"verb", "outcome"})

	AICallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatroom_ai_calls_total",
		Help: "Total AI backend invocations, labeled by outcome.",
	}, []string{"outcome"})

	AIQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatroom_ai_queue_depth",
		Help: "Current depth of the AI participant job queue.",
	})
)

// Register adds all collectors to the given registry. Call once at
// startup with prometheus.DefaultRegisterer (or a test registry).
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		ConnectionsTotal,
		ConnectionsActive,
		FramesReceivedTotal,
		MessagesSentTotal,
		ErrorsTotal,
		AdminCommandsTotal,
		AICallsTotal,
		AIQueueDepth,
	)
}
