package watch

import "github.com/prometheus/client_golang/prometheus"

// Internal counters/gauges tracking orchestrator activity. Never mounted
// as an HTTP dashboard by this package; a caller that wants /metrics
// registers these into its own registry via Register.
var (
	reactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowsync_watch_reactions_total",
			Help: "Reactions processed by the watch orchestrator, by kind.",
		},
		[]string{"kind"},
	)

	pushesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flowsync_watch_pushes_total",
			Help: "Successful pushes to the remote document endpoint.",
		},
	)

	pausedGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowsync_watch_paused",
			Help: "1 when the orchestrator is paused, 0 otherwise.",
		},
	)

	oscillationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flowsync_watch_oscillations_total",
			Help: "Oscillation detections that paused the orchestrator.",
		},
	)

	unstableNodesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flowsync_watch_unstable_nodes_total",
			Help: "Nodes found unstable by an explode reaction.",
		},
	)
)

// Register adds every metric to reg, for callers that mount their own
// /metrics endpoint.
func Register(reg *prometheus.Registry) {
	reg.MustRegister(reactionsTotal, pushesTotal, pausedGauge, oscillationsTotal, unstableNodesTotal)
}
