// Package metrics holds the Prometheus collectors of the matchmaking server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "slam"

type Metrics struct {
	MatchesFormed  prometheus.Counter
	SolverOutcomes *prometheus.CounterVec
	DroppedEntries prometheus.Counter
	Results        *prometheus.CounterVec
	DroppedFrames  prometheus.Counter
	ProtocolErrors prometheus.Counter
	QueueLength    prometheus.Gauge
	StoredMatches  prometheus.Gauge
	Connections    prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MatchesFormed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_formed_total",
			Help:      "Matches produced by the formulation engine.",
		}),
		SolverOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solver_outcomes_total",
			Help:      "Solver invocations by outcome.",
		}, []string{"outcome"}),
		DroppedEntries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dropped_entries_total",
			Help:      "Queue entries dropped because the player has no rating.",
		}),
		Results: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_total",
			Help:      "Match result reports by status.",
		}, []string{"status"}),
		DroppedFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_dropped_frames_total",
			Help:      "Frames dropped because a subscriber backlog was full.",
		}),
		ProtocolErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Connections closed on a protocol error.",
		}),
		QueueLength: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Players waiting in the queue.",
		}),
		StoredMatches: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stored_matches",
			Help:      "Matches awaiting a result.",
		}),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_connections",
			Help:      "Connected protocol clients.",
		}),
	}
}

// NewNop returns unregistered collectors.
func NewNop() *Metrics {
	return New(nil)
}
