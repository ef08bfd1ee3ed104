// Package metrics exposes Prometheus instruments for the storage engine.
//
// Instruments are registered on a caller-supplied Registerer so tests can
// use a fresh prometheus.NewRegistry(). All methods are nil-safe: a nil
// *Metrics records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "archivist"

// Metrics holds the engine's instruments.
type Metrics struct {
	batchCommits     *prometheus.CounterVec
	batchWrites      prometheus.Histogram
	authzRejections  *prometheus.CounterVec
	activityDropped  prometheus.Counter
	stateTransitions *prometheus.CounterVec
}

// New registers the engine instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		batchCommits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "batch_commits_total",
				Help:      "Total number of batch commits by result",
			},
			[]string{"result"},
		),
		batchWrites: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "batch_writes",
				Help:      "Number of queued writes per committed batch",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		authzRejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "authz",
				Name:      "rejections_total",
				Help:      "Total number of authorization gate rejections by check",
			},
			[]string{"check"},
		),
		activityDropped: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "activitylog",
				Name:      "dropped_total",
				Help:      "Activity log items that could not be persisted",
			},
		),
		stateTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "workflow",
				Name:      "transitions_total",
				Help:      "Workflow state transitions by track and outcome",
			},
			[]string{"track", "outcome"},
		),
	}
}

// BatchCommitted records a commit attempt with n queued writes.
func (m *Metrics) BatchCommitted(n int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.batchCommits.WithLabelValues("error").Inc()
		return
	}
	m.batchCommits.WithLabelValues("ok").Inc()
	m.batchWrites.Observe(float64(n))
}

// AuthzRejected records a gate rejection for check.
func (m *Metrics) AuthzRejected(check string) {
	if m == nil {
		return
	}
	m.authzRejections.WithLabelValues(check).Inc()
}

// ActivityDropped records an activity log item that was not persisted.
func (m *Metrics) ActivityDropped() {
	if m == nil {
		return
	}
	m.activityDropped.Inc()
}

// StateTransition records a workflow transition outcome
// ("applied", "noop", "rejected").
func (m *Metrics) StateTransition(track, outcome string) {
	if m == nil {
		return
	}
	m.stateTransitions.WithLabelValues(track, outcome).Inc()
}
