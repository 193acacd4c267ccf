// Package metrics holds the process-wide Prometheus collectors of the
// impact engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "impactgraph"

var (
	// ImpactRuns counts completed pipeline runs.
	// Labels: source (git, chat, manual), level (low, medium, high)
	ImpactRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Total impact analyses completed",
	}, []string{"source", "level"})

	// AnalysisDuration measures propagation plus evidence time
	AnalysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "duration_seconds",
		Help:      "Impact pipeline latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 15},
	}, []string{"source"})

	EvidenceFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "evidence",
		Name:      "fallbacks_total",
		Help:      "Generated summaries replaced by the deterministic summary",
	})

	// DocIssueUpserts counts tracker writes.
	// Labels: action (created, merged)
	DocIssueUpserts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "docissues",
		Name:      "upserts_total",
		Help:      "Doc issues created or merged",
	}, []string{"action"})

	// AuditSinkFailures counts per-sink write failures.
	// Labels: sink (graph, file)
	AuditSinkFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "audit",
		Name:      "sink_failures_total",
		Help:      "Impact event writes that failed on one sink",
	}, []string{"sink"})

	AuditEventsLost = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "audit",
		Name:      "events_lost_total",
		Help:      "Impact events that no sink accepted",
	})

	// Notifications counts gate decisions.
	// Labels: outcome (notify, suppressed)
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "decisions_total",
		Help:      "Notification gate decisions",
	}, []string{"outcome"})

	// GraphReloads counts dependency graph reloads.
	// Labels: status (success, partial, error)
	GraphReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "graph",
		Name:      "reloads_total",
		Help:      "Dependency graph reload attempts",
	}, []string{"status"})

	// IngestedItems counts items seen by the pollers.
	// Labels: source (git, chat), outcome (processed, skipped, failed)
	IngestedItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingestion",
		Name:      "items_total",
		Help:      "Items handled by the ingestion pollers",
	}, []string{"source", "outcome"})
)

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// CounterValue reads the current value of a counter
func CounterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil || m.Counter == nil {
		return 0
	}
	return m.Counter.GetValue()
}
