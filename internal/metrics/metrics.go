// Package metrics registers the kernel's Prometheus series: queue depth
// and claim latency for the scheduler, dedup hit rate for Semantic
// Deduplication, diagnostic run outcomes, and ACE pipeline throughput.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "taskkernel"

// Registry holds every metric the kernel's packages report against. A
// single Registry is wired into each subsystem at startup.
type Registry struct {
	QueueDepth         *prometheus.GaugeVec
	ClaimLatency       *prometheus.HistogramVec
	DedupHits          *prometheus.CounterVec
	DedupChecks        *prometheus.CounterVec
	DiagnosticRuns     *prometheus.CounterVec
	ValidationOutcomes *prometheus.CounterVec
	ACEInsights        *prometheus.CounterVec
	PlaybookEntries    *prometheus.CounterVec
}

// New registers every series against registerer (normally
// prometheus.DefaultRegisterer or a per-test registry) and returns the
// Registry handle subsystems record against.
func New(registerer prometheus.Registerer) *Registry {
	factory := promauto.With(registerer)
	return &Registry{
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of tasks currently pending dispatch, by priority.",
		}, []string{"priority"}),
		ClaimLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "claim_latency_seconds",
			Help:      "Time from task creation to a successful claim.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task_type"}),
		DedupHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "hits_total",
			Help:      "Dedup checks that found an exact or semantic match.",
		}, []string{"entity_type", "match_kind"}),
		DedupChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "checks_total",
			Help:      "Total dedup checks performed.",
		}, []string{"entity_type"}),
		DiagnosticRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "diagnostic",
			Name:      "runs_total",
			Help:      "Diagnostic runs by outcome.",
		}, []string{"outcome"}),
		ValidationOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "outcomes_total",
			Help:      "Validation reviews by pass/fail outcome.",
		}, []string{"outcome"}),
		ACEInsights: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ace",
			Name:      "insights_total",
			Help:      "Insights extracted by the Reflector, by kind.",
		}, []string{"kind"}),
		PlaybookEntries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ace",
			Name:      "playbook_entries_total",
			Help:      "Playbook entries created by the Curator, by category.",
		}, []string{"category"}),
	}
}

// ObserveClaimLatency is a small helper so callers can time a claim with
// defer.
func (r *Registry) ObserveClaimLatency(taskType string, start time.Time) {
	r.ClaimLatency.WithLabelValues(taskType).Observe(time.Since(start).Seconds())
}
