// Package metrics exposes Prometheus instrumentation for the memory engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the engine reports into. A nil *Metrics is
// valid and records nothing, so tests can wire the engine without a registry.
type Metrics struct {
	mutations        *prometheus.CounterVec
	mutationDuration *prometheus.HistogramVec
	anomalies        *prometheus.CounterVec
	routingDecisions *prometheus.CounterVec
	searchDuration   *prometheus.HistogramVec
	evictions        prometheus.Counter
	writeHalts       prometheus.Counter
}

// New registers all collectors with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engram",
			Name:      "mutations_total",
			Help:      "Protected mutations by store and outcome.",
		}, []string{"store", "outcome"}),
		mutationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "engram",
			Name:      "mutation_duration_seconds",
			Help:      "Wall time of the full backup-apply-validate-commit cycle.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"store"}),
		anomalies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engram",
			Name:      "anomalies_total",
			Help:      "Anomalies raised, by type and severity.",
		}, []string{"type", "severity"}),
		routingDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engram",
			Name:      "routing_decisions_total",
			Help:      "Routing gate verdicts by safety level.",
		}, []string{"level"}),
		searchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "engram",
			Name:      "search_duration_seconds",
			Help:      "Full-text search latency by index.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
		}, []string{"index"}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "engram",
			Name:      "conversation_evictions_total",
			Help:      "Conversations evicted from the active queue.",
		}),
		writeHalts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "engram",
			Name:      "write_halts_total",
			Help:      "Times a store entered the halted state after a rollback failure.",
		}),
	}
}

func (m *Metrics) Mutation(store, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(store, outcome).Inc()
	m.mutationDuration.WithLabelValues(store).Observe(d.Seconds())
}

func (m *Metrics) AnomalyRaised(anomalyType, severity string) {
	if m == nil {
		return
	}
	m.anomalies.WithLabelValues(anomalyType, severity).Inc()
}

func (m *Metrics) RoutingDecision(level string) {
	if m == nil {
		return
	}
	m.routingDecisions.WithLabelValues(level).Inc()
}

func (m *Metrics) Search(index string, d time.Duration) {
	if m == nil {
		return
	}
	m.searchDuration.WithLabelValues(index).Observe(d.Seconds())
}

func (m *Metrics) Eviction() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

func (m *Metrics) WriteHalt() {
	if m == nil {
		return
	}
	m.writeHalts.Inc()
}
