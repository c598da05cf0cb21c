// Package metrics exposes Prometheus collectors for the sync engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the engine collectors on a private registry. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	refreshes       *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
	tasks           prometheus.Gauge
	commits         prometheus.Counter
	persistFailures prometheus.Counter
	crossSync       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmerge_source_refreshes_total",
			Help: "Source loads and refreshes by outcome",
		}, []string{"source", "result"}),
		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskmerge_source_refresh_duration_seconds",
			Help:    "Time spent fetching a source snapshot",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"source"}),
		tasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskmerge_tasks",
			Help: "Tasks in the canonical collection",
		}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskmerge_commits_total",
			Help: "Commits that changed the canonical collection",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskmerge_persist_failures_total",
			Help: "Failed attempts to persist the collection",
		}),
		crossSync: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmerge_cross_source_entities_total",
			Help: "Cross-source entities processed by outcome",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(m.refreshes, m.refreshDuration, m.tasks, m.commits, m.persistFailures, m.crossSync)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Refresh(source string, ok bool, seconds float64) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.refreshes.WithLabelValues(source, result).Inc()
	m.refreshDuration.WithLabelValues(source).Observe(seconds)
}

func (m *Metrics) Committed(tasks int) {
	if m == nil {
		return
	}
	m.commits.Inc()
	m.tasks.Set(float64(tasks))
}

func (m *Metrics) PersistFailed() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

// CrossSync records one entity outcome: "converged", "flagged" or "failed".
func (m *Metrics) CrossSync(outcome string) {
	if m == nil {
		return
	}
	m.crossSync.WithLabelValues(outcome).Inc()
}
