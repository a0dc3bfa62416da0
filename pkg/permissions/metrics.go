package permissions

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus metrics.
type Metrics struct {
	ResolutionsTotal   *prometheus.CounterVec
	ResolutionDuration prometheus.Histogram

	EventsTotal *prometheus.CounterVec

	SweepRowsTotal   prometheus.Counter
	SweepErrorsTotal prometheus.Counter

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
}

// NewMetrics creates and registers the engine metrics on the given registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inkwell_permission_resolutions_total",
				Help: "Total permission resolutions by resolved level",
			},
			[]string{"level"},
		),
		ResolutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "inkwell_permission_resolution_duration_seconds",
				Help:    "Permission resolution duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inkwell_permission_events_total",
				Help: "Total materialized domain events by kind and outcome",
			},
			[]string{"event", "outcome"},
		),
		SweepRowsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "inkwell_permission_sweep_rows_total",
				Help: "Total expired grant rows removed by the sweeper",
			},
		),
		SweepErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "inkwell_permission_sweep_errors_total",
				Help: "Total expiry sweep failures",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "inkwell_permission_cache_hits_total",
				Help: "Total permission check cache hits",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "inkwell_permission_cache_misses_total",
				Help: "Total permission check cache misses",
			},
		),
	}

	registry.MustRegister(
		m.ResolutionsTotal,
		m.ResolutionDuration,
		m.EventsTotal,
		m.SweepRowsTotal,
		m.SweepErrorsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)
	return m
}

// ObserveResolution records one resolution.
func (m *Metrics) ObserveResolution(level PermissionLevel, elapsed time.Duration) {
	m.ResolutionsTotal.WithLabelValues(level.String()).Inc()
	m.ResolutionDuration.Observe(elapsed.Seconds())
}

// ObserveEvent records one materialized event.
func (m *Metrics) ObserveEvent(kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.EventsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveSweep records one sweep pass.
func (m *Metrics) ObserveSweep(removed int64, err error) {
	if err != nil {
		m.SweepErrorsTotal.Inc()
		return
	}
	m.SweepRowsTotal.Add(float64(removed))
}

// ObserveCache records a cache hit or miss.
func (m *Metrics) ObserveCache(hit bool) {
	if hit {
		m.CacheHitsTotal.Inc()
		return
	}
	m.CacheMissesTotal.Inc()
}
