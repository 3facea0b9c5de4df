package permission

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the permission layer.
// A nil *Metrics records nothing.
type Metrics struct {
	CacheLookups    *prometheus.CounterVec
	ResolveTotal    *prometheus.CounterVec
	ResolveDuration prometheus.Histogram
	Invalidations   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pecora_permission_cache_lookups_total",
				Help: "Permission cache lookups by result",
			},
			[]string{"result"},
		),
		ResolveTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pecora_permission_resolve_total",
				Help: "Effective permission resolutions by outcome",
			},
			[]string{"outcome"},
		),
		ResolveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pecora_permission_resolve_duration_seconds",
				Help:    "Duration of effective permission resolutions",
				Buckets: prometheus.DefBuckets,
			},
		),
		Invalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pecora_permission_invalidations_total",
				Help: "Permission cache invalidations by kind",
			},
			[]string{"kind"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.CacheLookups, m.ResolveTotal, m.ResolveDuration, m.Invalidations)
	}
	return m
}

func (m *Metrics) lookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) resolved(start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ResolveTotal.WithLabelValues(outcome).Inc()
	m.ResolveDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) invalidated(kind string) {
	if m == nil {
		return
	}
	m.Invalidations.WithLabelValues(kind).Inc()
}
