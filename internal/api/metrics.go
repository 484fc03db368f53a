package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "emily"

// Metrics holds the prometheus collectors of the client.
type Metrics struct {
	registry *prometheus.Registry

	// Requests counts backend requests by endpoint and outcome.
	Requests *prometheus.CounterVec
	// Duration observes backend request latency by endpoint.
	Duration *prometheus.HistogramVec
	// CacheLookups counts profile cache lookups by result.
	CacheLookups *prometheus.CounterVec
	// OverdueLeads is the last computed overdue lead count.
	OverdueLeads prometheus.Gauge
}

// NewMetrics creates the collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of backend requests",
			},
			[]string{"endpoint", "outcome"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "Backend request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "profile_cache_lookups_total",
				Help:      "Total number of profile cache lookups",
			},
			[]string{"result"},
		),
		OverdueLeads: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "overdue_leads",
				Help:      "Number of leads with an overdue follow-up",
			},
		),
	}
	m.registry.MustRegister(
		m.Requests,
		m.Duration,
		m.CacheLookups,
		m.OverdueLeads,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
