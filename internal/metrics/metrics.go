// Package metrics exposes ingestion counters on a private Prometheus
// registry, flushed to a node-exporter textfile by the CLI.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	registry *prometheus.Registry

	RunsTotal        *prometheus.CounterVec
	ItemsIngested    *prometheus.CounterVec
	WarningsTotal    *prometheus.CounterVec
	IngestionSeconds *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderintake_runs_total",
				Help: "Ingestion runs by result and failing stage",
			},
			[]string{"result", "stage"},
		),
		ItemsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderintake_items_total",
				Help: "Order items emitted by successful runs",
			},
			[]string{"format_type"},
		),
		WarningsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderintake_row_warnings_total",
				Help: "Rows excluded or flagged during extraction",
			},
			[]string{"reason"},
		),
		IngestionSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orderintake_ingestion_duration_seconds",
				Help:    "Wall time of a single-file ingestion run",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"result"},
		),
	}
	m.registry.MustRegister(m.RunsTotal, m.ItemsIngested, m.WarningsTotal, m.IngestionSeconds)
	return m
}

func (m *Metrics) ObserveSuccess(formatType string, items int, warnings map[string]int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues("success", "").Inc()
	m.ItemsIngested.WithLabelValues(formatType).Add(float64(items))
	for reason, n := range warnings {
		m.WarningsTotal.WithLabelValues(reason).Add(float64(n))
	}
	m.IngestionSeconds.WithLabelValues("success").Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveFailure(stage string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues("failed", stage).Inc()
	m.IngestionSeconds.WithLabelValues("failed").Observe(elapsed.Seconds())
}

func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteTextfile writes the current samples in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
