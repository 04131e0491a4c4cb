package metrics

import (
	"time"

	"mercator-hq/ratchet/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// AgingMetrics tracks the aging sweep.
//
// Metrics:
//   - ratchet_retention_sweeps_total: sweeps by final status
//   - ratchet_retention_sweep_duration_seconds: sweep duration
//   - ratchet_retention_copies_evaluated_total: copies evaluated across sweeps
//   - ratchet_retention_intents_total: deletion intents by kind and outcome
//   - ratchet_retention_intents_in_flight: intents awaiting a collaborator report
type AgingMetrics struct {
	sweepsTotal     *prometheus.CounterVec
	sweepDuration   prometheus.Histogram
	copiesEvaluated prometheus.Counter
	intentsTotal    *prometheus.CounterVec
	inFlight        prometheus.Gauge
}

// NewAgingMetrics creates and registers aging metrics with the provided registry.
func NewAgingMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *AgingMetrics {
	am := &AgingMetrics{
		sweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "sweeps_total",
				Help:      "Total number of aging sweeps",
			},
			[]string{"status"},
		),

		sweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "sweep_duration_seconds",
				Help:      "Duration of aging sweeps in seconds",
				Buckets:   cfg.SweepDurationBuckets,
			},
		),

		copiesEvaluated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "copies_evaluated_total",
				Help:      "Total number of copies evaluated by aging sweeps",
			},
		),

		intentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "intents_total",
				Help:      "Total number of deletion intents by outcome",
			},
			[]string{"kind", "outcome"},
		),

		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "intents_in_flight",
				Help:      "Deletion intents awaiting a collaborator report",
			},
		),
	}

	registry.MustRegister(
		am.sweepsTotal,
		am.sweepDuration,
		am.copiesEvaluated,
		am.intentsTotal,
		am.inFlight,
	)
	return am
}

// RecordSweep records a finished sweep.
func (am *AgingMetrics) RecordSweep(status string, duration time.Duration, copies int) {
	am.sweepsTotal.WithLabelValues(status).Inc()
	am.sweepDuration.Observe(duration.Seconds())
	am.copiesEvaluated.Add(float64(copies))
}

// RecordIntent counts an intent transition.
func (am *AgingMetrics) RecordIntent(kind, outcome string) {
	am.intentsTotal.WithLabelValues(kind, outcome).Inc()
}

// SetInFlight sets the number of intents awaiting a report.
func (am *AgingMetrics) SetInFlight(n int) {
	am.inFlight.Set(float64(n))
}
