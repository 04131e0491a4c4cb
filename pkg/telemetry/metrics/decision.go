package metrics

import (
	"mercator-hq/ratchet/pkg/config"
	"mercator-hq/ratchet/pkg/retention"

	"github.com/prometheus/client_golang/prometheus"
)

// DecisionMetrics tracks LockManager outcomes.
//
// Metrics:
//   - ratchet_retention_decisions_total: decisions by operation, result and rejection code
//   - ratchet_retention_cas_conflicts_total: compare-and-swap conflicts by operation
type DecisionMetrics struct {
	decisionsTotal *prometheus.CounterVec
	conflictsTotal *prometheus.CounterVec
}

// NewDecisionMetrics creates and registers decision metrics with the provided registry.
func NewDecisionMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *DecisionMetrics {
	dm := &DecisionMetrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "decisions_total",
				Help:      "Total number of retention and lock decisions",
			},
			[]string{"operation", "result", "code"},
		),

		conflictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "cas_conflicts_total",
				Help:      "Total number of compare-and-swap version conflicts",
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(dm.decisionsTotal, dm.conflictsTotal)
	return dm
}

// RecordDecision counts one final outcome. Accepted decisions carry an
// empty code.
func (dm *DecisionMetrics) RecordDecision(operation string, result retention.Result, code retention.Code) {
	dm.decisionsTotal.WithLabelValues(operation, string(result), string(code)).Inc()
}

// RecordConflict counts one lost compare-and-swap.
func (dm *DecisionMetrics) RecordConflict(operation string) {
	dm.conflictsTotal.WithLabelValues(operation).Inc()
}
