package metrics

import (
	"time"

	"mercator-hq/ratchet/pkg/config"
	"mercator-hq/ratchet/pkg/retention"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns every Prometheus metric Ratchet exports. It satisfies
// lock.Recorder and aging.Recorder so the LockManager and the sweeper can
// report without importing Prometheus.
//
// When the config disables metrics every Record call is a no-op.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	decisionMetrics *DecisionMetrics
	agingMetrics    *AgingMetrics
	requestMetrics  *RequestMetrics
}

// NewCollector creates a metrics collector. If registry is nil a fresh one
// is created.
//
// Example:
//
//	cfg := &config.MetricsConfig{Enabled: true}
//	collector := metrics.NewCollector(cfg, nil)
//	locks.SetRecorder(collector)
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = config.DefaultMetricsSubsystem
	}
	if len(cfg.SweepDurationBuckets) == 0 {
		cfg.SweepDurationBuckets = append([]float64(nil), config.DefaultSweepDurationBuckets...)
	}

	return &Collector{
		config:          cfg,
		registry:        registry,
		decisionMetrics: NewDecisionMetrics(cfg, registry),
		agingMetrics:    NewAgingMetrics(cfg, registry),
		requestMetrics:  NewRequestMetrics(cfg, registry),
	}
}

// RecordDecision records a LockManager outcome.
func (c *Collector) RecordDecision(operation string, result retention.Result, code retention.Code) {
	if !c.config.Enabled {
		return
	}
	c.decisionMetrics.RecordDecision(operation, result, code)
}

// RecordConflict records a compare-and-swap version conflict.
func (c *Collector) RecordConflict(operation string) {
	if !c.config.Enabled {
		return
	}
	c.decisionMetrics.RecordConflict(operation)
}

// RecordSweep records a finished aging sweep.
//
// Parameters:
//   - status: "completed", "canceled" or "failed"
//   - duration: wall time of the sweep
//   - copies: copies evaluated
func (c *Collector) RecordSweep(status string, duration time.Duration, copies int) {
	if !c.config.Enabled {
		return
	}
	c.agingMetrics.RecordSweep(status, duration, copies)
}

// RecordIntent records a deletion intent transition, for example
// ("job", "issued") or ("copy", "failed").
func (c *Collector) RecordIntent(kind, outcome string) {
	if !c.config.Enabled {
		return
	}
	c.agingMetrics.RecordIntent(kind, outcome)
}

// SetInFlight updates the in-flight intents gauge.
func (c *Collector) SetInFlight(n int) {
	if !c.config.Enabled {
		return
	}
	c.agingMetrics.SetInFlight(n)
}

// RecordRequest records a completed admin API request.
func (c *Collector) RecordRequest(route, method string, status int, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.requestMetrics.RecordRequest(route, method, status, duration)
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
