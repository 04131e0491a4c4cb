// Package metrics provides Prometheus metrics for Ratchet.
//
// # Metrics
//
// Decisions (LockManager):
//
//   - ratchet_retention_decisions_total{operation,result,code}
//   - ratchet_retention_cas_conflicts_total{operation}
//
// Aging:
//
//   - ratchet_retention_sweeps_total{status}
//   - ratchet_retention_sweep_duration_seconds
//   - ratchet_retention_copies_evaluated_total
//   - ratchet_retention_intents_total{kind,outcome}
//   - ratchet_retention_intents_in_flight
//
// Admin API:
//
//   - ratchet_retention_http_requests_total{route,method,status}
//   - ratchet_retention_http_request_duration_seconds{route,method}
//
// Every label takes values from a closed set (operation names, rejection
// codes, route patterns), so no cardinality limiting is applied.
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	locks.SetRecorder(collector)
//	sweeper.SetRecorder(collector)
//	router.Handle("/metrics", collector.Handler())
package metrics
