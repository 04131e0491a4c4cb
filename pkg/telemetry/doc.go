// Package telemetry groups Ratchet's observability packages.
//
//   - logging: structured slog logging with request, copy and actor context
//   - metrics: Prometheus metrics for decisions, sweeps and the admin API
//   - health: liveness and readiness probes over the configured backends
package telemetry
