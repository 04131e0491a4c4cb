// Package health implements the liveness and readiness probes of the
// Ratchet admin server.
//
// Liveness only proves the process is scheduling goroutines. Readiness pings
// every registered backend (policy store, audit log, job catalog) with a
// per-check timeout and answers 503 if any of them fails:
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.RegisterPinger("store", policyStore)
//	checker.RegisterPinger("audit", auditLog)
//	router.Get(cfg.Telemetry.Health.LivenessPath, checker.LivenessHandler())
//	router.Get(cfg.Telemetry.Health.ReadinessPath, checker.ReadinessHandler())
package health
