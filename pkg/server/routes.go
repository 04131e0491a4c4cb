package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverer)
	r.Use(requestID)
	r.Use(s.instrument)

	if s.deps.Health != nil && s.cfg.Telemetry.Health.Enabled {
		r.Get(s.cfg.Telemetry.Health.LivenessPath, s.deps.Health.LivenessHandler())
		r.Get(s.cfg.Telemetry.Health.ReadinessPath, s.deps.Health.ReadinessHandler())
	}
	if s.deps.Metrics != nil && s.cfg.Telemetry.Metrics.Enabled {
		r.Method(http.MethodGet, s.cfg.Telemetry.Metrics.Path, s.deps.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if s.deps.Auth != nil {
			r.Use(s.deps.Auth.Handle)
		}
		r.Use(actor)

		r.Route("/plans/{plan_id}", func(r chi.Router) {
			r.Post("/copies", s.createCopy)
			r.Get("/copies", s.listCopies)
			r.Delete("/", s.deletePlan)
		})
		r.Route("/copies/{copy_id}", func(r chi.Router) {
			r.Get("/", s.getCopy)
			r.Delete("/", s.deleteCopy)
			r.Post("/lock", s.enableLock)
			r.Delete("/lock", s.disableLock)
			r.Put("/retention", s.changeRetention)
			r.Put("/extended-retention", s.changeExtendedRetention)
			r.Delete("/jobs/{job_id}", s.deleteJob)
		})
		r.Get("/audit", s.queryAudit)
		if s.deps.Aging != nil {
			r.Get("/aging/preview", s.previewAging)
			r.Post("/aging/run", s.runAging)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Code: "RouteNotFound", Message: "no route for " + r.URL.Path})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Code: "MethodNotAllowed", Message: r.Method + " not allowed on " + r.URL.Path})
	})
	return r
}
