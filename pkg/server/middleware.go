package server

import (
	"net/http"
	"runtime/debug"
	"time"

	"mercator-hq/ratchet/pkg/security/auth"
	"mercator-hq/ratchet/pkg/telemetry/logging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Header names understood by the admin API.
const (
	RequestIDHeader = "X-Request-ID"
	ActorHeader     = "X-Actor"
)

// requestID propagates or assigns a request ID and adds it to the log
// context.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

// actor stores the caller identity in the context: the authenticated
// principal when auth is on, X-Actor otherwise. The LockManager reads it
// from there when no explicit actor option is given.
func actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := auth.PrincipalFromContext(r.Context()); ok {
			r = r.WithContext(logging.WithActor(r.Context(), p.Name))
		} else if a := r.Header.Get(ActorHeader); a != "" {
			r = r.WithContext(logging.WithActor(r.Context(), a))
		}
		next.ServeHTTP(w, r)
	})
}

// instrument logs every request and records it under its route pattern,
// which keeps the metric labels bounded.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)

		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordRequest(route, r.Method, status, elapsed)
		}

		level := slogLevel(status)
		s.logger.Log(r.Context(), level, "request completed",
			"method", r.Method,
			"route", route,
			"status", status,
			"latency_ms", elapsed.Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// recoverer turns a handler panic into a 500 JSON error.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.ErrorContext(r.Context(), "panic in handler",
					"error", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				writeJSON(w, http.StatusInternalServerError, errorBody{Code: "Internal", Message: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
