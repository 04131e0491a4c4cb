package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"mercator-hq/ratchet/pkg/config"
	"mercator-hq/ratchet/pkg/retention"
	"mercator-hq/ratchet/pkg/retention/aging"
	"mercator-hq/ratchet/pkg/retention/lock"
	"mercator-hq/ratchet/pkg/security/auth"
	"mercator-hq/ratchet/pkg/telemetry/health"
	"mercator-hq/ratchet/pkg/telemetry/metrics"
)

// AgingRunner runs or previews an aging sweep on demand. *aging.Scheduler
// implements it.
type AgingRunner interface {
	RunNow(ctx context.Context) (*aging.Report, error)
	Preview(ctx context.Context) (*aging.Report, error)
}

// Deps are the components the admin API serves. Store, Audit and Locks are
// required; the rest are optional and their routes are not mounted when
// nil.
type Deps struct {
	Store   retention.PolicyStore
	Audit   retention.AuditLog
	Locks   *lock.Manager
	Aging   AgingRunner
	Health  *health.Checker
	Metrics *metrics.Collector
	Logger  *slog.Logger

	// Auth, if set, guards every /api route. X-Actor is then ignored and
	// the principal name is audited instead.
	Auth *auth.Middleware

	// TLS, if set, wraps the listener.
	TLS *tls.Config
}

// Server is the administrative HTTP API.
type Server struct {
	cfg    *config.Config
	deps   Deps
	logger *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	running    bool
}

// New creates an admin server. It does not listen until Start is called.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Audit == nil || deps.Locks == nil {
		return nil, errors.New("server requires a policy store, an audit log and a lock manager")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, deps: deps, logger: logger.With("component", "server")}, nil
}

// Handler returns the routed handler with its middleware chain.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// Start listens on server.listen_address and serves until ctx is done, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Server.ListenAddress, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		ln.Close()
		return errors.New("server is already running")
	}
	s.httpServer = &http.Server{
		Handler:        s.routes(),
		ReadTimeout:    s.cfg.Server.ReadTimeout,
		WriteTimeout:   s.cfg.Server.WriteTimeout,
		IdleTimeout:    s.cfg.Server.IdleTimeout,
		MaxHeaderBytes: s.cfg.Server.MaxHeaderBytes,
		BaseContext:    func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	srv := s.httpServer
	s.running = true
	s.mu.Unlock()

	if s.deps.TLS != nil {
		ln = tls.NewListener(ln, s.deps.TLS)
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("admin api listening",
			"address", ln.Addr().String(),
			"tls", s.deps.TLS != nil,
			"auth", s.deps.Auth != nil,
		)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		s.setStopped()
		if err != nil {
			return fmt.Errorf("admin api: %w", err)
		}
		return nil
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown stops accepting connections and waits for in-flight requests,
// bounded by server.shutdown_timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	running := s.running
	s.mu.Unlock()
	if !running || srv == nil {
		return nil
	}

	s.logger.Info("shutting down admin api", "timeout", s.cfg.Server.ShutdownTimeout.String())
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
	defer cancel()

	err := srv.Shutdown(ctx)
	s.setStopped()
	if err != nil {
		return fmt.Errorf("admin api shutdown: %w", err)
	}
	s.logger.Info("admin api stopped")
	return nil
}

// IsRunning reports whether the server is accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Server) setStopped() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}
