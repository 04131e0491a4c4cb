package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"mercator-hq/ratchet/pkg/config"
	"mercator-hq/ratchet/pkg/retention"
	"mercator-hq/ratchet/pkg/retention/aging"
	"mercator-hq/ratchet/pkg/retention/jobs"
	"mercator-hq/ratchet/pkg/retention/lock"
	"mercator-hq/ratchet/pkg/security/auth"
	"mercator-hq/ratchet/pkg/security/secrets"
	sectls "mercator-hq/ratchet/pkg/security/tls"
	"mercator-hq/ratchet/pkg/server"
	"mercator-hq/ratchet/pkg/telemetry/health"
	"mercator-hq/ratchet/pkg/telemetry/metrics"
)

// App is a fully wired retention engine: backends, LockManager, aging and
// telemetry, built from one configuration.
type App struct {
	Config *config.Config

	Audit   retention.AuditLog
	Store   retention.PolicyStore
	Catalog JobCatalog

	// Jobs is the read path used by the engine. It coalesces concurrent
	// catalog reads when jobs.coalesce is set.
	Jobs retention.JobSource

	Locks     *lock.Manager
	Sweeper   *aging.Sweeper
	Scheduler *aging.Scheduler
	Health    *health.Checker
	Metrics   *metrics.Collector

	// Auth guards the admin API when server.auth is enabled.
	Auth *auth.Middleware
	keys *auth.KeyValidator

	// Certs is set by Server when server.tls is enabled.
	Certs *sectls.CertificateReloader

	// Secrets resolves ${secret:name} references in API keys and the
	// webhook token.
	Secrets     *secrets.Resolver
	secretFiles *secrets.FileProvider

	// mu guards Config against concurrent reloads.
	mu      sync.Mutex
	closers []func() error
}

// Build opens every backend named in cfg and wires the engine. On error,
// whatever was already opened is closed.
func Build(cfg *config.Config) (a *App, err error) {
	a = &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	ctx := context.Background()
	if a.Secrets, a.secretFiles, err = NewSecretResolver(cfg.Secrets); err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}

	if a.Audit, err = NewAuditLog(cfg.Audit); err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}
	a.closers = append(a.closers, a.Audit.Close)

	if a.Store, err = NewPolicyStore(cfg.Store, a.Audit); err != nil {
		return nil, fmt.Errorf("policy store: %w", err)
	}
	a.closers = append(a.closers, a.Store.Close)

	if a.Catalog, err = NewJobCatalog(cfg.Jobs); err != nil {
		return nil, fmt.Errorf("job catalog: %w", err)
	}
	if c, ok := a.Catalog.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}
	a.Jobs = a.Catalog
	if cfg.Jobs.Coalesce {
		a.Jobs = jobs.NewCoalescing(a.Catalog)
	}

	dc := cfg.Aging.Deleter
	if dc.WebhookToken, err = a.Secrets.Resolve(ctx, dc.WebhookToken); err != nil {
		return nil, fmt.Errorf("deleter: webhook token: %w", err)
	}
	deleter, err := NewDeleter(dc)
	if err != nil {
		return nil, fmt.Errorf("deleter: %w", err)
	}

	a.Locks = lock.NewManager(a.Store, a.Jobs, a.Audit, lock.Config{MaxRetries: cfg.Retention.CASMaxRetries})
	a.Sweeper = aging.NewSweeper(a.Store, a.Jobs, a.Locks, deleter, aging.Config{
		Interval:          cfg.Aging.Interval,
		Schedule:          cfg.Aging.Schedule,
		DeleteEmptyCopies: cfg.Aging.DeleteEmptyCopies,
	})
	a.Scheduler = aging.NewScheduler(a.Sweeper)
	if !cfg.Aging.Enabled {
		a.Scheduler.Pause()
	}

	a.Metrics = metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
	a.Locks.SetRecorder(a.Metrics)
	a.Sweeper.SetRecorder(a.Metrics)

	a.Health = health.New(cfg.Telemetry.Health.CheckTimeout)
	a.Health.RegisterPinger("store", a.Store)
	a.Health.RegisterPinger("audit", a.Audit)
	if p, ok := a.Catalog.(health.Pinger); ok {
		a.Health.RegisterPinger("jobs", p)
	}

	if cfg.Server.Auth.Enabled {
		keys, err := a.apiKeys(ctx, cfg.Server.Auth.Keys)
		if err != nil {
			return nil, fmt.Errorf("server.auth: %w", err)
		}
		a.keys = auth.NewKeyValidator(keys)
		a.Auth = auth.NewMiddleware(a.keys, nil)
	}

	return a, nil
}

// Server creates the admin API over this engine. With server.tls enabled
// it loads the certificate and adds it to the readiness checks.
func (a *App) Server(logger *slog.Logger) (*server.Server, error) {
	deps := server.Deps{
		Store:   a.Store,
		Audit:   a.Audit,
		Locks:   a.Locks,
		Aging:   a.Scheduler,
		Health:  a.Health,
		Metrics: a.Metrics,
		Logger:  logger,
		Auth:    a.Auth,
	}

	if tc := a.Config.Server.TLS; tc.Enabled {
		a.Certs = sectls.NewCertificateReloader(tc.CertFile, tc.KeyFile, tc.ReloadInterval)
		if err := a.Certs.Load(); err != nil {
			return nil, fmt.Errorf("tls: %w", err)
		}
		a.Health.RegisterPinger("tls", a.Certs)
		deps.TLS = sectls.NewServerConfig(a.Certs, tc.MinVersion)
	}
	return server.New(a.Config, deps)
}

// apiKeys resolves the configured keys. A key given as a secret reference
// is held to the same minimum length once resolved.
func (a *App) apiKeys(ctx context.Context, cfg []config.APIKeyConfig) ([]auth.Key, error) {
	keys := make([]auth.Key, 0, len(cfg))
	for _, k := range cfg {
		secret, err := a.Secrets.Resolve(ctx, k.Key)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", k.Name, err)
		}
		if len(secret) < config.MinAPIKeyLength {
			return nil, fmt.Errorf("key %s: must be at least %d characters", k.Name, config.MinAPIKeyLength)
		}
		keys = append(keys, auth.Key{
			Principal: auth.Principal{Name: k.Name, ReadOnly: k.ReadOnly},
			Secret:    secret,
			Enabled:   !k.Disabled,
		})
	}
	return keys, nil
}

// RefreshKeys re-resolves the configured API keys and replaces the
// accepted set. On error the current keys stay in place.
func (a *App) RefreshKeys(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshKeys(ctx, a.Config.Server.Auth)
}

func (a *App) refreshKeys(ctx context.Context, cfg config.AuthConfig) error {
	if a.keys == nil || !cfg.Enabled {
		return nil
	}
	keys, err := a.apiKeys(ctx, cfg.Keys)
	if err != nil {
		return err
	}
	a.keys.Replace(keys)
	return nil
}

// ApplyConfig applies the settings that can change without a restart:
// aging.enabled pauses or resumes the scheduler and server.auth.keys
// replaces the accepted API keys. Everything else needs a restart and is
// only reported. Keys that fail to resolve leave the current set in place
// and report "server.auth".
func (a *App) ApplyConfig(next *config.Config) (restartNeeded []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev := a.Config
	if next.Aging.Enabled != prev.Aging.Enabled {
		if next.Aging.Enabled {
			a.Scheduler.Resume()
		} else {
			a.Scheduler.Pause()
		}
	}
	if err := a.refreshKeys(context.Background(), next.Server.Auth); err != nil {
		slog.Default().Warn("keeping current API keys", "error", err)
		restartNeeded = append(restartNeeded, "server.auth")
	}

	prevServer, nextServer := prev.Server, next.Server
	prevServer.Auth.Keys, nextServer.Auth.Keys = nil, nil
	if !reflect.DeepEqual(prevServer, nextServer) {
		restartNeeded = append(restartNeeded, "server")
	}
	if next.Store != prev.Store {
		restartNeeded = append(restartNeeded, "store")
	}
	if next.Audit != prev.Audit {
		restartNeeded = append(restartNeeded, "audit")
	}
	if next.Jobs != prev.Jobs {
		restartNeeded = append(restartNeeded, "jobs")
	}
	if next.Aging.Interval != prev.Aging.Interval || next.Aging.Schedule != prev.Aging.Schedule ||
		next.Aging.DeleteEmptyCopies != prev.Aging.DeleteEmptyCopies || next.Aging.Deleter != prev.Aging.Deleter {
		restartNeeded = append(restartNeeded, "aging")
	}
	if next.Secrets != prev.Secrets {
		restartNeeded = append(restartNeeded, "secrets")
	}
	a.Config = next
	return restartNeeded
}

// Shutdown stops the scheduler, waits for in-flight deletion intents to be
// recorded (bounded by ctx) and closes the backends.
func (a *App) Shutdown(ctx context.Context) error {
	a.Scheduler.Stop()
	waitErr := a.Sweeper.Wait(ctx)
	if waitErr != nil {
		waitErr = fmt.Errorf("%d deletion intent(s) still in flight: %w", len(a.Sweeper.InFlight()), waitErr)
	}
	return errors.Join(waitErr, a.Close())
}

// Close closes the backends in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
