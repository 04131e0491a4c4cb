package app

import (
	"context"
	"errors"
	"time"

	"mercator-hq/ratchet/pkg/config"
	"mercator-hq/ratchet/pkg/telemetry/logging"

	"golang.org/x/sync/errgroup"
)

// secretsDebounce coalesces the several events a secret rotation makes.
const secretsDebounce = 500 * time.Millisecond

// RunOptions configure Run.
type RunOptions struct {
	// ConfigPath is watched for changes when the configuration sets watch.
	ConfigPath string

	// Logger receives level changes on reload. Required.
	Logger *logging.Logger
}

// Run serves the admin API and runs the aging scheduler and the config
// watcher until ctx is canceled or one of them fails. The app is shut down
// before Run returns.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	logger := opts.Logger.Slog()
	srv, err := a.Server(logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })

	if err := a.Scheduler.Start(gctx); err != nil {
		cancel()
		g.Wait()
		return errors.Join(err, a.shutdown())
	}
	if a.Certs != nil {
		g.Go(func() error { return a.Certs.Run(gctx) })
	}
	if a.Scheduler.Paused() {
		logger.Info("aging is disabled; sweeps run only on demand")
	}

	if a.Config.Secrets.Watch && a.secretFiles != nil && a.keys != nil {
		g.Go(func() error {
			return a.secretFiles.Watch(gctx, secretsDebounce, func() {
				if err := a.RefreshKeys(gctx); err != nil {
					logger.Warn("keeping current API keys after secret change", "error", err)
					return
				}
				logger.Info("API keys reloaded from secrets")
			})
		})
	}

	if a.Config.Watch && opts.ConfigPath != "" {
		w := config.NewWatcher(opts.ConfigPath, a.Config, func(prev, next *config.Config) {
			a.reload(opts.Logger, next)
		})
		g.Go(func() error { return w.Watch(gctx) })
	}

	err = g.Wait()
	return errors.Join(err, a.shutdown())
}

func (a *App) reload(logger *logging.Logger, next *config.Config) {
	if err := logger.SetLevel(next.Telemetry.Logging.Level); err != nil {
		logger.Slog().Warn("ignoring log level from reloaded config", "error", err)
	}
	if restart := a.ApplyConfig(next); len(restart) > 0 {
		logger.Slog().Warn("configuration changes need a restart to take effect", "sections", restart)
	}
	logger.Slog().Info("configuration reloaded",
		"aging_enabled", next.Aging.Enabled,
		"log_level", next.Telemetry.Logging.Level,
	)
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()
	return a.Shutdown(ctx)
}
