package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"mercator-hq/ratchet/pkg/app"
	"mercator-hq/ratchet/pkg/cli"
	"mercator-hq/ratchet/pkg/config"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Serve the admin API and run the aging scheduler",
	Long: `Open the configured backends, serve the administrative API, health
probes and metrics, and run the aging scheduler until interrupted.

With watch: true in the config file, edits to aging.enabled and
telemetry.logging.level apply without a restart.

Examples:
  # Start with a config file
  ratchet run --config /etc/ratchet/config.yaml

  # Override the listen address
  ratchet run --listen 0.0.0.0:8420

  # Validate config and open the backends without serving
  ratchet run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "open the backends and exit")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	config.SetConfig(cfg)

	logger, err := setupLogging(cfg, "")
	if err != nil {
		return err
	}

	a, err := app.Build(cfg)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer a.Close()

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "configuration valid, backends opened")
		return nil
	}

	slog.Info("starting ratchet",
		"version", Version,
		"listen_address", cfg.Server.ListenAddress,
		"store", cfg.Store.Backend,
		"audit", cfg.Audit.Backend,
		"jobs", cfg.Jobs.Backend,
		"aging_enabled", cfg.Aging.Enabled,
		"deleter", cfg.Aging.Deleter.Type,
	)

	ctx, stop := cli.SignalContext(cmd.Context())
	defer stop()

	if err := a.Run(ctx, app.RunOptions{ConfigPath: cfgFile, Logger: logger}); err != nil {
		return cli.NewCommandError("run", err)
	}
	slog.Info("ratchet stopped")
	return nil
}
