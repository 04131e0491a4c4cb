package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/ratchet/pkg/app"
	"mercator-hq/ratchet/pkg/cli"
	"mercator-hq/ratchet/pkg/config"
	"mercator-hq/ratchet/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile      string
	outputFormat string
	actorName    string
)

var rootCmd = &cobra.Command{
	Use:   "ratchet",
	Short: "Ratchet - retention and compliance-lock engine for backup copies",
	Long: `Ratchet decides what backup data may be deleted and when.

Each copy of a backup plan carries a retention rule, either a number of days
or a number of full backup cycles. Once a copy is locked its retention can
only be extended, the lock cannot be removed, and nothing inside the
retention window can be deleted. An aging scheduler prunes expired jobs, and
every accepted or rejected decision is recorded in an append-only audit log.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with a status from cli.ExitCode.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: built-in defaults and RATCHET_* environment)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format (text, json, csv)")
	rootCmd.PersistentFlags().StringVar(&actorName, "actor", defaultActor(), "identity recorded in the audit log")
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

// loadConfig reads --config with environment overrides and validates it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("", err.Error())
	}
	return cfg, nil
}

// openApp builds the engine for a one-shot command. The caller must Close
// it.
func openApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	// One-shot commands log only warnings so their output stays readable.
	if _, err := setupLogging(cfg, "warn"); err != nil {
		return nil, err
	}
	return app.Build(cfg)
}

// setupLogging installs the configured logger as the slog default.
// levelOverride, if set, replaces the configured level.
func setupLogging(cfg *config.Config, levelOverride string) (*logging.Logger, error) {
	level := cfg.Telemetry.Logging.Level
	if levelOverride != "" {
		level = levelOverride
	}
	logger, err := logging.New(logging.Config{
		Level:     level,
		Format:    cfg.Telemetry.Logging.Format,
		AddSource: cfg.Telemetry.Logging.AddSource,
		Writer:    os.Stderr,
	})
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger.Slog())
	return logger, nil
}

// commandContext returns the signal-aware context for a command, carrying
// the --actor identity.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, stop := cli.SignalContext(cmd.Context())
	return logging.WithActor(ctx, actorName), stop
}

// printResult renders v in the --output format.
func printResult(cmd *cobra.Command, v any) error {
	format, err := cli.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), v)
}
