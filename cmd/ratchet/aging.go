package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/ratchet/pkg/cli"
	"mercator-hq/ratchet/pkg/retention/aging"
)

var agingCmd = &cobra.Command{
	Use:   "aging",
	Short: "Preview or run an aging sweep",
}

var agingPreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show what the next sweep would delete, without issuing anything",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sweep(cmd, true)
	},
}

var agingRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one sweep and wait for its deletions to be recorded",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sweep(cmd, false)
	},
}

func init() {
	rootCmd.AddCommand(agingCmd)
	agingCmd.AddCommand(agingPreviewCmd, agingRunCmd)
}

func sweep(cmd *cobra.Command, dryRun bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := commandContext(cmd)
	defer stop()

	var report *aging.Report
	if dryRun {
		report, err = a.Sweeper.Preview(ctx)
	} else {
		report, err = a.Sweeper.Sweep(ctx)
	}
	if err != nil {
		return cli.NewCommandError("aging", err)
	}
	if !dryRun {
		if err := a.Sweeper.Wait(ctx); err != nil {
			return cli.NewCommandError("aging", fmt.Errorf("waiting for deletions: %w", err))
		}
	}

	view := sweepReport(*report)
	if outputFormat == string(cli.FormatText) {
		fmt.Fprint(cmd.OutOrStdout(), view.summary())
	}
	return printResult(cmd, view)
}
