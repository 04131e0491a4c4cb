package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/ratchet/pkg/cli"
	"mercator-hq/ratchet/pkg/retention"
	"mercator-hq/ratchet/pkg/retention/lock"
)

var jobFlags struct {
	created string
	cycle   uint64
	full    bool
}

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Edit the job catalog and prune jobs",
}

var jobAddCmd = &cobra.Command{
	Use:   "add COPY_ID JOB_ID --cycle N",
	Short: "Register a backup job in the catalog",
	Long: `Register a job in the job catalog. The catalog is normally fed by the
backup pipeline; this command exists for operators and testing.

Examples:
  ratchet job add c1 j-0142 --cycle 12 --full
  ratchet job add c1 j-0143 --cycle 12 --created 2026-04-02T01:00:00Z`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		created := time.Now().UTC()
		if jobFlags.created != "" {
			t, err := time.Parse(time.RFC3339, jobFlags.created)
			if err != nil {
				return cli.NewConfigError("created", err.Error())
			}
			created = t
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := commandContext(cmd)
		defer stop()

		job := retention.Job{
			JobID:       args[1],
			CopyID:      args[0],
			CreatedAt:   created,
			CycleNumber: jobFlags.cycle,
			IsFull:      jobFlags.full,
		}
		if err := a.Catalog.Add(ctx, job); err != nil {
			return cli.NewCommandError("job add", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s/%s added (cycle %d)\n", job.CopyID, job.JobID, job.CycleNumber)
		return nil
	},
}

var jobDeleteCmd = &cobra.Command{
	Use:   "delete COPY_ID JOB_ID",
	Short: "Record the deletion of an expired job",
	Long: `Record that a job was deleted. The request is refused while the job is
inside its copy's retention window.`,
	Args: cobra.ExactArgs(2),
	RunE: mutation(func(ctx context.Context, l *lock.Manager, args []string, opts []lock.Option) (uint64, error) {
		return l.DeleteJob(ctx, args[0], args[1], opts...)
	}),
}

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(jobAddCmd, jobDeleteCmd)

	jobAddCmd.Flags().StringVar(&jobFlags.created, "created", "", "job creation time, RFC 3339 (default: now)")
	jobAddCmd.Flags().Uint64Var(&jobFlags.cycle, "cycle", 0, "full backup cycle the job belongs to (required)")
	jobAddCmd.Flags().BoolVar(&jobFlags.full, "full", false, "the job is a full backup")
	_ = jobAddCmd.MarkFlagRequired("cycle")

	jobDeleteCmd.Flags().Uint64Var(&copyFlags.expectVersion, "expect-version", 0, "fail unless the copy is at this version")
}
