package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Manage backup plans",
}

var planDeleteCmd = &cobra.Command{
	Use:   "delete PLAN_ID",
	Short: "Delete every copy of a plan, or none of them",
	Long: `Delete all copies of a plan in one step. If any copy still retains a
job the whole request is refused and no copy is deleted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := commandContext(cmd)
		defer stop()

		if err := a.Locks.DeletePlan(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "plan %s deleted\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.AddCommand(planDeleteCmd)
}
