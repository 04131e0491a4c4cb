package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/ratchet/pkg/cli"
	"mercator-hq/ratchet/pkg/retention"
	"mercator-hq/ratchet/pkg/retention/lock"
)

var copyFlags struct {
	plan          string
	copyType      string
	days          uint32
	cycles        uint32
	locked        bool
	poolLock      bool
	extended      []string
	expectVersion uint64
}

var copyCmd = &cobra.Command{
	Use:   "copy",
	Short: "Manage copies and their retention locks",
	Long: `Create, inspect and change copies of a backup plan.

Mutations accept --expect-version to pin the copy version they were decided
against; a stale version fails instead of being retried.`,
}

var copyCreateCmd = &cobra.Command{
	Use:   "create COPY_ID --plan PLAN",
	Short: "Create a copy",
	Long: `Create a copy in a plan. Without --days or --cycles the copy gets the
configured default of retention.plan_default_days.

Examples:
  ratchet copy create c1 --plan nightly --days 30
  ratchet copy create worm-1 --plan nightly --cycles 4 --type secondary --locked
  ratchet copy create vault --plan nightly --days 30 --locked --pool-lock --rule monthly=365`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		rule := ruleFromFlags(retention.Days(a.Config.Retention.PlanDefaultDays))
		extended, err := parseExtended(copyFlags.extended)
		if err != nil {
			return err
		}
		lockState := retention.LockState{Locked: copyFlags.locked || copyFlags.poolLock}
		if copyFlags.poolLock {
			lockState.Source = retention.LockSourcePool
		}
		ctx, stop := commandContext(cmd)
		defer stop()

		c, err := a.Store.CreateCopy(ctx, retention.Copy{
			CopyID:        args[0],
			PlanID:        copyFlags.plan,
			CopyType:      retention.CopyType(copyFlags.copyType),
			RetentionRule: rule,
			ExtendedRules: extended,
			LockState:     lockState,
		}, actorName)
		if err != nil {
			return err
		}
		return printResult(cmd, versionResult{CopyID: c.CopyID, Version: c.Version})
	},
}

var copyGetCmd = &cobra.Command{
	Use:   "get COPY_ID",
	Short: "Show a copy and the retention verdict for each of its jobs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := commandContext(cmd)
		defer stop()

		in, err := a.Locks.Inspect(ctx, args[0])
		if err != nil {
			return err
		}
		view := inspection(in)
		if outputFormat == string(cli.FormatText) {
			fmt.Fprintln(cmd.OutOrStdout(), view.summary())
		}
		return printResult(cmd, view)
	},
}

var copyListCmd = &cobra.Command{
	Use:   "list --plan PLAN",
	Short: "List the copies of a plan",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := commandContext(cmd)
		defer stop()

		var copies copyList
		for c, err := range a.Store.ListCopies(ctx, copyFlags.plan) {
			if err != nil {
				return err
			}
			copies = append(copies, c)
		}
		return printResult(cmd, copies)
	},
}

var copyLockCmd = &cobra.Command{
	Use:   "lock COPY_ID",
	Short: "Lock a copy; the lock can never be removed",
	Args:  cobra.ExactArgs(1),
	RunE: mutation(func(ctx context.Context, l *lock.Manager, args []string, opts []lock.Option) (uint64, error) {
		if copyFlags.poolLock {
			opts = append(opts, lock.WithLockSource(retention.LockSourcePool))
		}
		return l.EnableLock(ctx, args[0], opts...)
	}),
}

var copyUnlockCmd = &cobra.Command{
	Use:   "unlock COPY_ID",
	Short: "Request removal of a lock (always refused for locked copies)",
	Args:  cobra.ExactArgs(1),
	RunE: mutation(func(ctx context.Context, l *lock.Manager, args []string, opts []lock.Option) (uint64, error) {
		return l.DisableLock(ctx, args[0], opts...)
	}),
}

var copyRetentionCmd = &cobra.Command{
	Use:   "retention COPY_ID (--days N | --cycles N)",
	Short: "Change the retention of a copy",
	Long: `Change the retention rule of a copy. On a locked copy the rule must keep
its kind and may only grow.

Examples:
  ratchet copy retention c1 --days 45
  ratchet copy retention c1 --cycles 6 --expect-version 3`,
	Args: cobra.ExactArgs(1),
	RunE: mutation(func(ctx context.Context, l *lock.Manager, args []string, opts []lock.Option) (uint64, error) {
		rule := ruleFromFlags(retention.RetentionRule{})
		if rule == (retention.RetentionRule{}) {
			return 0, cli.NewConfigError("retention", "one of --days or --cycles is required")
		}
		return l.ChangeRetention(ctx, args[0], rule, opts...)
	}),
}

var copyExtendedCmd = &cobra.Command{
	Use:   "extended COPY_ID [--rule FREQUENCY=DAYS]...",
	Short: "Replace the extended retention rules of a copy",
	Long: `Replace the extended retention rules of a copy. Each rule keeps the first
full job of every period for a number of days after the base retention has
let it go. Frequencies: all_fulls, weekly, monthly, quarterly, half_yearly,
yearly. Without --rule the rules are removed.

On a locked copy every existing rule must be kept with at least as many days.

Examples:
  ratchet copy extended c1 --rule monthly=365 --rule yearly=3650
  ratchet copy extended c1 --rule "Quarterly Fulls=730" --expect-version 4`,
	Args: cobra.ExactArgs(1),
	RunE: mutation(func(ctx context.Context, l *lock.Manager, args []string, opts []lock.Option) (uint64, error) {
		rules, err := parseExtended(copyFlags.extended)
		if err != nil {
			return 0, err
		}
		return l.ChangeExtendedRetention(ctx, args[0], rules, opts...)
	}),
}

var copyDeleteCmd = &cobra.Command{
	Use:   "delete COPY_ID",
	Short: "Delete a copy once none of its jobs is retained",
	Args:  cobra.ExactArgs(1),
	RunE: mutation(func(ctx context.Context, l *lock.Manager, args []string, opts []lock.Option) (uint64, error) {
		return 0, l.DeleteCopy(ctx, args[0], opts...)
	}),
}

func init() {
	rootCmd.AddCommand(copyCmd)
	copyCmd.AddCommand(copyCreateCmd, copyGetCmd, copyListCmd, copyLockCmd, copyUnlockCmd,
		copyRetentionCmd, copyExtendedCmd, copyDeleteCmd)

	copyCreateCmd.Flags().StringVar(&copyFlags.plan, "plan", "", "plan the copy belongs to (required)")
	copyCreateCmd.Flags().StringVar(&copyFlags.copyType, "type", string(retention.CopyTypePrimary), "copy type (primary, primary_snap, secondary)")
	copyCreateCmd.Flags().BoolVar(&copyFlags.locked, "locked", false, "create the copy already locked")
	copyCreateCmd.Flags().BoolVar(&copyFlags.poolLock, "pool-lock", false, "create the copy locked by its WORM storage pool")
	copyLockCmd.Flags().BoolVar(&copyFlags.poolLock, "pool", false, "record the lock as applied by the storage pool")
	for _, c := range []*cobra.Command{copyCreateCmd, copyExtendedCmd} {
		c.Flags().StringArrayVar(&copyFlags.extended, "rule", nil, "extended retention rule as FREQUENCY=DAYS (repeatable)")
	}
	_ = copyCreateCmd.MarkFlagRequired("plan")

	copyListCmd.Flags().StringVar(&copyFlags.plan, "plan", "", "plan to list (required)")
	_ = copyListCmd.MarkFlagRequired("plan")

	for _, c := range []*cobra.Command{copyCreateCmd, copyRetentionCmd} {
		c.Flags().Uint32Var(&copyFlags.days, "days", 0, "keep jobs for N days")
		c.Flags().Uint32Var(&copyFlags.cycles, "cycles", 0, "keep the last N full backup cycles")
		c.MarkFlagsMutuallyExclusive("days", "cycles")
	}
	for _, c := range []*cobra.Command{copyLockCmd, copyUnlockCmd, copyRetentionCmd, copyExtendedCmd, copyDeleteCmd} {
		c.Flags().Uint64Var(&copyFlags.expectVersion, "expect-version", 0, "fail unless the copy is at this version")
	}
}

// mutation adapts a LockManager call into a RunE that opens the engine,
// applies --actor and --expect-version, and prints the new version.
func mutation(op func(ctx context.Context, l *lock.Manager, args []string, opts []lock.Option) (uint64, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := commandContext(cmd)
		defer stop()

		var opts []lock.Option
		if copyFlags.expectVersion > 0 {
			opts = append(opts, lock.WithExpectedVersion(copyFlags.expectVersion))
		}
		version, err := op(ctx, a.Locks, args, opts)
		if err != nil {
			return err
		}
		return printResult(cmd, versionResult{CopyID: args[0], Version: version})
	}
}

// ruleFromFlags returns the rule selected by --days or --cycles, or def.
func ruleFromFlags(def retention.RetentionRule) retention.RetentionRule {
	switch {
	case copyFlags.days > 0:
		return retention.Days(copyFlags.days)
	case copyFlags.cycles > 0:
		return retention.Cycles(copyFlags.cycles)
	default:
		return def
	}
}

// parseExtended converts FREQUENCY=DAYS flags to extended retention rules.
func parseExtended(specs []string) ([]retention.ExtendedRule, error) {
	rules := make([]retention.ExtendedRule, 0, len(specs))
	for _, spec := range specs {
		name, rawDays, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, cli.NewConfigError("rule", fmt.Sprintf("%q is not FREQUENCY=DAYS", spec))
		}
		freq, err := retention.ParseFrequency(name)
		if err != nil {
			return nil, cli.NewConfigError("rule", err.Error())
		}
		days, err := strconv.ParseUint(strings.TrimSpace(rawDays), 10, 32)
		if err != nil {
			return nil, cli.NewConfigError("rule", fmt.Sprintf("invalid days in %q", spec))
		}
		rules = append(rules, retention.ExtendedRule{Frequency: freq, Days: uint32(days)})
	}
	return rules, nil
}
