package main

import (
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/ratchet/pkg/cli"
	"mercator-hq/ratchet/pkg/retention"
	"mercator-hq/ratchet/pkg/retention/audit"
)

var auditFlags struct {
	copyID    string
	planID    string
	operation string
	result    string
	from      string
	to        string
	limit     int
	format    string
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit log",
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "List audit records",
	Long: `List audit records, oldest first. Without --format the records are
printed in the --output format; --format json|csv writes the full export
including prior and new copy state.

Examples:
  ratchet audit query --copy c1
  ratchet audit query --result rejected --from 2026-04-01T00:00:00Z
  ratchet audit query --plan nightly --format csv > audit.csv`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := retention.AuditQuery{
			CopyID:    auditFlags.copyID,
			PlanID:    auditFlags.planID,
			Operation: auditFlags.operation,
			Result:    retention.Result(auditFlags.result),
			Limit:     auditFlags.limit,
		}
		var err error
		if q.From, err = parseOptionalTime("from", auditFlags.from); err != nil {
			return err
		}
		if q.To, err = parseOptionalTime("to", auditFlags.to); err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if q.Limit <= 0 {
			q.Limit = a.Config.Audit.DefaultQueryLimit
		}
		if q.Limit > a.Config.Audit.MaxQueryLimit {
			q.Limit = a.Config.Audit.MaxQueryLimit
		}

		ctx, stop := commandContext(cmd)
		defer stop()

		records, err := a.Audit.Query(ctx, q)
		if err != nil {
			return cli.NewCommandError("audit query", err)
		}

		if auditFlags.format == "" {
			return printResult(cmd, auditList(records))
		}
		exp, err := audit.NewExporter(auditFlags.format)
		if err != nil {
			return cli.NewConfigError("format", err.Error())
		}
		return exp.Export(ctx, records, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditQueryCmd)

	f := auditQueryCmd.Flags()
	f.StringVar(&auditFlags.copyID, "copy", "", "filter by copy ID")
	f.StringVar(&auditFlags.planID, "plan", "", "filter by plan ID")
	f.StringVar(&auditFlags.operation, "operation", "", "filter by operation (enable_lock, change_retention, ...)")
	f.StringVar(&auditFlags.result, "result", "", "filter by result (accepted, rejected)")
	f.StringVar(&auditFlags.from, "from", "", "records at or after this time (RFC 3339)")
	f.StringVar(&auditFlags.to, "to", "", "records before this time (RFC 3339)")
	f.IntVar(&auditFlags.limit, "limit", 0, "maximum records (default: audit.default_query_limit)")
	f.StringVar(&auditFlags.format, "format", "", "export format (json, csv)")
}

func parseOptionalTime(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, cli.NewConfigError(field, err.Error())
	}
	return t, nil
}
