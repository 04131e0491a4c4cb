package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"mercator-hq/ratchet/pkg/retention"
	"mercator-hq/ratchet/pkg/retention/aging"
	"mercator-hq/ratchet/pkg/retention/lock"
)

// Result views. Each implements cli.Table for text and csv output and
// marshals as the underlying value for json.

type copyList []retention.Copy

func (l copyList) Header() []string {
	return []string{"COPY", "PLAN", "TYPE", "RETENTION", "LOCKED", "VERSION", "UPDATED"}
}

func (l copyList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, c := range l {
		rows = append(rows, []string{
			c.CopyID, c.PlanID, string(c.CopyType), c.RetentionRule.String(),
			strconv.FormatBool(c.LockState.Locked),
			strconv.FormatUint(c.Version, 10),
			formatTime(c.UpdatedAt),
		})
	}
	return rows
}

type inspection lock.Inspection

func (in inspection) Header() []string {
	return []string{"JOB", "CREATED", "CYCLE", "FULL", "EXPIRED", "WINDOW"}
}

func (in inspection) Rows() [][]string {
	rows := make([][]string, 0, len(in.Jobs))
	for _, st := range in.Jobs {
		window := "-"
		switch {
		case st.ExtendedBy != "" && st.ExtendedUntil != nil:
			window = fmt.Sprintf("%s fulls until %s", st.ExtendedBy, formatTime(*st.ExtendedUntil))
		case st.ExtendedBy != "":
			window = fmt.Sprintf("%s fulls, no end", st.ExtendedBy)
		case st.ExpiresAt != nil:
			window = "expires " + formatTime(*st.ExpiresAt)
		case st.CyclesNewer != nil:
			window = fmt.Sprintf("%d newer cycle(s)", *st.CyclesNewer)
		}
		rows = append(rows, []string{
			st.Job.JobID,
			formatTime(st.Job.CreatedAt),
			strconv.FormatUint(st.Job.CycleNumber, 10),
			strconv.FormatBool(st.Job.IsFull),
			strconv.FormatBool(st.Expired),
			window,
		})
	}
	return rows
}

// summary is printed above the job table in text mode.
func (in inspection) summary() string {
	c := in.Copy
	var b strings.Builder
	fmt.Fprintf(&b, "Copy:       %s (plan %s, %s)\n", c.CopyID, c.PlanID, c.CopyType)
	fmt.Fprintf(&b, "Retention:  %s\n", c.RetentionRule)
	for _, e := range c.ExtendedRules {
		fmt.Fprintf(&b, "Extended:   %s\n", e)
	}
	fmt.Fprintf(&b, "Lock:       %s\n", c.LockState)
	fmt.Fprintf(&b, "Version:    %d\n", c.Version)
	fmt.Fprintf(&b, "Deletable:  %t\n", in.Deletable)
	if len(c.PrunedJobIDs) > 0 {
		fmt.Fprintf(&b, "Pruned:     %s\n", strings.Join(c.PrunedJobIDs, ", "))
	}
	return b.String()
}

type versionResult struct {
	CopyID  string `json:"copy_id"`
	Version uint64 `json:"version"`
}

func (v versionResult) String() string {
	if v.Version == 0 {
		return v.CopyID + ": deleted"
	}
	return fmt.Sprintf("%s: version %d", v.CopyID, v.Version)
}

func (v versionResult) Header() []string { return []string{"COPY", "VERSION"} }
func (v versionResult) Rows() [][]string {
	return [][]string{{v.CopyID, strconv.FormatUint(v.Version, 10)}}
}

type auditList []retention.AuditRecord

func (l auditList) Header() []string {
	return []string{"TIME", "ACTOR", "COPY", "OPERATION", "RESULT", "CODE", "REASON"}
}

func (l auditList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, r := range l {
		rows = append(rows, []string{
			formatTime(r.Timestamp), r.Actor, r.CopyID, r.Operation,
			string(r.Result), string(r.Code), r.Reason,
		})
	}
	return rows
}

type sweepReport aging.Report

func (r sweepReport) Header() []string {
	return []string{"PLAN", "COPY", "RETENTION", "LOCKED", "JOBS", "EXPIRED", "DELETABLE", "NOTE"}
}

func (r sweepReport) Rows() [][]string {
	rows := make([][]string, 0, len(r.Copies))
	for _, c := range r.Copies {
		note := c.Error
		if note == "" && c.InFlight > 0 {
			note = fmt.Sprintf("%d intent(s) in flight", c.InFlight)
		}
		rows = append(rows, []string{
			c.PlanID, c.CopyID, c.Rule.String(),
			strconv.FormatBool(c.Locked),
			strconv.Itoa(c.Jobs),
			strings.Join(c.ExpiredJobs, " "),
			strconv.FormatBool(c.Deletable),
			note,
		})
	}
	return rows
}

func (r sweepReport) summary() string {
	mode := "sweep"
	if r.DryRun {
		mode = "preview"
	}
	return fmt.Sprintf("%s %s: %d copies, %d intent(s) issued, %d skipped\n",
		mode, r.SweepID, len(r.Copies), len(r.Issued), r.Skipped)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
