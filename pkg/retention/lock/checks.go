package lock

import (
	"context"
	"fmt"
	"slices"
	"time"

	"mercator-hq/ratchet/pkg/retention"
	"mercator-hq/ratchet/pkg/retention/evaluator"
)

// CheckRetentionChange reports whether rule may replace the copy's current
// rule.
func CheckRetentionChange(cur retention.Copy, rule retention.RetentionRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if !cur.LockState.Locked {
		return nil
	}

	floor := cur.LockState.Floor
	current := cur.RetentionRule
	details := retention.Details{
		CopyID:         cur.CopyID,
		Rule:           &current,
		Floor:          &floor,
		Requested:      &rule,
		CurrentVersion: cur.Version,
		LockSource:     cur.LockState.Source,
	}

	if rule.Kind != floor.Kind {
		return retention.Reject(retention.CodeRetentionTypeChangeRejected,
			fmt.Sprintf("locked copy must keep %s retention", floor.Kind)).
			WithDetails(details)
	}
	if rule.Value < floor.Value {
		return retention.Reject(retention.CodeRetentionDecreaseRejected,
			fmt.Sprintf("%s is below the lock floor of %s", rule, floor)).
			WithDetails(details)
	}
	// The floor is fixed at lock time; later increases raise the bar too.
	if rule.Value < current.Value {
		return retention.Reject(retention.CodeRetentionDecreaseRejected,
			fmt.Sprintf("%s is below the current retention of %s", rule, current)).
			WithDetails(details)
	}
	return nil
}

// CheckExtendedRetentionChange validates rules as the copy's new extended
// retention and returns them in canonical order. A locked copy must keep
// every current rule at no fewer days; adding rules is always allowed.
func CheckExtendedRetentionChange(cur retention.Copy, rules []retention.ExtendedRule) ([]retention.ExtendedRule, error) {
	next, err := retention.NormalizeExtendedRules(rules)
	if err != nil {
		return nil, err
	}
	if !cur.LockState.Locked {
		return next, nil
	}

	details := retention.Details{
		CopyID:            cur.CopyID,
		CurrentVersion:    cur.Version,
		LockSource:        cur.LockState.Source,
		ExtendedRules:     slices.Clone(cur.ExtendedRules),
		RequestedExtended: next,
	}
	for _, have := range cur.ExtendedRules {
		i := slices.IndexFunc(next, func(r retention.ExtendedRule) bool { return r.Frequency == have.Frequency })
		if i < 0 {
			return nil, retention.Reject(retention.CodeRetentionDecreaseRejected,
				fmt.Sprintf("locked copy must keep its %s extended rule", have.Frequency)).
				WithDetails(details)
		}
		if next[i].Days < have.Days {
			return nil, retention.Reject(retention.CodeRetentionDecreaseRejected,
				fmt.Sprintf("%s is below the current %s", next[i], have)).
				WithDetails(details)
		}
	}
	return next, nil
}

// CheckDeleteCopy reports whether the copy may be destroyed: every live job
// must be outside its retention window. Lock state does not matter.
func CheckDeleteCopy(cur retention.Copy, jobs []retention.Job, now time.Time) error {
	active := evaluator.ActiveJobs(cur.RetentionRule, cur.LiveJobs(jobs), now, cur.ExtendedRules...)
	if len(active) == 0 {
		return nil
	}
	rule := cur.RetentionRule
	return retention.Reject(retention.CodeRetentionWindowActive,
		fmt.Sprintf("copy %q still has %d job(s) inside the %s window", cur.CopyID, len(active), rule)).
		WithDetails(retention.Details{
			CopyID:         cur.CopyID,
			Rule:           &rule,
			CurrentVersion: cur.Version,
			ActiveJobs:     active,
		})
}

// CheckDeleteJob reports whether jobID may be deleted from the copy.
func CheckDeleteJob(cur retention.Copy, jobs []retention.Job, jobID string, now time.Time) error {
	live := cur.LiveJobs(jobs)

	var target *retention.Job
	for i := range live {
		if live[i].JobID == jobID {
			target = &live[i]
			break
		}
	}
	if target == nil {
		return retention.Reject(retention.CodeNotFound,
			fmt.Sprintf("job %q not found on copy %q", jobID, cur.CopyID)).
			WithDetails(retention.Details{CopyID: cur.CopyID})
	}

	for _, st := range evaluator.Explain(cur.RetentionRule, live, now, cur.ExtendedRules...) {
		if st.Job.JobID != jobID || st.Expired {
			continue
		}
		rule := cur.RetentionRule
		window := rule.String()
		if st.ExtendedBy != "" {
			window = fmt.Sprintf("extended %s fulls", st.ExtendedBy)
		}
		return retention.Reject(retention.CodeRetentionWindowActive,
			fmt.Sprintf("job %q is inside the %s window", jobID, window)).
			WithDetails(retention.Details{
				CopyID:         cur.CopyID,
				Rule:           &rule,
				CurrentVersion: cur.Version,
				ActiveJobs: []retention.ActiveJob{{
					CopyID:      cur.CopyID,
					JobID:       jobID,
					ExpiresAt:     st.ExpiresAt,
					CyclesNewer:   st.CyclesNewer,
					ExtendedUntil: st.ExtendedUntil,
				}},
			})
	}
	return nil
}

// Inspection is a read-only view of a copy and the retention verdict for
// each of its live jobs.
type Inspection struct {
	Copy        retention.Copy        `json:"copy"`
	Jobs        []evaluator.JobStatus `json:"jobs"`
	Deletable   bool                  `json:"deletable"`
	EvaluatedAt time.Time             `json:"evaluated_at"`
}

// Inspect evaluates the copy without changing anything.
func (m *Manager) Inspect(ctx context.Context, copyID string) (Inspection, error) {
	cur, err := m.store.GetCopy(ctx, copyID)
	if err != nil {
		return Inspection{}, err
	}
	jobs, err := m.jobsOf(ctx, copyID)
	if err != nil {
		return Inspection{}, err
	}

	now := m.config.Now()
	live := cur.LiveJobs(jobs)
	return Inspection{
		Copy:        cur,
		Jobs:        evaluator.Explain(cur.RetentionRule, live, now, cur.ExtendedRules...),
		Deletable:   evaluator.IsCopyDeletable(cur.RetentionRule, live, now, cur.ExtendedRules...),
		EvaluatedAt: now,
	}, nil
}
