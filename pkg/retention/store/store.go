package store

import (
	"context"
	"fmt"
	"time"

	"mercator-hq/ratchet/pkg/retention"
)

// Options are shared by every PolicyStore backend.
type Options struct {
	// Audit receives one accepted record per successful mutation. Required.
	Audit retention.AuditLog

	// OpTimeout bounds every store call.
	// Default: 5 seconds
	OpTimeout time.Duration

	// PageSize is the number of copies fetched per ListCopies page.
	// Default: 100
	PageSize int

	// Now is the clock used for timestamps. Default: time.Now
	Now func() time.Time
}

func (o *Options) applyDefaults() error {
	if o.Audit == nil {
		return fmt.Errorf("policy store requires an audit log")
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 5 * time.Second
	}
	if o.PageSize <= 0 {
		o.PageSize = 100
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return nil
}

// validateNewCopy checks a copy before creation and fills in defaults.
func validateNewCopy(c retention.Copy) (retention.Copy, error) {
	if c.CopyID == "" {
		return c, retention.Reject(retention.CodeInvalidRequest, "copy id cannot be empty")
	}
	if c.PlanID == "" {
		return c, retention.Reject(retention.CodeInvalidRequest, "plan id cannot be empty")
	}
	if c.CopyType == "" {
		c.CopyType = retention.CopyTypePrimary
	}
	if !c.CopyType.Valid() {
		return c, retention.Reject(retention.CodeInvalidRequest, fmt.Sprintf("unknown copy type %q", c.CopyType))
	}
	if err := c.RetentionRule.Validate(); err != nil {
		return c, err
	}
	ext, err := retention.NormalizeExtendedRules(c.ExtendedRules)
	if err != nil {
		return c, err
	}
	c.ExtendedRules = ext
	if src := c.LockState.Source; src != "" && !src.Valid() {
		return c, retention.Reject(retention.CodeInvalidRequest, fmt.Sprintf("unknown lock source %q", src))
	}
	return c, nil
}

// initialState prepares a validated copy for insertion. A copy created
// locked takes its current rule as the floor; the lock source defaults to
// the copy unless the caller says it comes from a WORM storage pool.
func initialState(c retention.Copy, now time.Time) retention.Copy {
	c = c.Clone()
	c.Version = 1
	c.CreatedAt = now
	c.UpdatedAt = now
	c.PrunedJobIDs = nil
	if c.LockState.Locked {
		src := c.LockState.Source
		if src == "" {
			src = retention.LockSourceCopy
		}
		c.LockState = retention.LockState{Locked: true, LockedAt: now, Floor: c.RetentionRule, Source: src}
	} else {
		c.LockState = retention.LockState{}
	}
	return c
}

// nextState derives the stored state from a mutation. Identity fields and
// creation time are taken from the current record.
func nextState(cur retention.Copy, m retention.Mutation, now time.Time) retention.Copy {
	next := m.NewState.Clone()
	next.CopyID = cur.CopyID
	next.PlanID = cur.PlanID
	next.CopyType = cur.CopyType
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = now
	next.Version = cur.Version + 1
	return next
}

// conflict builds the VersionConflict rejection for a stale mutation.
func conflict(cur retention.Copy, expected uint64) *retention.Rejection {
	return retention.Reject(retention.CodeVersionConflict,
		fmt.Sprintf("copy %q is at version %d, expected %d", cur.CopyID, cur.Version, expected)).
		WithDetails(retention.Details{
			CopyID:          cur.CopyID,
			CurrentVersion:  cur.Version,
			ExpectedVersion: expected,
		})
}

// acceptedRecord is the audit entry written for a successful mutation.
// next is nil for deletions.
func acceptedRecord(m retention.Mutation, cur retention.Copy, next *retention.Copy, now time.Time) retention.AuditRecord {
	rec := retention.AuditRecord{
		Timestamp:  now,
		Actor:      m.Actor,
		CopyID:     cur.CopyID,
		PlanID:     cur.PlanID,
		Operation:  m.Operation,
		PriorState: cur.Snapshot(),
		Result:     retention.ResultAccepted,
		Reason:     m.Reason,
	}
	if next != nil {
		rec.NewState = next.Snapshot()
	}
	return rec
}

func createdRecord(c retention.Copy, actor string) retention.AuditRecord {
	return retention.AuditRecord{
		Timestamp: c.CreatedAt,
		Actor:     actor,
		CopyID:    c.CopyID,
		PlanID:    c.PlanID,
		Operation: retention.OpCreateCopy,
		NewState:  c.Snapshot(),
		Result:    retention.ResultAccepted,
	}
}

// rolledBackRecord supersedes an accepted record whose transaction did not
// commit.
func rolledBackRecord(accepted retention.AuditRecord, now time.Time, cause error) retention.AuditRecord {
	return retention.AuditRecord{
		Timestamp:  now,
		Actor:      accepted.Actor,
		CopyID:     accepted.CopyID,
		PlanID:     accepted.PlanID,
		Operation:  accepted.Operation,
		PriorState: accepted.PriorState,
		Result:     retention.ResultRejected,
		Reason:     "rolled back: " + cause.Error(),
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}
