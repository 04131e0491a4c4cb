package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/ratchet/pkg/retention"
	"mercator-hq/ratchet/pkg/retention/evaluator"
	"mercator-hq/ratchet/pkg/telemetry/logging"
)

// DefaultActor is recorded when neither an option nor the context names one.
const DefaultActor = "system"

// Config contains LockManager settings.
type Config struct {
	// MaxRetries is the number of compare-and-swap attempts made when the
	// caller did not pin a version. After that the operation returns Busy.
	// Default: 3
	MaxRetries int

	// Now is the clock. Default: time.Now
	Now func() time.Time
}

// DefaultConfig returns the default LockManager configuration.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, Now: time.Now}
}

// Recorder receives decision metrics. The telemetry/metrics collector
// implements it.
type Recorder interface {
	RecordDecision(operation string, result retention.Result, code retention.Code)
	RecordConflict(operation string)
}

type nopRecorder struct{}

func (nopRecorder) RecordDecision(string, retention.Result, retention.Code) {}
func (nopRecorder) RecordConflict(string)                                   {}

// Manager validates administrative operations against the current copy
// state and writes accepted changes through PolicyStore.CompareAndSwap.
// Every final outcome is audited.
type Manager struct {
	store   retention.PolicyStore
	jobs    retention.JobSource
	audit   retention.AuditLog
	metrics Recorder
	config  Config
	logger  *slog.Logger
}

// NewManager creates a LockManager.
func NewManager(store retention.PolicyStore, jobs retention.JobSource, audit retention.AuditLog, cfg Config) *Manager {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		store:   store,
		jobs:    jobs,
		audit:   audit,
		metrics: nopRecorder{},
		config:  cfg,
		logger:  slog.Default().With("component", "retention.lock"),
	}
}

// SetRecorder installs a metrics recorder.
func (m *Manager) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	m.metrics = r
}

// Option adjusts a single operation.
type Option func(*opOptions)

type opOptions struct {
	actor           string
	expectedVersion uint64
	lockSource      retention.LockSource
}

// WithActor names who requested the operation.
func WithActor(actor string) Option {
	return func(o *opOptions) { o.actor = actor }
}

// WithExpectedVersion pins the copy version the caller decided against. The
// compare-and-swap is then attempted once and a stale version surfaces as
// VersionConflict instead of being retried.
func WithExpectedVersion(v uint64) Option {
	return func(o *opOptions) { o.expectedVersion = v }
}

// WithLockSource records where an EnableLock originates. Other operations
// ignore it.
func WithLockSource(src retention.LockSource) Option {
	return func(o *opOptions) { o.lockSource = src }
}

func (m *Manager) options(ctx context.Context, opts []Option) opOptions {
	o := opOptions{actor: logging.GetActor(ctx), lockSource: retention.LockSourceCopy}
	for _, opt := range opts {
		opt(&o)
	}
	if o.actor == "" {
		o.actor = DefaultActor
	}
	return o
}

// change is the outcome of validating an operation against a copy.
type change struct {
	next   retention.Copy
	delete bool
	noop   bool
	reason string
}

// decideFunc validates an operation against cur and returns the change to
// apply or a rejection.
type decideFunc func(ctx context.Context, cur retention.Copy, now time.Time) (change, error)

// EnableLock locks the copy, snapshotting the current rule as the floor.
// The lock source is LockSourceCopy unless WithLockSource says otherwise.
func (m *Manager) EnableLock(ctx context.Context, copyID string, opts ...Option) (uint64, error) {
	o := m.options(ctx, opts)
	if !o.lockSource.Valid() {
		rej := retention.Reject(retention.CodeInvalidRequest, fmt.Sprintf("unknown lock source %q", o.lockSource)).
			WithDetails(retention.Details{CopyID: copyID})
		m.recordRejection(ctx, o, retention.OpEnableLock, retention.Copy{CopyID: copyID}, rej)
		return 0, rej
	}
	return m.mutate(ctx, retention.OpEnableLock, copyID, o,
		func(_ context.Context, cur retention.Copy, now time.Time) (change, error) {
			if cur.LockState.Locked {
				floor := cur.LockState.Floor
				return change{}, retention.Reject(retention.CodeAlreadyLocked,
					fmt.Sprintf("copy %q has been locked since %s", cur.CopyID, cur.LockState.LockedAt.UTC().Format(time.RFC3339))).
					WithDetails(retention.Details{
						CopyID:         cur.CopyID,
						Floor:          &floor,
						CurrentVersion: cur.Version,
						LockSource:     cur.LockState.Source,
					})
			}
			next := cur.Clone()
			next.LockState = retention.LockState{Locked: true, LockedAt: now, Floor: cur.RetentionRule, Source: o.lockSource}
			return change{next: next, reason: fmt.Sprintf("floor %s, %s lock", cur.RetentionRule, o.lockSource)}, nil
		})
}

// DisableLock is always rejected with LockIsImmutable on a locked copy. On an
// unlocked copy it is accepted without a version change.
//
// A lock inherited from a WORM storage pool belongs to the pool: the
// rejection says so and carries LockSourcePool in its details.
func (m *Manager) DisableLock(ctx context.Context, copyID string, opts ...Option) (uint64, error) {
	return m.mutate(ctx, retention.OpDisableLock, copyID, m.options(ctx, opts),
		func(_ context.Context, cur retention.Copy, _ time.Time) (change, error) {
			if cur.LockState.Locked {
				floor := cur.LockState.Floor
				msg := "compliance lock cannot be removed once enabled"
				if cur.LockState.Source == retention.LockSourcePool {
					msg = "copy uses its storage pool's WORM lock; it can only be administered at pool level"
				}
				return change{}, retention.Reject(retention.CodeLockIsImmutable, msg).
					WithDetails(retention.Details{
						CopyID:         cur.CopyID,
						Floor:          &floor,
						CurrentVersion: cur.Version,
						LockSource:     cur.LockState.Source,
					})
			}
			return change{noop: true, reason: "copy is not locked"}, nil
		})
}

// ChangeRetention replaces the retention rule.
//
// Unlocked copies accept any valid rule. Locked copies keep the floor's kind
// and never go below the floor or the current value.
func (m *Manager) ChangeRetention(ctx context.Context, copyID string, rule retention.RetentionRule, opts ...Option) (uint64, error) {
	return m.mutate(ctx, retention.OpChangeRetention, copyID, m.options(ctx, opts),
		func(_ context.Context, cur retention.Copy, _ time.Time) (change, error) {
			if err := CheckRetentionChange(cur, rule); err != nil {
				return change{}, err
			}
			next := cur.Clone()
			next.RetentionRule = rule
			return change{next: next, reason: fmt.Sprintf("%s -> %s", cur.RetentionRule, rule)}, nil
		})
}

// ChangeExtendedRetention replaces the copy's extended retention rules. An
// empty list removes them, which a locked copy refuses once it has any.
func (m *Manager) ChangeExtendedRetention(ctx context.Context, copyID string, rules []retention.ExtendedRule, opts ...Option) (uint64, error) {
	return m.mutate(ctx, retention.OpChangeExtendedRetention, copyID, m.options(ctx, opts),
		func(_ context.Context, cur retention.Copy, _ time.Time) (change, error) {
			next, err := CheckExtendedRetentionChange(cur, rules)
			if err != nil {
				return change{}, err
			}
			c := cur.Clone()
			c.ExtendedRules = next
			return change{next: c, reason: fmt.Sprintf("%d extended rule(s)", len(next))}, nil
		})
}

// DeleteCopy destroys the copy record once every job is expired.
func (m *Manager) DeleteCopy(ctx context.Context, copyID string, opts ...Option) error {
	_, err := m.mutate(ctx, retention.OpDeleteCopy, copyID, m.options(ctx, opts),
		func(ctx context.Context, cur retention.Copy, now time.Time) (change, error) {
			jobs, err := m.jobsOf(ctx, cur.CopyID)
			if err != nil {
				return change{}, err
			}
			if err := CheckDeleteCopy(cur, jobs, now); err != nil {
				return change{}, err
			}
			return change{delete: true}, nil
		})
	return err
}

// DeleteJob records the deletion of an expired job.
func (m *Manager) DeleteJob(ctx context.Context, copyID, jobID string, opts ...Option) (uint64, error) {
	return m.mutate(ctx, retention.OpDeleteJob, copyID, m.options(ctx, opts),
		func(ctx context.Context, cur retention.Copy, now time.Time) (change, error) {
			jobs, err := m.jobsOf(ctx, cur.CopyID)
			if err != nil {
				return change{}, err
			}
			if err := CheckDeleteJob(cur, jobs, jobID, now); err != nil {
				return change{}, err
			}
			next := cur.Clone()
			next.PrunedJobIDs = prunedAfter(cur, jobs, jobID)
			return change{next: next, reason: "job " + jobID}, nil
		})
}

// DeletePlan destroys every copy of the plan, or none of them. Plans carry
// no version of their own, so WithExpectedVersion is rejected with
// InvalidRequest; each copy is still swapped against the version it was
// validated at.
func (m *Manager) DeletePlan(ctx context.Context, planID string, opts ...Option) error {
	o := m.options(ctx, opts)
	logger := m.logger.With("plan_id", planID, "actor", o.actor, "operation", retention.OpDeletePlan)

	if o.expectedVersion != 0 {
		rej := retention.Reject(retention.CodeInvalidRequest,
			fmt.Sprintf("plan %q has no version; expected versions apply to copies", planID))
		m.recordRejection(ctx, o, retention.OpDeletePlan, retention.Copy{PlanID: planID}, rej)
		return rej
	}

	for attempt := 1; attempt <= m.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		var copies []retention.Copy
		for c, err := range m.store.ListCopies(ctx, planID) {
			if err != nil {
				return err
			}
			copies = append(copies, c)
		}
		if len(copies) == 0 {
			rej := retention.Reject(retention.CodeNotFound, fmt.Sprintf("plan %q has no copies", planID))
			m.recordRejection(ctx, o, retention.OpDeletePlan, retention.Copy{PlanID: planID}, rej)
			return rej
		}

		now := m.config.Now()
		var active []retention.ActiveJob
		mutations := make([]retention.Mutation, 0, len(copies))
		for _, c := range copies {
			jobs, err := m.jobsOf(ctx, c.CopyID)
			if err != nil {
				return err
			}
			for _, aj := range evaluator.ActiveJobs(c.RetentionRule, c.LiveJobs(jobs), now, c.ExtendedRules...) {
				aj.CopyID = c.CopyID
				active = append(active, aj)
			}
			mutations = append(mutations, retention.Mutation{
				CopyID:          c.CopyID,
				ExpectedVersion: c.Version,
				Delete:          true,
				Actor:           o.actor,
				Operation:       retention.OpDeletePlan,
				Reason:          "plan " + planID,
			})
		}

		if len(active) > 0 {
			rej := retention.Reject(retention.CodeRetentionWindowActive,
				fmt.Sprintf("plan %q still has %d job(s) inside their retention window", planID, len(active))).
				WithDetails(retention.Details{ActiveJobs: active})
			m.recordRejection(ctx, o, retention.OpDeletePlan, retention.Copy{PlanID: planID}, rej)
			return rej
		}

		err := m.store.CompareAndSwapAll(ctx, mutations)
		if err == nil {
			m.metrics.RecordDecision(retention.OpDeletePlan, retention.ResultAccepted, "")
			logger.Info("plan deleted", "copies", len(copies))
			return nil
		}
		if !errors.Is(err, retention.ErrVersionConflict) {
			return err
		}
		m.metrics.RecordConflict(retention.OpDeletePlan)
		logger.Debug("plan changed during delete, retrying", "attempt", attempt)
	}

	rej := busy(planID, m.config.MaxRetries)
	m.recordRejection(ctx, o, retention.OpDeletePlan, retention.Copy{PlanID: planID}, rej)
	return rej
}

// mutate runs the read-validate-swap loop shared by every copy operation.
func (m *Manager) mutate(ctx context.Context, op, copyID string, o opOptions, decide decideFunc) (uint64, error) {
	logger := m.logger.With("copy_id", copyID, "actor", o.actor, "operation", op)

	attempts := m.config.MaxRetries
	if o.expectedVersion != 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		cur, err := m.store.GetCopy(ctx, copyID)
		if err != nil {
			if errors.Is(err, retention.ErrNotFound) {
				m.recordRejection(ctx, o, op, retention.Copy{CopyID: copyID}, err)
			}
			return 0, err
		}

		if o.expectedVersion != 0 && cur.Version != o.expectedVersion {
			rej := retention.Reject(retention.CodeVersionConflict,
				fmt.Sprintf("copy %q is at version %d, expected %d", copyID, cur.Version, o.expectedVersion)).
				WithDetails(retention.Details{CopyID: copyID, CurrentVersion: cur.Version, ExpectedVersion: o.expectedVersion})
			m.metrics.RecordConflict(op)
			m.recordRejection(ctx, o, op, cur, rej)
			return 0, rej
		}

		now := m.config.Now()
		ch, err := decide(ctx, cur, now)
		if err != nil {
			if _, ok := retention.AsRejection(err); ok {
				m.recordRejection(ctx, o, op, cur, err)
				logger.Info("operation rejected", "error", err)
			}
			return 0, err
		}

		if ch.noop {
			m.recordNoop(ctx, o, op, cur, ch.reason)
			return cur.Version, nil
		}

		version, err := m.store.CompareAndSwap(ctx, retention.Mutation{
			CopyID:          copyID,
			ExpectedVersion: cur.Version,
			NewState:        ch.next,
			Delete:          ch.delete,
			Actor:           o.actor,
			Operation:       op,
			Reason:          ch.reason,
		})
		if err == nil {
			m.metrics.RecordDecision(op, retention.ResultAccepted, "")
			logger.Info("operation accepted", "version", version)
			return version, nil
		}
		if !errors.Is(err, retention.ErrVersionConflict) {
			return 0, err
		}

		m.metrics.RecordConflict(op)
		if o.expectedVersion != 0 {
			m.recordRejection(ctx, o, op, cur, err)
			return 0, err
		}
		logger.Debug("version conflict, retrying", "attempt", attempt)
	}

	rej := busy(copyID, attempts)
	m.recordRejection(ctx, o, op, retention.Copy{CopyID: copyID}, rej)
	return 0, rej
}

func (m *Manager) jobsOf(ctx context.Context, copyID string) ([]retention.Job, error) {
	jobs, err := m.jobs.Jobs(ctx, copyID)
	if err != nil {
		var ce *retention.CollaboratorError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, retention.NewCollaboratorError("job_source", copyID, err)
	}
	return jobs, nil
}

// recordRejection audits a refused operation. An audit failure is logged but
// never replaces the rejection returned to the caller.
func (m *Manager) recordRejection(ctx context.Context, o opOptions, op string, cur retention.Copy, err error) {
	rec := retention.AuditRecord{
		Timestamp: m.config.Now(),
		Actor:     o.actor,
		CopyID:    cur.CopyID,
		PlanID:    cur.PlanID,
		Operation: op,
		Result:    retention.ResultRejected,
		Reason:    err.Error(),
	}
	if cur.Version != 0 {
		rec.PriorState = cur.Snapshot()
	}
	if rej, ok := retention.AsRejection(err); ok {
		rec.Code = rej.Code
		if rej.Message != "" {
			rec.Reason = rej.Message
		}
	}

	m.metrics.RecordDecision(op, retention.ResultRejected, rec.Code)
	if aerr := m.audit.Append(context.WithoutCancel(ctx), rec); aerr != nil {
		m.logger.Error("failed to audit rejection",
			"copy_id", cur.CopyID, "operation", op, "code", rec.Code, "error", aerr)
	}
}

func (m *Manager) recordNoop(ctx context.Context, o opOptions, op string, cur retention.Copy, reason string) {
	rec := retention.AuditRecord{
		Timestamp:  m.config.Now(),
		Actor:      o.actor,
		CopyID:     cur.CopyID,
		PlanID:     cur.PlanID,
		Operation:  op,
		PriorState: cur.Snapshot(),
		NewState:   cur.Snapshot(),
		Result:     retention.ResultAccepted,
		Reason:     reason,
	}
	m.metrics.RecordDecision(op, retention.ResultAccepted, "")
	if err := m.audit.Append(ctx, rec); err != nil {
		m.logger.Error("failed to audit no-op", "copy_id", cur.CopyID, "operation", op, "error", err)
	}
}

func busy(id string, attempts int) *retention.Rejection {
	return retention.Reject(retention.CodeBusy,
		fmt.Sprintf("%q kept changing; gave up after %d attempt(s)", id, attempts))
}

// prunedAfter returns the pruned list after deleting jobID. IDs no longer
// present in the catalog are dropped.
func prunedAfter(cur retention.Copy, jobs []retention.Job, jobID string) []string {
	known := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		known[j.JobID] = true
	}
	var out []string
	for _, id := range cur.PrunedJobIDs {
		if known[id] && id != jobID {
			out = append(out, id)
		}
	}
	return append(out, jobID)
}
