package aging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/ratchet/pkg/retention"
	"mercator-hq/ratchet/pkg/retention/evaluator"
	"mercator-hq/ratchet/pkg/retention/lock"
	"mercator-hq/ratchet/pkg/telemetry/logging"
)

// Actor is recorded on deletions confirmed through the sweep.
const Actor = "aging"

// ErrSweepRunning is returned when a sweep is requested while another one
// is still in progress.
var ErrSweepRunning = errors.New("aging sweep already running")

// Config contains AgingScheduler settings.
type Config struct {
	// Interval between sweeps when Schedule is empty. Default: 5m
	Interval time.Duration

	// Schedule is an optional standard cron expression that replaces
	// Interval, e.g. "0 3 * * *".
	Schedule string

	// DeleteEmptyCopies lets the sweep destroy copies whose jobs have all
	// expired. Expired jobs are always pruned.
	DeleteEmptyCopies bool

	// Now is the clock. Default: time.Now
	Now func() time.Time
}

// DefaultConfig returns the default aging configuration.
func DefaultConfig() Config {
	return Config{Interval: 5 * time.Minute, Now: time.Now}
}

// Recorder receives sweep metrics.
type Recorder interface {
	RecordSweep(status string, duration time.Duration, copies int)
	RecordIntent(kind, outcome string)
	SetInFlight(n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordSweep(string, time.Duration, int) {}
func (nopRecorder) RecordIntent(string, string)            {}
func (nopRecorder) SetInFlight(int)                        {}

// CopyReport is the sweep's verdict for one copy.
type CopyReport struct {
	PlanID      string                  `json:"plan_id"`
	CopyID      string                  `json:"copy_id"`
	Rule        retention.RetentionRule `json:"rule"`
	Locked      bool                    `json:"locked"`
	Jobs        int                     `json:"jobs"`
	ExpiredJobs []string                `json:"expired_jobs,omitempty"`
	Deletable   bool                    `json:"deletable"`
	InFlight    int                     `json:"in_flight,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

// Report summarizes one sweep or preview.
type Report struct {
	SweepID    string       `json:"sweep_id"`
	DryRun     bool         `json:"dry_run"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Copies     []CopyReport `json:"copies"`
	Issued     []Intent     `json:"issued,omitempty"`
	Skipped    int          `json:"skipped"`
}

// Sweeper evaluates every copy and issues deletion intents for what has
// aged out. It never deletes anything itself: deletions are recorded
// through the LockManager only after the Deleter confirms them.
type Sweeper struct {
	store   retention.PolicyStore
	jobs    retention.JobSource
	locks   *lock.Manager
	deleter Deleter
	config  Config
	metrics Recorder
	logger  *slog.Logger

	running  sync.Mutex
	mu       sync.Mutex
	inflight map[string]Intent
	pending  sync.WaitGroup
}

// NewSweeper creates a Sweeper.
func NewSweeper(store retention.PolicyStore, jobs retention.JobSource, locks *lock.Manager, deleter Deleter, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Sweeper{
		store:    store,
		jobs:     jobs,
		locks:    locks,
		deleter:  deleter,
		config:   cfg,
		metrics:  nopRecorder{},
		logger:   slog.Default().With("component", "retention.aging"),
		inflight: make(map[string]Intent),
	}
}

// SetRecorder installs a metrics recorder.
func (s *Sweeper) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	s.metrics = r
}

// Sweep evaluates every copy of every plan and issues deletion intents.
// Cancellation is checked before each copy.
func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	return s.run(ctx, false)
}

// Preview evaluates every copy without issuing intents.
func (s *Sweeper) Preview(ctx context.Context) (*Report, error) {
	return s.run(ctx, true)
}

// InFlight returns the intents still awaiting a collaborator report.
func (s *Sweeper) InFlight() []Intent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Intent, 0, len(s.inflight))
	for _, in := range s.inflight {
		out = append(out, in)
	}
	return out
}

// Wait blocks until every issued intent has been reported or ctx is done.
func (s *Sweeper) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) run(ctx context.Context, dryRun bool) (*Report, error) {
	if !dryRun {
		if !s.running.TryLock() {
			return nil, ErrSweepRunning
		}
		defer s.running.Unlock()
	}

	report := &Report{
		SweepID:   uuid.NewString(),
		DryRun:    dryRun,
		StartedAt: s.config.Now(),
	}
	ctx = logging.WithSweepID(ctx, report.SweepID)
	logger := s.logger.With("sweep_id", report.SweepID, "dry_run", dryRun)

	err := s.sweepPlans(ctx, report, dryRun)
	report.FinishedAt = s.config.Now()
	duration := report.FinishedAt.Sub(report.StartedAt)

	status := "completed"
	switch {
	case err != nil && ctx.Err() != nil:
		status = "canceled"
	case err != nil:
		status = "failed"
	}
	if !dryRun {
		s.metrics.RecordSweep(status, duration, len(report.Copies))
	}

	if err != nil {
		logger.Warn("aging sweep stopped", "status", status, "copies", len(report.Copies), "error", err)
		return report, err
	}
	logger.Info("aging sweep completed",
		"copies", len(report.Copies),
		"issued", len(report.Issued),
		"skipped", report.Skipped,
		"duration", duration,
	)
	return report, nil
}

func (s *Sweeper) sweepPlans(ctx context.Context, report *Report, dryRun bool) error {
	plans, err := s.store.ListPlans(ctx)
	if err != nil {
		return fmt.Errorf("failed to list plans: %w", err)
	}

	for _, planID := range plans {
		for c, err := range s.store.ListCopies(ctx, planID) {
			if err != nil {
				return fmt.Errorf("failed to list copies of plan %q: %w", planID, err)
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			cr := s.evaluate(ctx, c)
			if cr.Error != "" {
				report.Skipped++
			} else if !dryRun {
				report.Issued = append(report.Issued, s.issue(ctx, c, &cr, report.SweepID)...)
			}
			report.Copies = append(report.Copies, cr)
		}
	}
	return nil
}

// evaluate decides what may be deleted from c. Each candidate passes the
// same precondition the LockManager enforces for administrative deletes.
func (s *Sweeper) evaluate(ctx context.Context, c retention.Copy) CopyReport {
	cr := CopyReport{
		PlanID: c.PlanID,
		CopyID: c.CopyID,
		Rule:   c.RetentionRule,
		Locked: c.LockState.Locked,
	}

	jobs, err := s.jobs.Jobs(ctx, c.CopyID)
	if err != nil {
		s.logger.Warn("skipping copy, job source unavailable", "copy_id", c.CopyID, "error", err)
		cr.Error = err.Error()
		return cr
	}

	now := s.config.Now()
	live := c.LiveJobs(jobs)
	cr.Jobs = len(live)

	if s.config.DeleteEmptyCopies &&
		evaluator.IsCopyDeletable(c.RetentionRule, live, now, c.ExtendedRules...) &&
		lock.CheckDeleteCopy(c, jobs, now) == nil {
		cr.Deletable = true
		return cr
	}

	for _, j := range evaluator.ExpiredJobs(c.RetentionRule, live, now, c.ExtendedRules...) {
		if lock.CheckDeleteJob(c, jobs, j.JobID, now) == nil {
			cr.ExpiredJobs = append(cr.ExpiredJobs, j.JobID)
		}
	}
	return cr
}

// issue submits intents for everything evaluate found, skipping targets that
// already have an intent in flight.
func (s *Sweeper) issue(ctx context.Context, c retention.Copy, cr *CopyReport, sweepID string) []Intent {
	var candidates []Intent
	if cr.Deletable {
		candidates = append(candidates, Intent{Kind: IntentCopy, PlanID: c.PlanID, CopyID: c.CopyID})
	}
	for _, jobID := range cr.ExpiredJobs {
		candidates = append(candidates, Intent{Kind: IntentJob, PlanID: c.PlanID, CopyID: c.CopyID, JobID: jobID})
	}

	var issued []Intent
	for _, in := range candidates {
		in.ID = uuid.NewString()
		in.IssuedAt = s.config.Now()
		in.SweepID = sweepID

		if !s.acquire(in) {
			cr.InFlight++
			s.metrics.RecordIntent(string(in.Kind), "in_flight")
			continue
		}

		if err := s.recheck(ctx, in); err != nil {
			s.logger.Info("deletion intent withdrawn", "copy_id", in.CopyID, "job_id", in.JobID, "reason", err)
			s.metrics.RecordIntent(string(in.Kind), "withdrawn")
			s.release(in)
			continue
		}

		reportCtx := context.WithoutCancel(ctx)
		err := s.deleter.Submit(ctx, in, func(out Outcome) {
			s.complete(reportCtx, out)
		})
		if err != nil {
			s.logger.Warn("deletion intent not accepted", "intent_id", in.ID, "copy_id", in.CopyID, "job_id", in.JobID, "error", err)
			s.metrics.RecordIntent(string(in.Kind), "submit_failed")
			s.release(in)
			continue
		}
		s.metrics.RecordIntent(string(in.Kind), "issued")
		issued = append(issued, in)
	}
	return issued
}

// recheck validates the intent against a fresh read of the copy and its
// jobs. The listing that produced it may predate a retention change or a
// lock.
func (s *Sweeper) recheck(ctx context.Context, in Intent) error {
	c, err := s.store.GetCopy(ctx, in.CopyID)
	if err != nil {
		return err
	}
	jobs, err := s.jobs.Jobs(ctx, in.CopyID)
	if err != nil {
		return err
	}
	now := s.config.Now()
	if in.Kind == IntentCopy {
		return lock.CheckDeleteCopy(c, jobs, now)
	}
	return lock.CheckDeleteJob(c, jobs, in.JobID, now)
}

// complete records a confirmed deletion through the LockManager. Failures
// leave the state untouched so the next sweep tries again.
func (s *Sweeper) complete(ctx context.Context, out Outcome) {
	in := out.Intent
	defer s.release(in)

	kind := string(in.Kind)
	logger := s.logger.With("intent_id", in.ID, "copy_id", in.CopyID, "job_id", in.JobID)

	if out.Err != nil {
		logger.Warn("deletion failed, will retry next sweep", "error", out.Err)
		s.metrics.RecordIntent(kind, "failed")
		return
	}

	var err error
	switch in.Kind {
	case IntentCopy:
		err = s.locks.DeleteCopy(ctx, in.CopyID, lock.WithActor(Actor))
	default:
		_, err = s.locks.DeleteJob(ctx, in.CopyID, in.JobID, lock.WithActor(Actor))
	}

	switch {
	case err == nil:
		s.metrics.RecordIntent(kind, "recorded")
		logger.Info("deletion recorded")
	case errors.Is(err, retention.ErrNotFound):
		// The target left the catalog or the store first.
		s.metrics.RecordIntent(kind, "recorded")
		logger.Debug("deletion already reflected", "error", err)
	default:
		s.metrics.RecordIntent(kind, "unrecorded")
		logger.Error("deletion confirmed but not recorded", "error", err)
	}
}

func (s *Sweeper) acquire(in Intent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inflight[in.key()]; ok {
		return false
	}
	s.inflight[in.key()] = in
	s.pending.Add(1)
	s.metrics.SetInFlight(len(s.inflight))
	return true
}

func (s *Sweeper) release(in Intent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.inflight[in.key()]; ok && cur.ID == in.ID {
		delete(s.inflight, in.key())
		s.pending.Done()
	}
	s.metrics.SetInFlight(len(s.inflight))
}
