package aging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"mercator-hq/ratchet/pkg/retention"
	"mercator-hq/ratchet/pkg/retention/audit"
	"mercator-hq/ratchet/pkg/retention/jobs"
	"mercator-hq/ratchet/pkg/retention/lock"
	"mercator-hq/ratchet/pkg/retention/store"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

func now() time.Time { return t0 }

type fixture struct {
	store *store.MemoryStore
	jobs  *jobs.MemorySource
	audit *audit.MemoryLog
	locks *lock.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := audit.NewMemoryLog()
	st, err := store.NewMemoryStore(store.Options{Audit: log, Now: now})
	if err != nil {
		t.Fatalf("NewMemoryStore() error = %v", err)
	}
	src := jobs.NewMemorySource()
	return &fixture{
		store: st,
		jobs:  src,
		audit: log,
		locks: lock.NewManager(st, src, log, lock.Config{Now: now}),
	}
}

func (f *fixture) sweeper(d Deleter, deleteCopies bool) *Sweeper {
	return NewSweeper(f.store, f.jobs, f.locks, d, Config{DeleteEmptyCopies: deleteCopies, Now: now})
}

func (f *fixture) copy(t *testing.T, id string, rule retention.RetentionRule, locked bool) {
	t.Helper()
	_, err := f.store.CreateCopy(context.Background(), retention.Copy{
		CopyID:        id,
		PlanID:        "plan-1",
		RetentionRule: rule,
		LockState:     retention.LockState{Locked: locked},
	}, "setup")
	if err != nil {
		t.Fatalf("CreateCopy() error = %v", err)
	}
}

func (f *fixture) job(id, copyID string, age time.Duration, cycle uint64) {
	f.jobs.Add(context.Background(), retention.Job{
		JobID: id, CopyID: copyID, CreatedAt: t0.Add(-age), CycleNumber: cycle, IsFull: true,
	})
}

// holdingDeleter keeps every report callback until the test releases it.
type holdingDeleter struct {
	mu      sync.Mutex
	intents []Intent
	reports []func(Outcome)
}

func (d *holdingDeleter) Submit(_ context.Context, in Intent, report func(Outcome)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.intents = append(d.intents, in)
	d.reports = append(d.reports, report)
	return nil
}

func (d *holdingDeleter) releaseAll(err error) {
	d.mu.Lock()
	reports, intents := d.reports, d.intents
	d.reports, d.intents = nil, nil
	d.mu.Unlock()
	for i, r := range reports {
		r(Outcome{Intent: intents[i], Err: err})
	}
}

func (d *holdingDeleter) submitted() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.intents)
}

func TestSweep_PrunesExpiredJobs(t *testing.T) {
	f := newFixture(t)
	f.copy(t, "C", retention.Days(7), false)
	f.job("old", "C", 10*day, 1)
	f.job("new", "C", 1*day, 2)

	report, err := f.sweeper(NewLogDeleter(), false).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(report.Issued) != 1 || report.Issued[0].JobID != "old" || report.Issued[0].Kind != IntentJob {
		t.Fatalf("Issued = %+v, want one job intent for old", report.Issued)
	}
	if report.Issued[0].SweepID != report.SweepID {
		t.Error("intent should carry the sweep ID")
	}

	c, _ := f.store.GetCopy(context.Background(), "C")
	if !c.IsPruned("old") || c.IsPruned("new") {
		t.Errorf("PrunedJobIDs = %v, want [old]", c.PrunedJobIDs)
	}

	recs, _ := f.audit.Query(context.Background(), retention.AuditQuery{Operation: retention.OpDeleteJob})
	if len(recs) != 1 || recs[0].Actor != Actor || recs[0].Result != retention.ResultAccepted {
		t.Errorf("delete_job audit = %+v", recs)
	}

	// The pruned job is not offered again.
	report, _ = f.sweeper(NewLogDeleter(), false).Sweep(context.Background())
	if len(report.Issued) != 0 {
		t.Errorf("second sweep issued %+v", report.Issued)
	}
}

func TestSweep_JobBased(t *testing.T) {
	f := newFixture(t)
	f.copy(t, "C", retention.Cycles(2), true)
	f.job("j1", "C", 3*day, 1)
	f.job("j2", "C", 2*day, 2)
	f.job("j3", "C", 1*day, 3)

	d := &holdingDeleter{}
	report, err := f.sweeper(d, false).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(report.Issued) != 1 || report.Issued[0].JobID != "j1" {
		t.Errorf("Issued = %+v, want only j1", report.Issued)
	}
}

func TestSweep_ProtectedJobsUntouched(t *testing.T) {
	f := newFixture(t)
	f.copy(t, "C", retention.Days(30), true)
	f.job("j1", "C", 10*day, 1)

	d := &holdingDeleter{}
	report, err := f.sweeper(d, true).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if d.submitted() != 0 || len(report.Issued) != 0 {
		t.Errorf("issued intents for a protected job: %+v", report.Issued)
	}
	if len(report.Copies) != 1 || report.Copies[0].Deletable {
		t.Errorf("Copies = %+v", report.Copies)
	}
}

func TestSweep_KeepsExtendedFulls(t *testing.T) {
	f := newFixture(t)
	f.copy(t, "C", retention.Days(7), true)
	if _, err := f.locks.ChangeExtendedRetention(context.Background(), "C", []retention.ExtendedRule{
		{Frequency: retention.FrequencyMonthly, Days: 365},
	}); err != nil {
		t.Fatalf("ChangeExtendedRetention() error = %v", err)
	}
	// t0 is May 1st: march-a opens March, march-b does not.
	f.job("march-a", "C", 60*day, 1)
	f.job("march-b", "C", 50*day, 2)
	f.job("recent", "C", 1*day, 3)

	report, err := f.sweeper(NewLogDeleter(), true).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(report.Issued) != 1 || report.Issued[0].JobID != "march-b" {
		t.Fatalf("Issued = %+v, want only march-b", report.Issued)
	}

	c, _ := f.store.GetCopy(context.Background(), "C")
	if c.IsPruned("march-a") || !c.IsPruned("march-b") {
		t.Errorf("PrunedJobIDs = %v, want [march-b]", c.PrunedJobIDs)
	}
}

func TestSweep_FailedDeletionRetried(t *testing.T) {
	f := newFixture(t)
	f.copy(t, "C", retention.Days(1), false)
	f.job("j1", "C", 2*day, 1)

	d := &holdingDeleter{}
	s := f.sweeper(d, false)

	s.Sweep(context.Background())
	d.releaseAll(errors.New("array offline"))

	c, _ := f.store.GetCopy(context.Background(), "C")
	if c.IsPruned("j1") || c.Version != 1 {
		t.Fatalf("failed deletion was recorded: %+v", c)
	}

	report, _ := s.Sweep(context.Background())
	if len(report.Issued) != 1 {
		t.Fatalf("retry sweep issued %d intents, want 1", len(report.Issued))
	}
	d.releaseAll(nil)
	c, _ = f.store.GetCopy(context.Background(), "C")
	if !c.IsPruned("j1") {
		t.Error("confirmed deletion was not recorded")
	}
}

func TestSweep_InFlightNotReissued(t *testing.T) {
	f := newFixture(t)
	f.copy(t, "C", retention.Days(1), false)
	f.job("j1", "C", 2*day, 1)

	d := &holdingDeleter{}
	s := f.sweeper(d, false)

	s.Sweep(context.Background())
	report, _ := s.Sweep(context.Background())
	if len(report.Issued) != 0 || report.Copies[0].InFlight != 1 {
		t.Errorf("second sweep = %+v, want the in-flight intent skipped", report)
	}
	if d.submitted() != 1 {
		t.Errorf("deleter received %d intents, want 1", d.submitted())
	}
	if n := len(s.InFlight()); n != 1 {
		t.Errorf("InFlight() = %d, want 1", n)
	}

	d.releaseAll(nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if n := len(s.InFlight()); n != 0 {
		t.Errorf("InFlight() after report = %d, want 0", n)
	}
}

func TestSweep_DeleteEmptyCopies(t *testing.T) {
	tests := []struct {
		name         string
		deleteCopies bool
		wantCopy     bool
	}{
		{"enabled", true, false},
		{"disabled", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.copy(t, "C", retention.Days(1), false)
			f.job("j1", "C", 5*day, 1)
			f.job("j2", "C", 4*day, 2)

			report, err := f.sweeper(NewLogDeleter(), tt.deleteCopies).Sweep(context.Background())
			if err != nil {
				t.Fatalf("Sweep() error = %v", err)
			}

			c, err := f.store.GetCopy(context.Background(), "C")
			if tt.wantCopy {
				if err != nil {
					t.Fatalf("copy was deleted: %v", err)
				}
				if len(c.PrunedJobIDs) != 2 {
					t.Errorf("PrunedJobIDs = %v, want both jobs", c.PrunedJobIDs)
				}
				return
			}
			if !errors.Is(err, retention.ErrNotFound) {
				t.Errorf("GetCopy() error = %v, want NotFound", err)
			}
			if len(report.Issued) != 1 || report.Issued[0].Kind != IntentCopy {
				t.Errorf("Issued = %+v, want one copy intent", report.Issued)
			}
		})
	}
}

func TestSweep_Canceled(t *testing.T) {
	f := newFixture(t)
	f.copy(t, "C", retention.Days(1), false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.sweeper(NewLogDeleter(), false).Sweep(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Sweep() error = %v, want context.Canceled", err)
	}
	if report != nil && len(report.Copies) != 0 {
		t.Errorf("canceled sweep evaluated %d copies", len(report.Copies))
	}
}

type failingSource struct{}

func (failingSource) Jobs(ctx context.Context, copyID string) ([]retention.Job, error) {
	return nil, retention.NewCollaboratorError("job_source", copyID, errors.New("catalog offline"))
}

func TestSweep_JobSourceFailureSkipsCopy(t *testing.T) {
	f := newFixture(t)
	f.copy(t, "C", retention.Days(1), false)

	s := NewSweeper(f.store, failingSource{}, f.locks, NewLogDeleter(), Config{Now: now})
	report, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if report.Skipped != 1 || report.Copies[0].Error == "" {
		t.Errorf("report = %+v, want the copy skipped", report)
	}
}

// extendingSource raises the copy's retention on the first catalog read,
// after the sweep has listed the copy but before any intent is submitted.
type extendingSource struct {
	retention.JobSource
	store *store.MemoryStore
	once  sync.Once
}

func (s *extendingSource) Jobs(ctx context.Context, copyID string) ([]retention.Job, error) {
	s.once.Do(func() {
		c, _ := s.store.GetCopy(ctx, copyID)
		next := c.Clone()
		next.RetentionRule = retention.Days(365)
		s.store.CompareAndSwap(ctx, retention.Mutation{
			CopyID: copyID, ExpectedVersion: c.Version, NewState: next,
			Actor: "admin", Operation: retention.OpChangeRetention,
		})
	})
	return s.JobSource.Jobs(ctx, copyID)
}

func TestSweep_WithdrawsIntentAfterRetentionChange(t *testing.T) {
	tests := []struct {
		name         string
		deleteCopies bool
	}{
		{"expired job", false},
		{"empty copy", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.copy(t, "C", retention.Days(7), false)
			f.job("old", "C", 10*day, 1)

			src := &extendingSource{JobSource: f.jobs, store: f.store}
			d := &holdingDeleter{}
			sw := NewSweeper(f.store, src, f.locks, d, Config{DeleteEmptyCopies: tt.deleteCopies, Now: now})

			report, err := sw.Sweep(context.Background())
			if err != nil {
				t.Fatalf("Sweep() error = %v", err)
			}
			if d.submitted() != 0 || len(report.Issued) != 0 {
				t.Errorf("submitted %d intents (%+v), want none after retention was raised", d.submitted(), report.Issued)
			}
			if len(sw.InFlight()) != 0 {
				t.Errorf("InFlight() = %+v, want empty", sw.InFlight())
			}

			c, _ := f.store.GetCopy(context.Background(), "C")
			if c.RetentionRule != retention.Days(365) || c.IsPruned("old") {
				t.Errorf("copy = %+v, want raised retention and nothing pruned", c)
			}
		})
	}
}

func TestPreview_IssuesNothing(t *testing.T) {
	f := newFixture(t)
	f.copy(t, "C", retention.Days(1), false)
	f.job("j1", "C", 2*day, 1)

	d := &holdingDeleter{}
	report, err := f.sweeper(d, false).Preview(context.Background())
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if !report.DryRun || d.submitted() != 0 {
		t.Errorf("Preview() submitted intents: %+v", report)
	}
	if len(report.Copies) != 1 || len(report.Copies[0].ExpiredJobs) != 1 {
		t.Errorf("Copies = %+v, want j1 eligible", report.Copies)
	}
}

// blockingDeleter blocks Submit until released.
type blockingDeleter struct {
	entered chan struct{}
	release chan struct{}
}

func (d *blockingDeleter) Submit(_ context.Context, in Intent, report func(Outcome)) error {
	close(d.entered)
	<-d.release
	report(Outcome{Intent: in, Err: errors.New("not now")})
	return nil
}

func TestSweep_OneAtATime(t *testing.T) {
	f := newFixture(t)
	f.copy(t, "C", retention.Days(1), false)
	f.job("j1", "C", 2*day, 1)

	d := &blockingDeleter{entered: make(chan struct{}), release: make(chan struct{})}
	s := f.sweeper(d, false)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Sweep(context.Background())
	}()

	<-d.entered
	if _, err := s.Sweep(context.Background()); !errors.Is(err, ErrSweepRunning) {
		t.Errorf("concurrent Sweep() error = %v, want ErrSweepRunning", err)
	}
	if _, err := s.Preview(context.Background()); err != nil {
		t.Errorf("Preview() during a sweep error = %v", err)
	}
	close(d.release)
	<-done
}

func TestScheduler_Start(t *testing.T) {
	tests := []struct {
		name      string
		schedule  string
		wantError bool
	}{
		{"interval", "", false},
		{"daily cron", "0 3 * * *", false},
		{"invalid cron", "invalid cron", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			s := NewSweeper(f.store, f.jobs, f.locks, NewLogDeleter(), Config{Interval: time.Hour, Schedule: tt.schedule, Now: now})
			sched := NewScheduler(s)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			err := sched.Start(ctx)
			if (err != nil) != tt.wantError {
				t.Fatalf("Start() error = %v, wantError %v", err, tt.wantError)
			}
			if sched.IsRunning() == tt.wantError {
				t.Errorf("IsRunning() = %v", sched.IsRunning())
			}
			if tt.wantError {
				if sched.NextRun() != nil {
					t.Error("NextRun() should be nil when not running")
				}
				return
			}

			next := sched.NextRun()
			if next == nil || !next.After(time.Now()) {
				t.Errorf("NextRun() = %v, want a future time", next)
			}
			if err := sched.Start(ctx); err == nil {
				t.Error("second Start() should fail")
			}

			sched.Stop()
			if sched.IsRunning() {
				t.Error("IsRunning() after Stop() = true")
			}
		})
	}
}

func TestScheduler_PauseAndRunNow(t *testing.T) {
	f := newFixture(t)
	f.copy(t, "C", retention.Days(1), false)
	f.job("j1", "C", 2*day, 1)

	sched := NewScheduler(f.sweeper(NewLogDeleter(), false))
	sched.Pause()
	if !sched.Paused() {
		t.Fatal("Paused() = false after Pause()")
	}

	report, err := sched.RunNow(context.Background())
	if err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if len(report.Issued) != 1 {
		t.Errorf("RunNow() issued %d intents, want 1", len(report.Issued))
	}

	sched.Resume()
	if sched.Paused() {
		t.Error("Paused() = true after Resume()")
	}
}

func TestScheduler_StopsWithContext(t *testing.T) {
	f := newFixture(t)
	sched := NewScheduler(f.sweeper(NewLogDeleter(), false))

	ctx, cancel := context.WithCancel(context.Background())
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for sched.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sched.IsRunning() {
		t.Error("scheduler still running after context cancellation")
	}
}

func TestScheduler_StopReleasesContextWatcher(t *testing.T) {
	f := newFixture(t)
	sched := NewScheduler(f.sweeper(NewLogDeleter(), false))

	for run := 0; run < 2; run++ {
		if err := sched.Start(context.Background()); err != nil {
			t.Fatalf("run %d: Start() error = %v", run, err)
		}
		done := sched.watchDone
		sched.Stop()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("run %d: context watcher still running after Stop", run)
		}
	}
}

func TestWebhookDeleter(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		token    string
		wantAuth string
		wantErr  bool
	}{
		{"accepted", http.StatusAccepted, "", "", false},
		{"bearer token", http.StatusOK, "s3cret", "Bearer s3cret", false},
		{"server error", http.StatusInternalServerError, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			type delivery struct {
				intent Intent
				key    string
				auth   string
			}
			received := make(chan delivery, 1)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var in Intent
				json.NewDecoder(r.Body).Decode(&in)
				received <- delivery{intent: in, key: r.Header.Get("Idempotency-Key"), auth: r.Header.Get("Authorization")}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			d, err := NewWebhookDeleter(WebhookConfig{URL: srv.URL, Timeout: time.Second, Token: tt.token})
			if err != nil {
				t.Fatalf("NewWebhookDeleter() error = %v", err)
			}

			intent := Intent{ID: "i-1", Kind: IntentJob, PlanID: "p", CopyID: "c", JobID: "j", IssuedAt: t0}
			outcomes := make(chan Outcome, 1)
			if err := d.Submit(context.Background(), intent, func(o Outcome) { outcomes <- o }); err != nil {
				t.Fatalf("Submit() error = %v", err)
			}

			select {
			case o := <-outcomes:
				if (o.Err != nil) != tt.wantErr {
					t.Errorf("outcome error = %v, wantErr %v", o.Err, tt.wantErr)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("no outcome reported")
			}
			got := <-received
			if got.intent.ID != "i-1" || got.intent.JobID != "j" || got.key != "i-1" {
				t.Errorf("webhook received %+v with key %q", got.intent, got.key)
			}
			if got.auth != tt.wantAuth {
				t.Errorf("Authorization = %q, want %q", got.auth, tt.wantAuth)
			}
		})
	}
}

func TestNewWebhookDeleter_RequiresURL(t *testing.T) {
	if _, err := NewWebhookDeleter(WebhookConfig{}); err == nil {
		t.Error("NewWebhookDeleter() without URL should fail")
	}
}
