package aging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the Sweeper periodically.
type Scheduler struct {
	sweeper *Sweeper
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	entry   cron.EntryID
	running bool
	paused  atomic.Bool

	// stop is closed by Stop; watchDone closes once the context watcher
	// of the current run has exited.
	stop      chan struct{}
	watchDone chan struct{}
}

// NewScheduler creates a scheduler for the sweeper. Overlapping runs are
// skipped rather than queued.
func NewScheduler(sweeper *Sweeper) *Scheduler {
	return &Scheduler{
		sweeper: sweeper,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:  slog.Default().With("component", "aging.scheduler"),
	}
}

// Start schedules sweeps using the cron expression in Config.Schedule, or
// every Config.Interval when no expression is set. ctx bounds every sweep;
// when it is canceled the scheduler stops.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("aging scheduler already running")
	}

	schedule, desc, err := s.schedule()
	if err != nil {
		return err
	}
	s.entry = s.cron.Schedule(schedule, cron.FuncJob(func() { s.tick(ctx) }))
	s.cron.Start()
	s.running = true

	s.logger.Info("aging scheduler started",
		"schedule", desc,
		"delete_empty_copies", s.sweeper.config.DeleteEmptyCopies,
	)

	stop, done := make(chan struct{}), make(chan struct{})
	s.stop, s.watchDone = stop, done
	go func() {
		defer close(done)
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stop:
		}
	}()

	return nil
}

func (s *Scheduler) schedule() (cron.Schedule, string, error) {
	cfg := s.sweeper.config
	if cfg.Schedule != "" {
		sched, err := cron.ParseStandard(cfg.Schedule)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cron schedule %q: %w", cfg.Schedule, err)
		}
		return sched, cfg.Schedule, nil
	}
	return cron.Every(cfg.Interval), "@every " + cfg.Interval.String(), nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.Paused() {
		s.logger.Debug("aging paused, skipping sweep")
		return
	}
	if _, err := s.sweeper.Sweep(ctx); err != nil && !errors.Is(err, ErrSweepRunning) {
		s.logger.Error("scheduled sweep failed", "error", err)
	}
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.cron.Remove(s.entry)
	close(s.stop)
	s.running = false
	s.logger.Info("aging scheduler stopped")
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// Pause keeps the schedule but skips sweeps until Resume.
func (s *Scheduler) Pause() {
	if s.paused.CompareAndSwap(false, true) {
		s.logger.Info("aging paused")
	}
}

// Resume re-enables scheduled sweeps.
func (s *Scheduler) Resume() {
	if s.paused.CompareAndSwap(true, false) {
		s.logger.Info("aging resumed")
	}
}

// Paused reports whether scheduled sweeps are being skipped.
func (s *Scheduler) Paused() bool {
	return s.paused.Load()
}

// RunNow runs a sweep immediately, independent of the schedule and of
// Pause. It returns ErrSweepRunning if a sweep is already in progress.
func (s *Scheduler) RunNow(ctx context.Context) (*Report, error) {
	return s.sweeper.Sweep(ctx)
}

// Preview reports what the next sweep would issue.
func (s *Scheduler) Preview(ctx context.Context) (*Report, error) {
	return s.sweeper.Preview(ctx)
}

// NextRun returns the next scheduled sweep, or nil when not running.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
