package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/ratchet/pkg/retention"
)

var t0 = time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

func sampleJobs() []retention.Job {
	return []retention.Job{
		{JobID: "j2", CopyID: "c1", CreatedAt: t0.Add(time.Hour), CycleNumber: 2, IsFull: true},
		{JobID: "j1", CopyID: "c1", CreatedAt: t0, CycleNumber: 1, IsFull: true},
		{JobID: "x1", CopyID: "c2", CreatedAt: t0, CycleNumber: 1, IsFull: false},
	}
}

func TestSources(t *testing.T) {
	ctx := context.Background()

	sqlite, err := NewSQLiteSource(filepath.Join(t.TempDir(), "jobs.db"), 0)
	if err != nil {
		t.Fatalf("NewSQLiteSource() error = %v", err)
	}
	defer sqlite.Close()

	sources := map[string]interface {
		retention.JobSource
		Add(context.Context, ...retention.Job) error
		Remove(context.Context, string, string) error
	}{
		"memory": NewMemorySource(),
		"sqlite": sqlite,
	}

	for name, src := range sources {
		t.Run(name, func(t *testing.T) {
			if err := src.Add(ctx, sampleJobs()...); err != nil {
				t.Fatalf("Add() error = %v", err)
			}

			got, err := src.Jobs(ctx, "c1")
			if err != nil {
				t.Fatalf("Jobs() error = %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("Jobs(c1) = %d jobs, want 2", len(got))
			}

			// Re-adding a job replaces it.
			updated := sampleJobs()[1]
			updated.IsFull = false
			src.Add(ctx, updated)
			got, _ = src.Jobs(ctx, "c1")
			if len(got) != 2 {
				t.Errorf("upsert changed job count to %d", len(got))
			}

			if err := src.Remove(ctx, "c1", "j1"); err != nil {
				t.Fatalf("Remove() error = %v", err)
			}
			got, _ = src.Jobs(ctx, "c1")
			if len(got) != 1 || got[0].JobID != "j2" {
				t.Errorf("Jobs(c1) after remove = %v, want [j2]", got)
			}
			if !got[0].CreatedAt.Equal(t0.Add(time.Hour)) {
				t.Errorf("CreatedAt = %v, want %v", got[0].CreatedAt, t0.Add(time.Hour))
			}

			none, err := src.Jobs(ctx, "unknown")
			if err != nil || len(none) != 0 {
				t.Errorf("Jobs(unknown) = %v, %v; want empty", none, err)
			}
		})
	}
}

// slowSource blocks until release is closed and counts calls.
type slowSource struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (s *slowSource) Jobs(ctx context.Context, copyID string) ([]retention.Job, error) {
	s.calls.Add(1)
	<-s.release
	if s.err != nil {
		return nil, s.err
	}
	return []retention.Job{{JobID: "j1", CopyID: copyID}}, nil
}

func TestCoalescing_SharesInFlightReads(t *testing.T) {
	src := &slowSource{release: make(chan struct{})}
	c := NewCoalescing(src)

	const callers = 5
	var wg sync.WaitGroup
	results := make([][]retention.Job, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = c.Jobs(context.Background(), "c1")
		}()
	}

	// Give every caller time to join the flight before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(src.release)
	wg.Wait()

	if n := src.calls.Load(); n != 1 {
		t.Errorf("source called %d times, want 1", n)
	}
	for i, r := range results {
		if len(r) != 1 {
			t.Errorf("caller %d got %v", i, r)
		}
	}

	// Returned slices must be independent.
	results[0][0].JobID = "changed"
	if results[1][0].JobID != "j1" {
		t.Error("coalesced callers should not share the result slice")
	}
}

func TestCoalescing_NoCaching(t *testing.T) {
	src := &slowSource{release: make(chan struct{})}
	close(src.release)
	c := NewCoalescing(src)

	c.Jobs(context.Background(), "c1")
	c.Jobs(context.Background(), "c1")
	if n := src.calls.Load(); n != 2 {
		t.Errorf("sequential reads hit the source %d times, want 2", n)
	}
}

func TestCoalescing_ErrorsAndCancellation(t *testing.T) {
	boom := errors.New("catalog offline")
	src := &slowSource{release: make(chan struct{}), err: boom}
	close(src.release)

	if _, err := NewCoalescing(src).Jobs(context.Background(), "c1"); !errors.Is(err, boom) {
		t.Errorf("Jobs() error = %v, want %v", err, boom)
	}

	blocked := &slowSource{release: make(chan struct{})}
	defer close(blocked.release)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewCoalescing(blocked).Jobs(ctx, "c1"); !errors.Is(err, context.Canceled) {
		t.Errorf("Jobs() with canceled context error = %v, want context.Canceled", err)
	}
}
