package audit

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/ratchet/pkg/retention"
)

// MemoryLog implements retention.AuditLog in memory.
// Intended for tests and the memory backend; records are lost on exit.
type MemoryLog struct {
	records []retention.AuditRecord
	mu      sync.RWMutex
	now     func() time.Time
}

// NewMemoryLog creates an empty in-memory audit log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{now: time.Now}
}

// Append stores recs. All records are appended or none.
func (l *MemoryLog) Append(ctx context.Context, recs ...retention.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return retention.NewStorageError("memory", "append", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, rec := range recs {
		l.records = append(l.records, prepare(rec, l.now))
	}
	return nil
}

// Query returns matching records ordered by timestamp.
func (l *MemoryLog) Query(ctx context.Context, q retention.AuditQuery) ([]retention.AuditRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []retention.AuditRecord
	for _, rec := range l.records {
		if matches(rec, q) {
			out = append(out, rec)
		}
	}
	slices.SortStableFunc(out, func(a, b retention.AuditRecord) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out, nil
}

// Ping always succeeds.
func (l *MemoryLog) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (l *MemoryLog) Close() error { return nil }

// Size returns the number of stored records (for testing).
func (l *MemoryLog) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Records returns every record in append order (for testing).
func (l *MemoryLog) Records() []retention.AuditRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.records)
}

// prepare fills in the ID and timestamp of a record.
func prepare(rec retention.AuditRecord, now func() time.Time) retention.AuditRecord {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	return rec
}

func matches(rec retention.AuditRecord, q retention.AuditQuery) bool {
	if q.CopyID != "" && rec.CopyID != q.CopyID {
		return false
	}
	if q.PlanID != "" && rec.PlanID != q.PlanID {
		return false
	}
	if q.Operation != "" && rec.Operation != q.Operation {
		return false
	}
	if q.Result != "" && rec.Result != q.Result {
		return false
	}
	if !q.From.IsZero() && rec.Timestamp.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !rec.Timestamp.Before(q.To) {
		return false
	}
	return true
}
