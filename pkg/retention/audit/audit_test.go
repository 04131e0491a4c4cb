package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"mercator-hq/ratchet/pkg/retention"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSQLiteLog(t *testing.T) *SQLiteLog {
	t.Helper()
	l, err := NewSQLiteLog(SQLiteConfig{Path: filepath.Join(t.TempDir(), "audit.db")})
	if err != nil {
		t.Fatalf("NewSQLiteLog() error = %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func backends(t *testing.T) map[string]retention.AuditLog {
	return map[string]retention.AuditLog{
		"memory": NewMemoryLog(),
		"sqlite": newSQLiteLog(t),
	}
}

func sampleRecords() []retention.AuditRecord {
	locked := retention.LockState{Locked: true, LockedAt: t0, Floor: retention.Days(30)}
	return []retention.AuditRecord{
		{
			Timestamp: t0, Actor: "alice", CopyID: "c1", PlanID: "p1",
			Operation: retention.OpEnableLock, Result: retention.ResultAccepted,
			PriorState: &retention.CopyState{RetentionRule: retention.Days(30), Version: 1},
			NewState:   &retention.CopyState{RetentionRule: retention.Days(30), LockState: locked, Version: 2},
		},
		{
			Timestamp: t0.Add(time.Minute), Actor: "bob", CopyID: "c1", PlanID: "p1",
			Operation: retention.OpDisableLock, Result: retention.ResultRejected,
			Code: retention.CodeLockIsImmutable, Reason: "compliance lock cannot be removed",
		},
		{
			Timestamp: t0.Add(2 * time.Minute), Actor: "alice", CopyID: "c2", PlanID: "p2",
			Operation: retention.OpChangeRetention, Result: retention.ResultAccepted,
		},
	}
}

func TestAuditLog_AppendAndQuery(t *testing.T) {
	ctx := context.Background()

	for name, log := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := log.Append(ctx, sampleRecords()...); err != nil {
				t.Fatalf("Append() error = %v", err)
			}

			all, err := log.Query(ctx, retention.AuditQuery{})
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if len(all) != 3 {
				t.Fatalf("Query() returned %d records, want 3", len(all))
			}
			for _, rec := range all {
				if rec.ID == "" {
					t.Error("appended record should have an ID")
				}
			}

			first := all[0]
			if first.NewState == nil || !first.NewState.LockState.Locked {
				t.Errorf("NewState = %+v, want locked state", first.NewState)
			}
			if !first.NewState.LockState.LockedAt.Equal(t0) {
				t.Errorf("LockedAt = %v, want %v", first.NewState.LockState.LockedAt, t0)
			}
			if all[1].PriorState != nil {
				t.Error("rejected record should not carry a prior state")
			}
		})
	}
}

func TestAuditLog_QueryFilters(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		query retention.AuditQuery
		want  int
	}{
		{"by copy", retention.AuditQuery{CopyID: "c1"}, 2},
		{"by plan", retention.AuditQuery{PlanID: "p2"}, 1},
		{"by result", retention.AuditQuery{Result: retention.ResultRejected}, 1},
		{"by operation", retention.AuditQuery{Operation: retention.OpEnableLock}, 1},
		{"time range", retention.AuditQuery{From: t0.Add(30 * time.Second), To: t0.Add(2 * time.Minute)}, 1},
		{"limit", retention.AuditQuery{Limit: 2}, 2},
		{"no match", retention.AuditQuery{CopyID: "missing"}, 0},
	}

	for name, log := range backends(t) {
		if err := log.Append(ctx, sampleRecords()...); err != nil {
			t.Fatalf("%s: Append() error = %v", name, err)
		}
		for _, tt := range tests {
			t.Run(name+"/"+tt.name, func(t *testing.T) {
				got, err := log.Query(ctx, tt.query)
				if err != nil {
					t.Fatalf("Query() error = %v", err)
				}
				if len(got) != tt.want {
					t.Errorf("Query() returned %d records, want %d", len(got), tt.want)
				}
			})
		}
	}
}

func TestAuditLog_LimitKeepsNewest(t *testing.T) {
	ctx := context.Background()

	for name, log := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := log.Append(ctx, sampleRecords()...); err != nil {
				t.Fatalf("Append() error = %v", err)
			}

			tests := []struct {
				name  string
				query retention.AuditQuery
				want  []string
			}{
				{"all", retention.AuditQuery{Limit: 2}, []string{retention.OpDisableLock, retention.OpChangeRetention}},
				{"filtered", retention.AuditQuery{CopyID: "c1", Limit: 1}, []string{retention.OpDisableLock}},
				{"above count", retention.AuditQuery{Limit: 10}, []string{retention.OpEnableLock, retention.OpDisableLock, retention.OpChangeRetention}},
			}
			for _, tt := range tests {
				got, err := log.Query(ctx, tt.query)
				if err != nil {
					t.Fatalf("%s: Query() error = %v", tt.name, err)
				}
				var ops []string
				for _, rec := range got {
					ops = append(ops, rec.Operation)
				}
				if !slices.Equal(ops, tt.want) {
					t.Errorf("%s: operations = %v, want %v", tt.name, ops, tt.want)
				}
			}
		})
	}
}

func TestSQLiteLog_AppendOnly(t *testing.T) {
	l := newSQLiteLog(t)
	ctx := context.Background()

	if err := l.Append(ctx, sampleRecords()...); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if _, err := l.db.ExecContext(ctx, "UPDATE audit_records SET actor = 'mallory'"); err == nil {
		t.Error("UPDATE on audit_records should be rejected")
	}
	if _, err := l.db.ExecContext(ctx, "DELETE FROM audit_records"); err == nil {
		t.Error("DELETE on audit_records should be rejected")
	}

	got, _ := l.Query(ctx, retention.AuditQuery{})
	if len(got) != 3 {
		t.Errorf("record count = %d after tamper attempts, want 3", len(got))
	}
}

func TestSQLiteLog_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	ctx := context.Background()

	l, err := NewSQLiteLog(SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("NewSQLiteLog() error = %v", err)
	}
	if err := l.Append(ctx, sampleRecords()[0]); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	l.Close()

	l, err = NewSQLiteLog(SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer l.Close()

	got, err := l.Query(ctx, retention.AuditQuery{CopyID: "c1"})
	if err != nil || len(got) != 1 {
		t.Errorf("Query() after reopen = %d records, err %v; want 1", len(got), err)
	}
}

func TestMemoryLog_CanceledContext(t *testing.T) {
	l := NewMemoryLog()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.Append(ctx, sampleRecords()...); err == nil {
		t.Error("Append() with a canceled context should fail")
	}
	if l.Size() != 0 {
		t.Errorf("Size() = %d, want 0", l.Size())
	}
}

func TestJSONExporter(t *testing.T) {
	var buf bytes.Buffer
	exp := &JSONExporter{}

	if err := exp.Export(context.Background(), nil, &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("empty export = %q, want []", buf.String())
	}

	buf.Reset()
	if err := exp.Export(context.Background(), sampleRecords(), &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	var decoded []retention.AuditRecord
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("exported JSON does not decode: %v", err)
	}
	if len(decoded) != 3 || decoded[1].Code != retention.CodeLockIsImmutable {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestCSVExporter(t *testing.T) {
	var buf bytes.Buffer
	exp := &CSVExporter{IncludeHeader: true}

	if err := exp.Export(context.Background(), sampleRecords(), &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("exported CSV does not parse: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want header + 3", len(rows))
	}
	if rows[0][0] != "id" {
		t.Errorf("header[0] = %q, want id", rows[0][0])
	}
	// new_locked column of the enable_lock record
	if rows[1][13] != "true" {
		t.Errorf("new_locked = %q, want true", rows[1][13])
	}
}

func TestNewExporter(t *testing.T) {
	for _, format := range []string{"", "json", "csv"} {
		if _, err := NewExporter(format); err != nil {
			t.Errorf("NewExporter(%q) error = %v", format, err)
		}
	}
	if _, err := NewExporter("xml"); err == nil {
		t.Error("NewExporter(xml) should fail")
	}
}
