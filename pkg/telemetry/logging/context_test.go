package logging

import (
	"context"
	"testing"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	ctx = WithRequestID(ctx, "req-123")
	if got := GetRequestID(ctx); got != "req-123" {
		t.Errorf("GetRequestID() = %q, want %q", got, "req-123")
	}

	ctx = WithActor(ctx, "alice")
	if got := GetActor(ctx); got != "alice" {
		t.Errorf("GetActor() = %q, want %q", got, "alice")
	}

	ctx = WithCopyID(ctx, "copy-1")
	if got := GetCopyID(ctx); got != "copy-1" {
		t.Errorf("GetCopyID() = %q, want %q", got, "copy-1")
	}

	ctx = WithPlanID(ctx, "plan-1")
	if got := GetPlanID(ctx); got != "plan-1" {
		t.Errorf("GetPlanID() = %q, want %q", got, "plan-1")
	}

	ctx = WithSweepID(ctx, "sweep-1")
	if got := GetSweepID(ctx); got != "sweep-1" {
		t.Errorf("GetSweepID() = %q, want %q", got, "sweep-1")
	}
}

func TestContextKeys_Empty(t *testing.T) {
	ctx := context.Background()
	if GetActor(ctx) != "" || GetRequestID(ctx) != "" || GetCopyID(ctx) != "" {
		t.Error("getters on an empty context should return empty strings")
	}
}

func TestExtractContextFields(t *testing.T) {
	ctx := WithActor(WithRequestID(context.Background(), "req-1"), "bob")

	fields := extractContextFields(ctx)
	want := []any{"request_id", "req-1", "actor", "bob"}
	if len(fields) != len(want) {
		t.Fatalf("extractContextFields() = %v, want %v", fields, want)
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Errorf("field[%d] = %v, want %v", i, fields[i], want[i])
		}
	}
}
