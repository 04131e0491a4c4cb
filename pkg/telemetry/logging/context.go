package logging

import (
	"context"
)

// Context keys for common log fields.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// ActorKey is the context key for the user or service requesting an
	// operation.
	ActorKey contextKey = "actor"

	// CopyIDKey is the context key for copy identifiers.
	CopyIDKey contextKey = "copy_id"

	// PlanIDKey is the context key for plan identifiers.
	PlanIDKey contextKey = "plan_id"

	// SweepIDKey is the context key for aging sweep identifiers.
	SweepIDKey contextKey = "sweep_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

// WithActor adds the requesting actor to the context.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// GetActor retrieves the requesting actor from the context.
func GetActor(ctx context.Context) string {
	return getString(ctx, ActorKey)
}

// WithCopyID adds a copy ID to the context.
func WithCopyID(ctx context.Context, copyID string) context.Context {
	return context.WithValue(ctx, CopyIDKey, copyID)
}

// GetCopyID retrieves the copy ID from the context.
func GetCopyID(ctx context.Context) string {
	return getString(ctx, CopyIDKey)
}

// WithPlanID adds a plan ID to the context.
func WithPlanID(ctx context.Context, planID string) context.Context {
	return context.WithValue(ctx, PlanIDKey, planID)
}

// GetPlanID retrieves the plan ID from the context.
func GetPlanID(ctx context.Context) string {
	return getString(ctx, PlanIDKey)
}

// WithSweepID adds an aging sweep ID to the context.
func WithSweepID(ctx context.Context, sweepID string) context.Context {
	return context.WithValue(ctx, SweepIDKey, sweepID)
}

// GetSweepID retrieves the aging sweep ID from the context.
func GetSweepID(ctx context.Context) string {
	return getString(ctx, SweepIDKey)
}

func getString(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// extractContextFields extracts common fields from context for logging.
// Returns a slice of key-value pairs suitable for logger.With().
func extractContextFields(ctx context.Context) []any {
	var fields []any
	for _, key := range []contextKey{RequestIDKey, ActorKey, SweepIDKey, PlanIDKey, CopyIDKey} {
		if v := getString(ctx, key); v != "" {
			fields = append(fields, string(key), v)
		}
	}
	return fields
}
