package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTraceID        contextKey = "trace_id"
	keyUserID         contextKey = "user_id"
	keyDeliberationID contextKey = "deliberation_id"
)

// WithTraceID adds trace ID to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID extracts trace ID from context.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTraceID).(string)
	return v, ok && v != ""
}

// WithUserID adds user ID to context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, keyUserID, userID)
}

// UserID extracts user ID from context.
func UserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyUserID).(string)
	return v, ok && v != ""
}

// WithDeliberationID adds the deliberation ID to context.
func WithDeliberationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyDeliberationID, id)
}

// DeliberationID extracts the deliberation ID from context.
func DeliberationID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyDeliberationID).(string)
	return v, ok && v != ""
}
