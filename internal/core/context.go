package core

import "context"

type contextKey string

const ctxKeyRunID contextKey = "ingest_run_id"

// ContextWithRunID attaches the run id so loggers downstream can tag entries.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ctxKeyRunID, runID)
}

// RunIDFromContext returns the run id stored by ContextWithRunID, or "".
func RunIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRunID).(string); ok {
		return v
	}
	return ""
}
