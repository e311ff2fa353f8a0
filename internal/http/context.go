package http

import "context"

type contextKey string

const (
	requestIDContextKey contextKey = "rulebook/request-id"
	userIDContextKey    contextKey = "rulebook/user-id"
)

// RequestIDFromContext extracts the request identifier from the context when available.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(requestIDContextKey).(string); ok {
		return value
	}
	return ""
}

// UserIDFromContext returns the authenticated caller, or "" on public operations.
func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(userIDContextKey).(string); ok {
		return value
	}
	return ""
}
