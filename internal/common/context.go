package common

import (
	"context"
	"time"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRequestID contextKey = "request_id"
	ContextKeyCallerID  contextKey = "caller_id"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithCallerID stores the authenticated caller identity.
func WithCallerID(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, ContextKeyCallerID, callerID)
}

// CallerIDFromContext returns the authenticated caller identity, or "" if none.
func CallerIDFromContext(ctx context.Context) string {
	if callerID, ok := ctx.Value(ContextKeyCallerID).(string); ok {
		return callerID
	}
	return ""
}

// Detach returns a context that survives the parent's cancellation but keeps its values,
// bounded by timeout when positive.
func Detach(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx := context.WithoutCancel(parent)
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}
