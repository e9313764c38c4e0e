// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package logging

import (
	"context"

	"go.uber.org/zap"
)

type loggerCtxKey struct{}
type requestCtxKey struct{}
type systemCtxKey struct{}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 2)
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	if id := SystemIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("system.id", id))
	}
	return fields
}

// WithContext stores logger in context.
func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, l)
}

// FromContext retrieves the logger stored by WithContext.
// Returns a nop logger if none was stored.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, id)
}

func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return v
	}
	return ""
}

// WithSystemID tags the context with the tenant the request runs for.
func WithSystemID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, systemCtxKey{}, id)
}

func SystemIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(systemCtxKey{}).(string); ok {
		return v
	}
	return ""
}
