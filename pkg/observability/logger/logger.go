// Package logger is the structured logging facade used by repokit. Every
// component takes a Logger; ZapLogger is the production implementation and
// NewNop the silent default.
package logger

import (
	"context"
)

// Logger is a leveled, key-value logger. Arguments after msg alternate
// key and value.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a child logger that adds args to every entry.
	With(args ...any) Logger
	// WithContext returns a child logger carrying the correlation ID of ctx.
	WithContext(ctx context.Context) Logger
}

type correlationKey struct{}

// ContextWithCorrelationID returns a context carrying id. Loggers derived
// with WithContext add it as the "correlation_id" field.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the correlation ID stored in ctx, if any.
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
