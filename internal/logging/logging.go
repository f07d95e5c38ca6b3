// Package logging provides a scoped, MDC-style logging context used across
// every component of the platform so log lines carry realm, user, and
// operation correlation without threading those values through every
// function signature.
package logging

import (
	"context"
	"log/slog"
	"os"
)

type ctxKey struct{}

// Setup configures the process-wide default logger, mirroring the
// environment-sensitive handler selection used across the rest of the
// codebase: JSON in production for machine parsing, text in development.
func Setup(env string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// WithScope returns a new context carrying a logger enriched with the given
// key/value attributes, layered on top of whatever scope (if any) was
// already present in ctx. Inner scopes shadow outer attributes of the same
// key; the outer scope is restored automatically once the derived context
// falls out of use, since nothing mutates the parent context's value.
func WithScope(ctx context.Context, args ...any) context.Context {
	base := FromContext(ctx)
	return context.WithValue(ctx, ctxKey{}, base.With(args...))
}

// FromContext returns the logger attached to ctx, or the global default
// logger if none was scoped in.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
