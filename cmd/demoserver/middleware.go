package main

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"

	"kodex/internal/kodex"
	"kodex/internal/tokens"
)

type ctxKey int

const (
	ctxKeyServices ctxKey = iota
	ctxKeyClaims
)

// realmContext resolves the {realm} path segment against the registry and
// rejects unknown realms with 404 rather than letting a handler panic on a
// nil *kodex.Services, mirroring the teacher's TenantContext middleware
// failing the request before any handler runs.
func realmContext(registry *kodex.RealmRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			realm := chi.URLParam(r, "realm")
			svc, err := registry.ServicesFor(realm)
			if err != nil {
				http.Error(w, "unknown realm", http.StatusNotFound)
				return
			}
			if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
				hub.Scope().SetTag("realm", realm)
			}
			ctx := context.WithValue(r.Context(), ctxKeyServices, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// panicRecovery logs a recovered panic with its stack trace, reports it
// to Sentry when a hub is attached to the request context, and responds
// with a generic 500 rather than letting the panic reach chi's own
// recoverer. Grounded in the teacher's internal/api/middleware/recovery.go.
func panicRecovery(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error("panic recovered",
						"error", err,
						"path", r.URL.Path,
						"method", r.Method,
						"stack", string(debug.Stack()),
					)
					if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
						hub.Recover(err)
					}
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// requireAuth verifies the bearer access token against the realm resolved
// by realmContext, which must run first.
func requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		svc := servicesFromContext(r.Context())
		if svc == nil {
			http.Error(w, "unknown realm", http.StatusNotFound)
			return
		}

		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		token := strings.TrimPrefix(header, prefix)

		claims, err := svc.Tokens.Verify(token, svc.Realm)
		if err != nil {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
		if claims.Scope != "access" {
			http.Error(w, "token is not an access token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func servicesFromContext(ctx context.Context) *kodex.Services {
	svc, _ := ctx.Value(ctxKeyServices).(*kodex.Services)
	return svc
}

func claimsFromContext(ctx context.Context) *tokens.Claims {
	claims, _ := ctx.Value(ctxKeyClaims).(*tokens.Claims)
	return claims
}
