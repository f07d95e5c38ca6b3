package main

import (
	"log/slog"
	"net/http"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"kodex/internal/kodex"
	"kodex/internal/ratelimit"
)

// NewRouter wires one chi.Mux over every registered realm, grounded in the
// teacher's internal/api/router.go layering (RequestID/RealIP, then
// Sentry, then a logger, then panic recovery, then the rate limiter, then
// auth) but resolving the realm from a path segment instead of a
// tenant-id header, since this demo host has no tenant-lookup table to
// resolve a slug against.
func NewRouter(registry *kodex.RealmRegistry, limiter *ratelimit.IPLimiter, log *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	r.Use(requestLogger(log))
	r.Use(panicRecovery(log))
	r.Use(limiter.Middleware)

	r.Get("/health", healthHandler)

	r.Route("/{realm}", func(r chi.Router) {
		r.Use(realmContext(registry))

		h := &authHandler{}

		r.Post("/auth/register", h.register)
		r.Post("/auth/login", h.login)
		r.Post("/auth/refresh", h.refresh)
		r.Post("/auth/logout", h.logout)
		r.Post("/auth/mfa/challenge", h.createMFAChallenge)
		r.Post("/auth/mfa/verify", h.verifyMFAChallenge)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/me", h.me)
			r.Post("/auth/logout-all", h.logoutAll)
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Info("request", "method", r.Method, "path", r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
}
