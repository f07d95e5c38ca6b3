// Command demoserver hosts every realm loaded by internal/config on one
// chi router, grounded in the teacher's cmd/api/main.go composition root
// (godotenv load, slog setup, pgxpool connect, graceful shutdown) but
// generalized from one tenant-per-process to N realms sharing one
// repository.Store, wired through internal/kodex.RealmRegistry instead of
// constructing a single auth.AuthService directly.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"kodex/internal/audit"
	"kodex/internal/config"
	"kodex/internal/events"
	"kodex/internal/kodex"
	"kodex/internal/logging"
	"kodex/internal/ratelimit"
	"kodex/internal/repository/postgres"
	"kodex/pkg/mailtransport"
)

func main() {
	cfg, err := config.Load()
	log := logging.Setup(cfg.Env)
	if err != nil {
		log.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	log.Info("application_startup", "env", cfg.Env, "realms", len(cfg.Realms))

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn, Environment: cfg.Env}); err != nil {
			log.Error("sentry_init_failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
			log.Info("sentry_initialized")
		}
	} else {
		log.Warn("sentry_dsn_missing", "details", "skipping_init")
	}

	ctx := context.Background()
	pool, err := postgres.Connect(ctx, cfg.Database.URL)
	if err != nil {
		log.Error("database_connect_failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	store := postgres.New(pool)
	log.Info("database_connected")

	bus := events.New(4, 256)
	defer bus.Close()
	audit.Subscribe(bus, audit.NewPostgresLogger(pool, log))

	registry := kodex.NewRealmRegistry(store, bus)
	for _, rc := range cfg.Realms {
		rc.EmailSender = &mailtransport.ConsoleSender{Channel: "email:" + rc.Name}
		rc.SMSSender = &mailtransport.ConsoleSender{Channel: "sms:" + rc.Name}
		if err := registry.Register(rc); err != nil {
			log.Error("realm_register_failed", "realm", rc.Name, "error", err)
			os.Exit(1)
		}
		log.Info("realm_registered", "realm", rc.Name)
	}

	limiter := ratelimit.NewIPLimiter(5, 10)
	router := NewRouter(registry, limiter, log)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("server_listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("server_startup_failed", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		log.Info("shutdown_signal_received", "signal", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful_shutdown_failed", "error", err)
			if err := srv.Close(); err != nil {
				log.Error("server_force_close_failed", "error", err)
			}
		}
		log.Info("server_shutdown_complete")
	}
}
