package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/racecontrol/internal/adapter/httpserver"
	"github.com/pscheid92/racecontrol/internal/adapter/metrics"
	"github.com/pscheid92/racecontrol/internal/adapter/postgres"
	"github.com/pscheid92/racecontrol/internal/adapter/websocket"
	"github.com/pscheid92/racecontrol/internal/app"
	"github.com/pscheid92/racecontrol/internal/broadcast"
	"github.com/pscheid92/racecontrol/internal/platform/config"
	"github.com/pscheid92/racecontrol/internal/platform/logging"
	"github.com/pscheid92/racecontrol/internal/platform/retry"
	"github.com/pscheid92/racecontrol/internal/platform/version"
)

const (
	connectTimeout   = 60 * time.Second
	migrationTimeout = 30 * time.Second
	restoreTimeout   = 15 * time.Second
)

type components struct {
	router    *postgres.Router
	hub       *broadcast.Hub
	announcer *broadcast.Announcer
}

func runGracefulShutdown(cfg *config.Config, srv *httpserver.Server, c components) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		if err := c.announcer.Drain(shutdownCtx); err != nil {
			slog.Warn("Announcements still in flight at shutdown", "error", err)
		}
		c.hub.Close()
		c.router.Close()

		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// setupDB connects to the control database, retrying while the server is
// still coming up, and applies the catalog migrations.
func setupDB(cfg *config.Config, clock clockwork.Clock, dbMetrics *metrics.DBMetrics) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	policy := retry.Policy{
		MaxAttempts:    8,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		Clock:          clock,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Database not reachable yet, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	tracer := postgres.NewMetricsTracer(dbMetrics, clock)

	pool, err := retry.Do(ctx, policy, postgres.ClassifyConnectError, func(ctx context.Context) (*pgxpool.Pool, error) {
		return postgres.Connect(ctx, cfg.DatabaseURL, tracer)
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), migrationTimeout)
	defer cancelMigrate()
	if err := postgres.RunMigrationsWithLock(migrateCtx, pool); err != nil {
		pool.Close()
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func healthChecks(pool *pgxpool.Pool, router *postgres.Router) []httpserver.HealthCheck {
	return []httpserver.HealthCheck{
		{Name: "control_db", Check: pool.Ping},
		// the routed database may be gone after a delete; start and load
		// must stay reachable to recover
		{Name: "session_db", Advisory: true, Check: func(ctx context.Context) error {
			h := router.Resolve()
			if h.IsControl() {
				return nil
			}
			return h.Pool.Ping(ctx)
		}},
	}
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().String())

	reg := metrics.NewRegistry()
	httpMetrics := metrics.NewHTTPMetrics(reg)
	hubMetrics := metrics.NewHubMetrics(reg)
	sessionMetrics := metrics.NewSessionMetrics(reg)
	dbMetrics := metrics.NewDBMetrics(reg)
	metrics.RegisterBuildInfo(reg, version.Version, version.Commit)

	pool := setupDB(cfg, clock, dbMetrics)
	defer pool.Close()

	router := postgres.NewRouter(pool, clock, cfg.RouterRetireGrace, sessionMetrics)
	hub := broadcast.NewHub(hubMetrics)
	announcer := broadcast.NewAnnouncer(hub)

	svc := app.NewService(app.Deps{
		Catalog:     postgres.NewCatalogRepo(pool),
		Provisioner: postgres.NewProvisioner(pool),
		Router:      router,
		Announcer:   announcer,
		Records:     postgres.NewRecordReader(router),
		Clock:       clock,
		Metrics:     sessionMetrics,
		ExportDir:   cfg.SessionExportDir,
	})

	restoreCtx, cancelRestore := context.WithTimeout(context.Background(), restoreTimeout)
	svc.Restore(restoreCtx)
	cancelRestore()

	checkOrigin := websocket.NewCheckOrigin(cfg.AllowedOrigins(), cfg.AppEnv == "development")
	wsHandler := websocket.NewHandler(hub, clock, checkOrigin)

	srv := httpserver.NewServer(httpserver.Deps{
		Config:         cfg,
		Sessions:       svc,
		Subscribers:    hub,
		WebSocket:      wsHandler.Serve,
		HealthChecks:   healthChecks(pool, router),
		HTTPMetrics:    httpMetrics,
		MetricsHandler: metrics.Handler(reg),
		Clock:          clock,
	})

	done := runGracefulShutdown(cfg, srv, components{router: router, hub: hub, announcer: announcer})

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
