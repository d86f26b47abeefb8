// Package main is the entry point for the supasaasy server: a
// self-hosted ingestion layer that mirrors SaaS records into a local
// entity table via webhooks and scheduled syncs.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/leftbrainit/supasaasy/internal/config"
	"github.com/leftbrainit/supasaasy/internal/connector"
	"github.com/leftbrainit/supasaasy/internal/connector/hubspot"
	"github.com/leftbrainit/supasaasy/internal/connector/notion"
	"github.com/leftbrainit/supasaasy/internal/connector/stripe"
	"github.com/leftbrainit/supasaasy/internal/database"
	"github.com/leftbrainit/supasaasy/internal/http/handlers"
	"github.com/leftbrainit/supasaasy/internal/http/mw"
	"github.com/leftbrainit/supasaasy/internal/http/routes"
	"github.com/leftbrainit/supasaasy/internal/logging"
	"github.com/leftbrainit/supasaasy/internal/notify"
	"github.com/leftbrainit/supasaasy/internal/ratelimit"
	"github.com/leftbrainit/supasaasy/internal/repository"
	"github.com/leftbrainit/supasaasy/internal/scheduler"
	"github.com/leftbrainit/supasaasy/internal/shutdown"
	"github.com/leftbrainit/supasaasy/internal/syncengine"
	"github.com/leftbrainit/supasaasy/internal/version"
	"github.com/leftbrainit/supasaasy/internal/worker"
)

func main() {
	logger := logging.SetDefault()

	v := version.Get()
	logger.Info("starting supasaasy",
		"version", v.Version,
		"commit", v.Commit,
		"built", v.Date,
		"go_version", v.GoVersion,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	apps, err := config.LoadApps(cfg.AppConfigPath)
	if err != nil {
		logger.Error("failed to load app configuration", "path", cfg.AppConfigPath, "error", err)
		os.Exit(1)
	}
	logger.Info("app configuration loaded", "path", cfg.AppConfigPath, "apps", len(apps.Apps))

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := database.MigrateWithLogger(db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	schemaVersion, err := database.GetLatestSchemaVersion(db)
	if err != nil {
		logger.Warn("failed to get schema version", "error", err)
	} else if schemaVersion != "" {
		migrationCount, _ := database.GetMigrationCount(db)
		logger.Info("database schema ready", "schema_version", schemaVersion, "migrations_applied", migrationCount)
	}

	repos := repository.NewRepositories(db)

	// Tasks stuck in running from a previous run are safe to re-queue
	// because execution is idempotent.
	staleCount, err := repos.Job.RequeueStaleRunningTasks(context.Background(), 1*time.Hour)
	if err != nil {
		logger.Warn("failed to requeue stale tasks", "error", err)
	} else if staleCount > 0 {
		logger.Info("requeued stale running tasks", "count", staleCount)
	}

	registry := connector.NewRegistry(apps)
	registry.Register(stripe.New(repos.Entity, logger))
	registry.Register(hubspot.New(repos.Entity, logger))
	registry.Register(notion.New(repos.Entity, logger))
	connector.InitDefault(registry)
	logger.Info("connector registry initialized", "connectors", registry.Names())

	// Surface configuration problems at boot rather than on first use.
	for i := range apps.Apps {
		app := &apps.Apps[i]
		conn, err := registry.Get(app.Connector)
		if err != nil {
			logger.Error("app references unknown connector", "app_key", app.AppKey, "connector", app.Connector)
			os.Exit(1)
		}
		validation := conn.ValidateConfig(app, cfg.IsProduction())
		for _, warn := range validation.Warnings {
			logger.Warn("app configuration warning", "app_key", app.AppKey, "warning", warn)
		}
		if !validation.OK() {
			for _, msg := range validation.Errors {
				logger.Error("app configuration error", "app_key", app.AppKey, "error", msg)
			}
			os.Exit(1)
		}
	}

	notifier, err := notify.New(cfg.NotifyURL, cfg.NotifySecret, logger)
	if err != nil {
		logger.Error("failed to initialize notifier", "error", err)
		os.Exit(1)
	}
	if notifier != nil {
		logger.Info("job notifications enabled", "url", cfg.NotifyURL)
	}

	runner := syncengine.NewRunner(registry, repos.SyncState, logger)

	jobWorker := worker.New(repos.Job, registry, runner, notifier, worker.Config{
		PollInterval: cfg.WorkerPollInterval,
		WallClock:    cfg.WorkerWallClock,
		Concurrency:  cfg.WorkerConcurrency,
	}, logger)
	ctx, cancel := context.WithCancel(context.Background())
	jobWorker.Start(ctx)

	sched, err := scheduler.New(apps, registry, repos.Job, logger)
	if err != nil {
		logger.Error("failed to initialize scheduler", "error", err)
		os.Exit(1)
	}
	sched.Start()

	limiter := ratelimit.New()

	// Idle monitor for scale-to-zero deployments; disabled unless
	// IDLE_TIMEOUT is set. Active sync jobs hold the machine up.
	idleMonitor := shutdown.NewIdleMonitor(shutdown.IdleMonitorConfig{
		Timeout:      cfg.IdleTimeout,
		Logger:       logger,
		ExcludePaths: []string{"/api/v1/health"},
		BackgroundWorkCheck: func() bool {
			n, err := repos.Job.CountActive(context.Background())
			return err == nil && n > 0
		},
	})
	idleMonitor.Start()

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(idleMonitor.Middleware)

	// With no configured origins the CORS handler is not installed at
	// all: go-chi/cors treats an empty AllowedOrigins as allow-all.
	if len(cfg.CORSOrigins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Global IP limit; the per-app and per-token fixed windows apply on
	// top of this inside the handlers.
	router.Use(httprate.LimitByIP(300, time.Minute))

	humaConfig := huma.DefaultConfig("Supasaasy API", v.Short())
	humaConfig.Info.Description = "Self-hosted SaaS record ingestion: webhook ingestion and full/incremental sync into a unified entity table."
	humaConfig.Servers = []*huma.Server{
		{URL: cfg.BaseURL, Description: "API Server"},
	}
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		mw.SecurityScheme: {
			Type:        "http",
			Scheme:      "bearer",
			Description: "Admin API key. Include it in the Authorization header as `Bearer <ADMIN_API_KEY>`.",
		},
	}

	h := handlers.New(cfg, apps, registry, repos, runner, jobWorker, limiter, logger)

	// Public API (health + docs).
	api := humachi.New(router, humaConfig)
	routes.RegisterPublic(api, h)

	// Webhook ingestion authenticates with provider signatures, not the
	// admin key; sync does its own constant-time bearer check.
	router.HandleFunc("/webhook/{app_key}", h.Webhook.HandleWebhook)
	router.HandleFunc("/sync", h.Sync.HandleSync)

	// Admin read endpoints behind bearer auth.
	router.Group(func(r chi.Router) {
		r.Use(mw.AdminAuth(cfg.AdminAPIKey, apps.Auth.Enabled))

		protectedConfig := huma.DefaultConfig("Supasaasy API", v.Short())
		protectedConfig.Servers = humaConfig.Servers
		protectedConfig.DocsPath = ""
		protectedConfig.OpenAPIPath = ""
		protectedConfig.SchemasPath = ""

		protectedAPI := humachi.New(r, protectedConfig)
		routes.RegisterProtected(protectedAPI, h)
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

		select {
		case <-sigChan:
			logger.Info("shutting down server")
		case <-idleMonitor.ShutdownChan():
			logger.Info("shutting down server after idle timeout")
		}

		idleMonitor.Stop()

		sched.Stop()
		cancel()
		jobWorker.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	logger.Info("starting server", "port", cfg.Port, "base_url", cfg.BaseURL, "inline_sync", cfg.InlineSync)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
