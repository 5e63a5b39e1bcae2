// Package main is the entrypoint for the jobingest server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/jobingest/internal/api"
	"github.com/kiranshivaraju/jobingest/internal/api/handler"
	mw "github.com/kiranshivaraju/jobingest/internal/api/middleware"
	"github.com/kiranshivaraju/jobingest/internal/cache"
	"github.com/kiranshivaraju/jobingest/internal/config"
	"github.com/kiranshivaraju/jobingest/internal/feed"
	"github.com/kiranshivaraju/jobingest/internal/importer"
	"github.com/kiranshivaraju/jobingest/internal/normalize"
	"github.com/kiranshivaraju/jobingest/internal/notify"
	"github.com/kiranshivaraju/jobingest/internal/queue"
	"github.com/kiranshivaraju/jobingest/internal/scheduler"
	"github.com/kiranshivaraju/jobingest/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load .env (optional) and config; fail fast on invalid config
	if err := loadDotEnv(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "feeds", len(cfg.Feeds.Sources), "queue", cfg.Queue.Name)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database and migrate
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")
	pgStore := store.NewPostgresStore(pool)

	// 3. Redis cache and event fan-out
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	hub := notify.NewHub()
	notifier := notify.Multi{hub, notify.NewRedisPublisher(redisCache.Client(), notify.DefaultChannel)}

	// 4. Work queue and batch worker
	q, err := queue.New(cfg.Redis.URL, cfg.Queue)
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}
	defer q.Close()

	processor := importer.NewProcessor(pgStore)
	if err := q.RegisterWorker(cfg.Queue.Name, importer.TaskTypeBatch, processor, cfg.Queue.Concurrency); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer q.Shutdown()
	slog.Info("queue worker started", "queue", cfg.Queue.Name, "concurrency", cfg.Queue.Concurrency)

	// 5. Orchestrator and scheduler
	orch := importer.New(importer.Config{
		Sources:    cfg.Feeds.Sources,
		QueueName:  cfg.Queue.Name,
		Fetcher:    feed.NewFetcher(cfg.Feeds),
		Normalizer: normalize.New(),
		Store:      pgStore,
		Queue:      q,
		Cache:      redisCache,
		Notifier:   notifier,
	})

	sched, err := scheduler.New(cfg.Scheduler, orch, notifier)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	if cfg.Scheduler.Enabled {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		slog.Info("scheduler enabled", "cron", sched.Spec(), "next", sched.Next())
	} else {
		slog.Info("scheduler disabled")
	}

	// 6. Build router with dependencies
	router := api.NewRouter(api.Dependencies{
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.TriggerRateLimit),

		HealthHandler: handler.NewHealthHandler(pgStore, redisCache),
		TriggerImport: handler.NewTriggerImportHandler(orch),
		ImportStatus:  handler.NewImportStatusHandler(orch),
		LastImport:    handler.NewLastImportHandler(orch),
		GetImport:     handler.NewGetImportHandler(orch),
		ListRuns:      handler.NewListRunsHandler(pgStore),
		QueueStats:    handler.NewQueueStatsHandler(orch),
		EventsHandler: handler.NewEventsHandler(hub),
	})

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	select {
	case <-sched.Stop().Done():
	case <-shutdownCtx.Done():
		slog.Warn("scheduled import still running at shutdown")
	}
	if err := orch.Wait(shutdownCtx); err != nil {
		slog.Warn("import still running at shutdown", "error", err)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// loadDotEnv loads path into the environment when it exists. Variables already
// set take precedence.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
