/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the allocation engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and the ALLOC_ environment
  2. Install the zerolog logger
  3. Open the SQLite store
  4. Connect Redis when configured (pool locks + idempotency replay)
  5. Create API handler and router
  6. Start the lifecycle scheduler
  7. Start server with graceful shutdown

CONFIGURATION:
  See config/config.go for every variable. Use ALLOC_DB_PATH=":memory:"
  for a throwaway database.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close Redis and database connections
  5. Exit

EXAMPLES:
  # Run with file database
  ALLOC_DB_PATH=./data/alloc.db ./server

  # Run with Redis-backed locks, human-readable logs
  ALLOC_REDIS_URL=redis://localhost:6379/0 ALLOC_APP_LOG_FORMAT=console ./server

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/warp/allocation-engine/api"
	"github.com/warp/allocation-engine/cache"
	"github.com/warp/allocation-engine/config"
	"github.com/warp/allocation-engine/inventory"
	"github.com/warp/allocation-engine/logger"
	"github.com/warp/allocation-engine/store/sqlite"
)

func main() {
	ctx := context.Background()

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Error(ctx, "failed to load config", err)
		os.Exit(1)
	}

	logger.SetDefault(logger.New(logger.Options{
		ServiceName: "allocation-engine",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.IsDev(),
	}))

	store, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		logger.Error(ctx, "failed to initialize database", err)
		os.Exit(1)
	}
	defer store.Close()

	var (
		redisClient *cache.Client
		locker      inventory.Locker
		routerOpts  = api.RouterOptions{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			IdempotencyTTL: cfg.Allocation.IdempotencyTTL,
			Scenarios:      cfg.App.IsDev(),
		}
	)
	if cfg.Redis.Enabled() {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Redis.DialTimeout)
		redisClient, err = cache.New(dialCtx, cfg.Redis)
		cancel()
		if err != nil {
			logger.Error(ctx, "failed to connect to redis", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		locker = cache.NewPoolLocker(redisClient, cfg.Allocation.LockTTL)
		routerOpts.Idempotency = redisClient
		logger.Info(ctx, "redis connected; pool locks and idempotency replay enabled")
	} else {
		logger.Warn(ctx, "redis not configured; using in-process pool locks, idempotency replay disabled")
	}

	handler := api.NewHandler(store, locker)
	handler.Cache = redisClient
	router := api.NewRouter(handler, routerOpts)

	scheduler := api.NewLifecycleScheduler(handler.Lifecycle)
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.CheckInterval = cfg.Scheduler.Interval
	scheduler.Start()

	server := &http.Server{
		Addr:         cfg.App.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info(logger.WithField(ctx, "addr", server.Addr), "server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "server failed", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "shutting down server")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "server forced to shutdown", err)
	}

	logger.Info(ctx, "server stopped")
}
