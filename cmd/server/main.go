/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the stock valuation API server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from the environment, apply flag overrides
  2. Open the configured store (sqlite, postgres or memory)
  3. Create the valuation engine and API handler
  4. Start the integrity scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -port    HTTP server port
  -db      SQLite database path, ":memory:" for an in-memory database
  -driver  Store driver: sqlite, postgres or memory

ENVIRONMENT:
  See config/config.go. The most useful ones:
  APP_ADDR, STORE_DRIVER, SQLITE_PATH, PG_DSN, LOG_LEVEL, LOG_FORMAT,
  VALUATION_COST_SCALE, VALUATION_CURRENCY

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler, close the store
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/valuation.db"

  # Run with in-memory database
  ./server -driver=memory

  # Run against PostgreSQL
  STORE_DRIVER=postgres PG_DSN=postgres://... ./server

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/open.go: Store selection
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/stock-valuation/api"
	"github.com/warp/stock-valuation/config"
	"github.com/warp/stock-valuation/store"
	"github.com/warp/stock-valuation/valuation"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Flags
	port := flag.Int("port", 0, "HTTP server port (overrides APP_ADDR)")
	dbPath := flag.String("db", "", "SQLite database path (overrides SQLITE_PATH)")
	driver := flag.String("driver", "", "Store driver: sqlite, postgres or memory (overrides STORE_DRIVER)")
	flag.Parse()

	if *port != 0 {
		cfg.AppAddr = fmt.Sprintf(":%d", *port)
	}
	if *dbPath != "" {
		cfg.SQLitePath = *dbPath
	}
	if *driver != "" {
		cfg.StoreDriver = *driver
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := config.NewLogger(cfg)
	slog.SetDefault(logger)

	ctx := context.Background()

	// Initialize store
	st, closeStore, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("close store", "error", err)
		}
	}()

	// Initialize engine and handler
	engine := valuation.NewEngine(st, logger)
	engine.Policy = cfg.Policy()
	handler := api.NewHandler(engine, st, cfg.Currency, logger)

	scheduler := api.NewIntegrityScheduler(engine, logger)
	scheduler.CheckInterval = cfg.IntegrityCheckInterval
	scheduler.Start()
	defer scheduler.Stop()

	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins:     cfg.CORSAllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		RequestTimeout:     cfg.AppRequestTimeout,
		Scheduler:          scheduler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"addr", cfg.AppAddr,
			"driver", cfg.StoreDriver,
			"cost_scale", cfg.CostScale,
			"currency", cfg.Currency)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
