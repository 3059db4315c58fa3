/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the collection ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Build the zap logger
  3. Open the record store (memory, sqlite, postgres or file), optionally
     behind the redis read cache
  4. Create the ledger engine and API handler
  5. Start the backup and reconciliation schedulers
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides SERVER_PORT)
  -db      SQLite database path (overrides STORE_PATH)
           Use ":memory:" for an in-memory SQLite database
  -env     Env file to load before reading the environment (default: .env)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the schedulers
  4. Close the store and flush the logger

EXAMPLES:
  # Run with file database
  ./server -db="./data/ledger.db"

  # Run against postgres with a redis cache
  STORE_DRIVER=postgres STORE_DSN=postgres://... STORE_CACHE=true ./server

  # Run on different port
  ./server -port=3000

SEE ALSO:
  - config/config.go: Environment variables and defaults
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/linebook/collection-ledger/api"
	"github.com/linebook/collection-ledger/backup"
	"github.com/linebook/collection-ledger/config"
	"github.com/linebook/collection-ledger/ledger"
	"github.com/linebook/collection-ledger/logging"
	"github.com/linebook/collection-ledger/store/cache"
	"github.com/linebook/collection-ledger/store/filestore"
	"github.com/linebook/collection-ledger/store/postgres"
	"github.com/linebook/collection-ledger/store/sqlite"

	memstore "github.com/linebook/collection-ledger/ledger/store"
)

func main() {
	// Flags
	port := flag.Int("port", 0, "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	envFile := flag.String("env", ".env", "env file to load")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Store.Driver = config.DriverSQLite
		cfg.Store.Path = *dbPath
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	logger = logging.With(logger, zap.String("service", "collection-ledger"))
	defer logging.Sync(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		logging.Sync(logger)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	// Initialize store
	base, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer closeStore()

	store, closeCache := withCache(ctx, cfg, base, logger)
	defer closeCache()

	engine := ledger.NewEngine(store,
		ledger.WithLogger(logging.Named(logger, "ledger")),
		ledger.WithTieBreak(cfg.TieBreak()),
		ledger.WithDefaultWeeks(cfg.Ledger.DefaultWeeks),
	)

	// Initialize handler
	handler := api.NewHandler(engine, logger)
	if recon, ok := base.(api.ReconciliationLog); ok {
		handler.Reconciliations = recon
	}

	if cfg.Backup.Enabled {
		backups, uploader, err := newBackupScheduler(ctx, cfg, store, logger)
		if err != nil {
			return fmt.Errorf("failed to configure backups: %w", err)
		}
		handler.Backups = backups
		handler.Archives = uploader
		backups.Start()
		defer backups.Stop()
	}

	reconciler := api.NewReconciliationScheduler(handler)
	reconciler.Enabled = cfg.Reconcile.Enabled
	reconciler.CheckInterval = cfg.Reconcile.Interval
	reconciler.Start()
	defer reconciler.Stop()

	// Create server
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(handler, cfg.Server.AllowedOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("env", cfg.Server.Env),
			zap.String("store", cfg.Store.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// openStore builds the configured record store. The returned func closes
// whatever was opened.
func openStore(ctx context.Context, cfg *config.Config) (ledger.RecordStore, func(), error) {
	var (
		store  ledger.RecordStore
		closer = func() {}
	)

	switch cfg.Store.Driver {
	case config.DriverMemory:
		store = memstore.NewMemory()
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		store, closer = s, func() { _ = s.Close() }
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		store, closer = s, func() { _ = s.Close() }
	case config.DriverFile:
		s, err := filestore.New(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		store = s
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	return store, closer, nil
}

// withCache puts the redis read cache in front of store when it is enabled
// and reachable. An unreachable redis is logged and skipped.
func withCache(ctx context.Context, cfg *config.Config, store ledger.RecordStore, logger *zap.Logger) (ledger.RecordStore, func()) {
	if !cfg.Store.Cache {
		return store, func() {}
	}

	client, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("redis unavailable, running without cache",
			zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		return store, func() {}
	}
	cached := cache.New(store, client, cache.Options{
		Prefix: cfg.Redis.Prefix,
		TTL:    cfg.Redis.TTL,
		Logger: logging.Named(logger, "cache"),
	})
	return cached, func() { _ = client.Close() }
}

func newBackupScheduler(ctx context.Context, cfg *config.Config, store ledger.RecordStore, logger *zap.Logger) (*backup.Scheduler, *backup.S3Uploader, error) {
	client, err := backup.NewS3Client(ctx, backup.S3Config{
		Endpoint:        cfg.Backup.Endpoint,
		Region:          cfg.Backup.Region,
		AccessKeyID:     cfg.Backup.AccessKeyID,
		SecretAccessKey: cfg.Backup.SecretAccessKey,
	})
	if err != nil {
		return nil, nil, err
	}
	uploader := backup.NewS3Uploader(client, cfg.Backup.Bucket, cfg.Backup.Prefix,
		backup.WithKeep(cfg.Backup.Keep),
		backup.WithUploadLogger(logging.Named(logger, "backup")))
	scheduler, err := backup.NewScheduler(cfg.Backup.Schedule, backup.NewArchiver(store), uploader, logging.Named(logger, "backup"))
	if err != nil {
		return nil, nil, err
	}
	return scheduler, uploader, nil
}
