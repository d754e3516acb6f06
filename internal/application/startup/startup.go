// Package startup prepares the application server
package startup

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AmberSignal/pulsestat-go/internal/application/container"
	"github.com/AmberSignal/pulsestat-go/internal/application/scheduler"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/database"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/observability/logging"
	persistence "github.com/AmberSignal/pulsestat-go/internal/infrastructure/persistence/database"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/security"
	"github.com/AmberSignal/pulsestat-go/internal/presentation/http/middleware"
	"github.com/AmberSignal/pulsestat-go/internal/presentation/http/server"
	"github.com/AmberSignal/pulsestat-go/pkg/config"
	"github.com/gin-gonic/gin"
)

// Initialize performs the complete startup sequence and blocks until shutdown.
func Initialize() error {
	setupLogging()

	start := time.Now().UTC()

	ctx, cancelBackgroundTasks := context.WithCancel(context.Background())
	defer cancelBackgroundTasks()

	log.Println("PulseStat heartbeat telemetry service")

	// Step 1: Validate required configuration
	log.Println("Validating configuration...")
	if config.HeartbeatSalt == "" {
		return fmt.Errorf("HEARTBEAT_SALT is required: refusing to store raw client identifiers")
	}

	jwtSecret := config.JWTSecret
	if jwtSecret == "" {
		generated, err := security.GenerateSecureKey(64)
		if err != nil {
			return fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		jwtSecret = generated
		log.Println("JWT_SECRET not set - generated an ephemeral secret; admin tokens will not survive a restart")
	}

	// Step 2: Resolve the rollup timezone
	loc, err := time.LoadLocation(config.RollupTimezone)
	if err != nil {
		return fmt.Errorf("invalid ROLLUP_TIMEZONE %q: %w", config.RollupTimezone, err)
	}
	log.Printf("Rollup boundaries aligned to %s", loc)

	// Step 3: Initialize channeled logging
	loggerConfig := logging.DefaultLoggerConfig()
	loggerConfig.LogDirectory = config.LogDirectory
	if config.LogVerbose {
		loggerConfig.DefaultLevel = slog.LevelDebug
	}
	logger, err := logging.NewChanneledLogger(loggerConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logger.Close()
	logger.Startup().Info("Channeled logging initialized", "directory", config.LogDirectory)

	// Step 4: Connect to the database and ensure the schema
	logger.Startup().Info("Connecting to database", "driver", config.DBDriver)
	if config.DBDriver == "libsql" {
		if err := persistence.TestLibsqlConnection(config.DatabaseURL, config.DBAuthToken, logger); err != nil {
			return fmt.Errorf("libsql connection test failed: %w", err)
		}
	}
	db, err := persistence.NewConnectionWithLogger(config.DBDriver, persistence.DataSourceName(), logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := database.NewTableCreator().CreateSchema(db.DB); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	logger.Startup().Info("Database schema verified")

	// Step 5: Create dependency injection container
	logger.Startup().Info("Initializing dependency injection container...")
	appContainer, err := container.NewContainer(db, loc, jwtSecret, logger)
	if err != nil {
		return fmt.Errorf("failed to build container: %w", err)
	}
	logger.Startup().Info("Dependency injection container created with singleton services")

	// Step 6: Start the write queue before anything can enqueue
	go appContainer.Writer.Start(ctx)
	logger.Startup().Info("Write queue started")

	// Step 7: Catch-up pass over windows that closed while the process was
	// down, then hand the boundaries to the scheduler.
	logger.Startup().Info("Running rollup catch-up pass...")
	catchupStart := time.Now()
	appContainer.RollupService.RunAll(time.Now())
	logger.Startup().Info("Rollup catch-up complete", "duration", time.Since(catchupStart))

	rollupScheduler := scheduler.New(appContainer.RollupService.Run, loc, logger)
	rollupScheduler.Start(ctx)
	logger.Startup().Info("Rollup scheduler started")

	// Step 8: Rate limiter and its sweeper
	limiter := middleware.NewRateLimiter(logger, appContainer.AlertMailer)
	limiter.StartSweeper(ctx, config.BanSweepInterval)
	logger.Startup().Info("Rate limiter started", "sweepInterval", config.BanSweepInterval)

	// Step 9: Periodic live-stats push to websocket subscribers
	go runLiveStatsLoop(ctx, appContainer)
	logger.Startup().Info("Live stats broadcaster started", "interval", config.LiveStatsInterval)

	// Step 10: Start HTTP server
	httpServer := server.New(config.Port, appContainer, limiter)

	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.System().Info("Starting HTTP server", "address", ":"+config.Port)
		if err := httpServer.Start(); err != nil {
			logger.System().Error("HTTP server failed", "error", err.Error())
		}
	}()

	logger.Startup().Info("Application startup complete",
		"totalDuration", time.Since(start),
		"port", config.Port)

	// Wait for shutdown signal
	<-gracefulShutdown
	logger.Shutdown().Info("Shutdown signal received, starting graceful shutdown...")

	shutdownStart := time.Now()

	// Stop accepting requests first so the queue sees no new work, then let
	// the writer drain on context cancellation.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Shutdown().Info("Stopping HTTP server...")
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Shutdown().Error("Error during server shutdown", "error", err.Error())
	} else {
		logger.Shutdown().Info("HTTP server stopped successfully")
	}

	cancelBackgroundTasks()

	// Give the writer a moment to apply anything still pending.
	drainDeadline := time.After(5 * time.Second)
	for appContainer.Writer.Depth() > 0 {
		select {
		case <-drainDeadline:
			logger.Shutdown().Warn("Write queue not empty at shutdown", "depth", appContainer.Writer.Depth())
		case <-time.After(50 * time.Millisecond):
			continue
		}
		break
	}

	logger.Shutdown().Info("Application shutdown complete",
		"totalUptime", time.Since(start),
		"shutdownDuration", time.Since(shutdownStart))

	return nil
}

// runLiveStatsLoop pushes the open hour window to connected dashboards on a
// fixed cadence. Snapshots are skipped while nobody is listening.
func runLiveStatsLoop(ctx context.Context, appContainer *container.Container) {
	ticker := time.NewTicker(config.LiveStatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if appContainer.Broadcaster.ClientCount() == 0 {
				continue
			}
			snapshot, err := appContainer.StatsService.LiveSnapshot(time.Now())
			if err != nil {
				appContainer.Logger.Live().Error("Failed to build live snapshot", "error", err.Error())
				continue
			}
			appContainer.Broadcaster.Broadcast(snapshot)
		}
	}
}

// setupLogging configures application logging
func setupLogging() {
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}
