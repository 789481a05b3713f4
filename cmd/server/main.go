// Package main is the entry point for the factorfit HTTP service.
//
// The service estimates factor betas from return tables, solves for
// long-only portfolios matching target factor exposures, and exports the
// results. State is limited to the beta cache in cache.db.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/factorfit/internal/config"
	"github.com/aristath/factorfit/internal/di"
	"github.com/aristath/factorfit/internal/modules/factors"
	portfoliohandlers "github.com/aristath/factorfit/internal/modules/portfolio/handlers"
	"github.com/aristath/factorfit/internal/server"
	"github.com/aristath/factorfit/pkg/logger"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Str("version", version).Msg("Starting factorfit")

	// Wire all dependencies using DI container
	container, _, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer func() {
		// flush the WAL before closing so cache.db is self-contained
		if err := container.CacheDB.WALCheckpoint("TRUNCATE"); err != nil {
			log.Warn().Err(err).Msg("Final WAL checkpoint failed")
		}
		if err := container.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close databases")
		}
	}()

	srv := server.New(server.Config{
		Log:            log,
		Port:           cfg.Port,
		DevMode:        cfg.DevMode,
		RateLimit:      cfg.RateLimit,
		RequestTimeout: cfg.OptimizeTimeout + 5*time.Second,
		Portfolio: portfoliohandlers.NewHandler(
			container.PortfolioService, container.Presets, factors.DefaultSampleOptions(), log),
		System:   server.NewSystemHandlers(container.CalculationCache, container.CacheDB, version, log),
		EventBus: container.EventBus,
		Metrics:  container.Metrics,
	})

	// Start server in goroutine
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Maintenance jobs (cache expiry, WAL checks)
	container.Scheduler.Start()
	log.Info().Strs("jobs", container.Scheduler.Jobs()).Msg("Scheduler started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	container.Scheduler.Stop()
	log.Info().Msg("Scheduler stopped")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
