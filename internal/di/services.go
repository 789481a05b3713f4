// Package di provides dependency injection for service initialization.
package di

import (
	"context"
	"fmt"

	"github.com/aristath/factorfit/internal/config"
	"github.com/aristath/factorfit/internal/events"
	"github.com/aristath/factorfit/internal/modules/betas"
	"github.com/aristath/factorfit/internal/modules/calculations"
	"github.com/aristath/factorfit/internal/modules/factors"
	"github.com/aristath/factorfit/internal/modules/optimization"
	"github.com/aristath/factorfit/internal/modules/portfolio"
	"github.com/aristath/factorfit/internal/telemetry"
	"github.com/rs/zerolog"
)

// InitializeServices creates the event bus, metrics, cache, optimizer and
// portfolio service. Databases must be initialized first.
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil || container.CacheDB == nil {
		return fmt.Errorf("container with cache database is required")
	}

	// Infrastructure
	container.EventBus = events.NewBus()
	container.EventManager = events.NewManager(container.EventBus, log)
	container.Metrics = telemetry.NewMetrics()

	// Target presets: built-ins unless a YAML file replaces them
	container.Presets = factors.DefaultPresets()
	if cfg.PresetsFile != "" {
		presets, err := factors.LoadPresets(cfg.PresetsFile)
		if err != nil {
			return fmt.Errorf("failed to load presets: %w", err)
		}
		container.Presets = presets
		log.Info().Int("count", len(presets)).Str("file", cfg.PresetsFile).Msg("Loaded target presets")
	}

	// Calculation cache, counted by the metrics decorator
	container.CalculationCache = calculations.NewCache(container.CacheDB.Conn(), log)
	betaCache := container.Metrics.InstrumentCache(container.CalculationCache)

	container.Optimizer = optimization.NewOptimizer(optimization.Options{
		Method:        cfg.Solver,
		MaxIterations: cfg.MaxIterations,
		Tolerance:     cfg.Tolerance,
	}, log)

	estimatorOpts := betas.DefaultOptions()
	estimatorOpts.Policy = cfg.FailurePolicy
	estimatorOpts.CacheTTL = cfg.CacheTTL
	if cfg.Workers > 0 {
		estimatorOpts.Workers = cfg.Workers
	}

	svc := portfolio.NewService(estimatorOpts, betaCache, container.Optimizer, log)
	svc.SetRecorder(container.Metrics)
	svc.SetEmitter(container.EventManager)
	svc.SetTimeout(cfg.OptimizeTimeout)

	if cfg.Export != nil {
		s3cfg := cfg.Export.ToS3Config()
		if s3cfg.Enabled() {
			exporter, err := portfolio.NewS3Exporter(context.Background(), s3cfg, log)
			if err != nil {
				return fmt.Errorf("failed to create S3 exporter: %w", err)
			}
			svc.SetExporter(exporter)
		}
	}
	container.PortfolioService = svc

	log.Info().
		Str("policy", string(cfg.FailurePolicy)).
		Str("solver", string(cfg.Solver)).
		Bool("upload", svc.CanUpload()).
		Msg("Services initialized")

	return nil
}
