// Package di provides dependency injection type definitions.
package di

import (
	"github.com/aristath/factorfit/internal/database"
	"github.com/aristath/factorfit/internal/events"
	"github.com/aristath/factorfit/internal/modules/calculations"
	"github.com/aristath/factorfit/internal/modules/factors"
	"github.com/aristath/factorfit/internal/modules/optimization"
	"github.com/aristath/factorfit/internal/modules/portfolio"
	"github.com/aristath/factorfit/internal/scheduler"
	"github.com/aristath/factorfit/internal/telemetry"
)

// Container holds all dependencies for the application.
//
// It is created by Wire() and handed to cmd/server, which builds the HTTP
// server from it.
type Container struct {
	// Databases
	CacheDB *database.DB // cache.db - calculation cache (beta matrices)

	// Infrastructure
	EventBus     *events.Bus
	EventManager *events.Manager
	Metrics      *telemetry.Metrics
	Scheduler    *scheduler.Scheduler

	// Services
	CalculationCache *calculations.Cache
	Optimizer        *optimization.Optimizer
	PortfolioService *portfolio.Service
	Presets          []factors.Preset
}

// JobInstances holds the scheduled jobs for manual triggering.
type JobInstances struct {
	CacheCleanup  *calculations.CleanupJob
	WALCheckpoint *scheduler.CheckWALCheckpointsJob
}

// Close stops background work and closes the databases.
func (c *Container) Close() error {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.CacheDB != nil {
		return c.CacheDB.Close()
	}
	return nil
}
