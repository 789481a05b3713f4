// Package di provides dependency injection for scheduler jobs.
package di

import (
	"fmt"

	"github.com/aristath/factorfit/internal/config"
	"github.com/aristath/factorfit/internal/events"
	"github.com/aristath/factorfit/internal/modules/calculations"
	"github.com/aristath/factorfit/internal/scheduler"
	"github.com/rs/zerolog"
)

// walCheckpointSchedule runs the WAL check hourly.
const walCheckpointSchedule = "0 0 * * * *"

// RegisterJobs creates the scheduler and registers the maintenance jobs.
// The scheduler is not started here.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}

	container.Scheduler = scheduler.New(log)
	instances := &JobInstances{}

	// Job 1: expired cache entries
	cleanup := calculations.NewCleanupJob(container.CalculationCache, log)
	cleanup.OnClean(func(deleted int64) {
		if container.EventManager != nil {
			container.EventManager.Emit("scheduler", &events.CacheCleanedData{Deleted: deleted})
		}
	})
	if err := container.Scheduler.AddJob(cfg.CacheCleanup, cleanup); err != nil {
		return nil, fmt.Errorf("failed to register cache cleanup job: %w", err)
	}
	instances.CacheCleanup = cleanup

	// Job 2: WAL growth
	wal := scheduler.NewCheckWALCheckpointsJob(log, container.CacheDB)
	if err := container.Scheduler.AddJob(walCheckpointSchedule, wal); err != nil {
		return nil, fmt.Errorf("failed to register WAL checkpoint job: %w", err)
	}
	instances.WALCheckpoint = wal

	log.Info().Strs("jobs", container.Scheduler.Jobs()).Msg("Jobs registered")

	return instances, nil
}
