package calculations

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// CleanupJob removes expired entries from the calculation cache.
type CleanupJob struct {
	cache   *Cache
	timeout time.Duration
	onClean func(deleted int64)
	log     zerolog.Logger
}

// NewCleanupJob creates a new cache cleanup job.
func NewCleanupJob(cache *Cache, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		cache:   cache,
		timeout: time.Minute,
		log:     log.With().Str("job", "calculation_cache_cleanup").Logger(),
	}
}

// OnClean registers a callback invoked after each run that deleted entries.
func (j *CleanupJob) OnClean(fn func(deleted int64)) {
	j.onClean = fn
}

// Run deletes every expired entry.
func (j *CleanupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	deleted, err := j.cache.DeleteExpired(ctx)
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to delete expired calculation cache entries")
		return err
	}

	if deleted > 0 {
		j.log.Info().Int64("deleted", deleted).Msg("Cleaned up expired cache entries")
		if j.onClean != nil {
			j.onClean(deleted)
		}
	}
	return nil
}

// Name returns the job name for scheduling and logging.
func (j *CleanupJob) Name() string {
	return "calculation_cache_cleanup"
}
