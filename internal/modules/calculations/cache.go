// Package calculations provides persistent caching for derived calculation results.
// Values are opaque blobs stored per namespace with expiration timestamps.
package calculations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/factorfit/internal/utils"
	"github.com/rs/zerolog"
)

// Cache is a namespaced TTL cache on top of the calculation_cache table.
// It is safe for concurrent use.
type Cache struct {
	db  *sql.DB
	now func() time.Time
	log zerolog.Logger
}

// NewCache creates a cache over a migrated cache database.
func NewCache(db *sql.DB, log zerolog.Logger) *Cache {
	return &Cache{
		db:  db,
		now: time.Now,
		log: log.With().Str("component", "calculation_cache").Logger(),
	}
}

// Get returns the value only if it has not expired.
func (c *Cache) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	var value []byte
	err := c.db.QueryRowContext(ctx,
		"SELECT value FROM calculation_cache WHERE namespace = ? AND key = ? AND expires_at > ?",
		namespace, key, c.now().Unix(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s/%s from cache: %w", namespace, key, err)
	}
	return value, true, nil
}

// Set stores value with expiration = now + ttl, replacing any previous entry.
func (c *Cache) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %s", ttl)
	}
	now := c.now()
	_, err := c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO calculation_cache (namespace, key, value, expires_at, created_at) VALUES (?, ?, ?, ?, ?)",
		namespace, key, value, now.Add(ttl).Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to store %s/%s in cache: %w", namespace, key, err)
	}
	return nil
}

// Delete removes a specific entry.
func (c *Cache) Delete(ctx context.Context, namespace, key string) error {
	_, err := c.db.ExecContext(ctx,
		"DELETE FROM calculation_cache WHERE namespace = ? AND key = ?", namespace, key)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s from cache: %w", namespace, key, err)
	}
	return nil
}

// Clear removes every entry of a namespace.
func (c *Cache) Clear(ctx context.Context, namespace string) error {
	res, err := c.db.ExecContext(ctx, "DELETE FROM calculation_cache WHERE namespace = ?", namespace)
	if err != nil {
		return fmt.Errorf("failed to clear cache namespace %s: %w", namespace, err)
	}
	if n, err := res.RowsAffected(); err == nil {
		c.log.Info().Str("namespace", namespace).Int64("deleted", n).Msg("Cleared cache namespace")
	}
	return nil
}

// DeleteExpired removes all rows where expires_at <= now and returns how many
// were deleted.
func (c *Cache) DeleteExpired(ctx context.Context) (int64, error) {
	done := utils.MeasureDBQuery("delete_expired_cache", c.log)
	res, err := c.db.ExecContext(ctx,
		"DELETE FROM calculation_cache WHERE expires_at <= ?", c.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	done(deleted)
	return deleted, nil
}

// Count returns the number of live entries per namespace.
func (c *Cache) Count(ctx context.Context) (map[string]int64, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT namespace, COUNT(*) FROM calculation_cache WHERE expires_at > ? GROUP BY namespace",
		c.now().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to count cache entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var ns string
		var n int64
		if err := rows.Scan(&ns, &n); err != nil {
			return nil, fmt.Errorf("failed to scan cache count: %w", err)
		}
		counts[ns] = n
	}
	return counts, rows.Err()
}
