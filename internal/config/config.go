// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aristath/factorfit/internal/modules/betas"
	"github.com/aristath/factorfit/internal/modules/optimization"
	"github.com/aristath/factorfit/internal/modules/portfolio"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the cache database (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	FailurePolicy   betas.FailurePolicy
	Solver          optimization.Method
	MaxIterations   int
	Tolerance       float64
	Workers         int // <= 0 uses GOMAXPROCS
	CacheTTL        time.Duration
	CacheCleanup    string // cron spec with seconds
	PresetsFile     string // optional YAML file replacing the built-in presets
	RateLimit       float64
	OptimizeTimeout time.Duration

	Export *ExportConfig
}

// ExportConfig holds S3-compatible export settings (config package version)
type ExportConfig struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// ToS3Config converts config.ExportConfig to portfolio.S3Config
func (c *ExportConfig) ToS3Config() portfolio.S3Config {
	return portfolio.S3Config{
		Bucket:          c.Bucket,
		Endpoint:        c.Endpoint,
		Region:          c.Region,
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		Prefix:          c.Prefix,
	}
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("FACTORFIT_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	policy, err := betas.ParseFailurePolicy(getEnv("FACTORFIT_FAILURE_POLICY", string(betas.PolicyExclude)))
	if err != nil {
		return nil, fmt.Errorf("FACTORFIT_FAILURE_POLICY: %w", err)
	}
	solver, err := optimization.ParseMethod(getEnv("FACTORFIT_SOLVER", string(optimization.MethodProjectedGradient)))
	if err != nil {
		return nil, fmt.Errorf("FACTORFIT_SOLVER: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnvAsInt("GO_PORT", 8001),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		FailurePolicy:   policy,
		Solver:          solver,
		MaxIterations:   getEnvAsInt("FACTORFIT_MAX_ITERATIONS", optimization.DefaultMaxIterations),
		Tolerance:       getEnvAsFloat("FACTORFIT_TOLERANCE", optimization.DefaultTolerance),
		Workers:         getEnvAsInt("FACTORFIT_WORKERS", 0),
		CacheTTL:        getEnvAsDuration("FACTORFIT_CACHE_TTL", betas.DefaultCacheTTL),
		CacheCleanup:    getEnv("FACTORFIT_CACHE_CLEANUP_CRON", "0 */15 * * * *"), // every 15 minutes
		PresetsFile:     getEnv("FACTORFIT_PRESETS_FILE", ""),
		RateLimit:       getEnvAsFloat("FACTORFIT_RATE_LIMIT", 20),
		OptimizeTimeout: getEnvAsDuration("FACTORFIT_OPTIMIZE_TIMEOUT", 30*time.Second),

		Export: loadExportConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects non-positive limits and malformed schedules
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("GO_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("FACTORFIT_MAX_ITERATIONS must be positive, got %d", c.MaxIterations)
	}
	if c.Tolerance <= 0 {
		return fmt.Errorf("FACTORFIT_TOLERANCE must be positive, got %g", c.Tolerance)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("FACTORFIT_CACHE_TTL must be positive, got %s", c.CacheTTL)
	}
	if c.OptimizeTimeout <= 0 {
		return fmt.Errorf("FACTORFIT_OPTIMIZE_TIMEOUT must be positive, got %s", c.OptimizeTimeout)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("FACTORFIT_RATE_LIMIT must not be negative, got %g", c.RateLimit)
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.CacheCleanup); err != nil {
		return fmt.Errorf("FACTORFIT_CACHE_CLEANUP_CRON: %w", err)
	}
	if c.Export != nil && c.Export.Bucket == "" && (c.Export.AccessKeyID != "" || c.Export.Endpoint != "") {
		return fmt.Errorf("EXPORT_S3_BUCKET is required when other EXPORT_S3 settings are present")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// loadExportConfig loads S3 export settings; an empty bucket disables uploads
func loadExportConfig() *ExportConfig {
	return &ExportConfig{
		Bucket:          getEnv("EXPORT_S3_BUCKET", ""),
		Endpoint:        getEnv("EXPORT_S3_ENDPOINT", ""),
		Region:          getEnv("EXPORT_S3_REGION", "auto"),
		AccessKeyID:     getEnv("EXPORT_S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("EXPORT_S3_SECRET_ACCESS_KEY", ""),
		Prefix:          getEnv("EXPORT_S3_PREFIX", "exports"),
	}
}
