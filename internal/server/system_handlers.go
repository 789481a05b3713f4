package server

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/aristath/factorfit/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// CacheCounter reports live cache entries per namespace.
type CacheCounter interface {
	Count(ctx context.Context) (map[string]int64, error)
}

// SystemStatusResponse is the data of GET /api/system/status.
type SystemStatusResponse struct {
	Status        string           `json:"status"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	CPUPercent    float64          `json:"cpu_percent"`
	MemoryPercent float64          `json:"memory_percent"`
	Goroutines    int              `json:"goroutines"`
	CacheEntries  map[string]int64 `json:"cache_entries"`
	CacheDB       *database.Stats  `json:"cache_db,omitempty"`
	LastChecked   string           `json:"last_checked"`
}

// SystemHandlers serves health and status endpoints.
type SystemHandlers struct {
	cache     CacheCounter
	cacheDB   *database.DB
	version   string
	startedAt time.Time
	// sampled over a short interval so status calls stay fast
	cpuInterval time.Duration
	log         zerolog.Logger
}

// NewSystemHandlers creates system handlers. cache and cacheDB may be nil.
func NewSystemHandlers(cache CacheCounter, cacheDB *database.DB, version string, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		cache:       cache,
		cacheDB:     cacheDB,
		version:     version,
		startedAt:   time.Now(),
		cpuInterval: 100 * time.Millisecond,
		log:         log.With().Str("handler", "system").Logger(),
	}
}

// HandleHealth handles GET /health
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{
		"status":  "healthy",
		"version": h.version,
	}
	if h.cacheDB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.cacheDB.QuickCheck(ctx); err != nil {
			h.log.Warn().Err(err).Msg("Cache database health check failed")
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["error"] = err.Error()
		}
	}
	writeJSON(w, status, body, h.log)
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.getSystemStats()

	resp := SystemStatusResponse{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		Goroutines:    runtime.NumGoroutine(),
		CacheEntries:  map[string]int64{},
		LastChecked:   time.Now().Format(time.RFC3339),
	}

	if h.cache != nil {
		counts, err := h.cache.Count(r.Context())
		if err != nil {
			h.log.Warn().Err(err).Msg("Failed to count cache entries")
		} else {
			resp.CacheEntries = counts
		}
	}
	if h.cacheDB != nil {
		stats, err := h.cacheDB.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Msg("Failed to get cache database stats")
		} else {
			resp.CacheDB = stats
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": resp,
		"metadata": map[string]interface{}{
			"timestamp": resp.LastChecked,
		},
	}, h.log)
}

// getSystemStats returns CPU and RAM usage percentages.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(h.cpuInterval, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}

func writeJSON(w http.ResponseWriter, status int, data interface{}, log zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
