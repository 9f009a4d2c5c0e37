package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// healthPingTimeout bounds the MarketDataClient.Ping call inside /health so
// an upstream outage degrades the response instead of hanging it.
const healthPingTimeout = 3 * time.Second

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status            string  `json:"status"` // healthy | degraded | unhealthy
	UptimeSeconds     float64 `json:"uptime_seconds"`
	MemoryAllocBytes  uint64  `json:"memory_alloc_bytes"`
	MemoryAllocHuman  string  `json:"memory_alloc_human"`
	SystemMemPercent  float64 `json:"system_mem_percent"`
	CPUPercent        float64 `json:"cpu_percent"`
	MarketDataOK      bool    `json:"market_data_ok"`
	DatabaseOK        bool    `json:"database_ok"`
	SchedulerLastTick string  `json:"scheduler_last_tick,omitempty"`
	SchedulerStale    bool    `json:"scheduler_stale"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	resp.MemoryAllocBytes = memStats.Alloc
	resp.MemoryAllocHuman = humanize.Bytes(memStats.Alloc)

	if vm, err := mem.VirtualMemory(); err == nil {
		resp.SystemMemPercent = vm.UsedPercent
	}
	if pct, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pct) > 0 {
		resp.CPUPercent = pct[0]
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()
	resp.MarketDataOK = s.market == nil || s.market.Ping(ctx) == nil

	resp.DatabaseOK = s.db.QuickCheck(ctx) == nil

	if s.scheduler != nil {
		last := s.scheduler.LastTick()
		if !last.IsZero() {
			resp.SchedulerLastTick = last.Format(time.RFC3339)
			resp.SchedulerStale = time.Since(last) > staleSchedulerAfter
		}
	}

	switch {
	case !resp.DatabaseOK:
		resp.Status = "unhealthy"
	case !resp.MarketDataOK || resp.SchedulerStale:
		resp.Status = "degraded"
	default:
		resp.Status = "healthy"
	}

	status := http.StatusOK
	if resp.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// handleStatus is a minimal liveness probe: if this handler runs at all,
// the process is up.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// MemoryResponse is the /memory payload: a detailed breakdown beyond
// /health's summary numbers.
type MemoryResponse struct {
	GoAllocBytes      uint64 `json:"go_alloc_bytes"`
	GoAllocHuman      string `json:"go_alloc_human"`
	GoSysBytes        uint64 `json:"go_sys_bytes"`
	GoHeapObjects     uint64 `json:"go_heap_objects"`
	NumGoroutines     int    `json:"num_goroutines"`
	NumGC             uint32 `json:"num_gc"`
	SystemTotalHuman  string `json:"system_total_human"`
	SystemUsedHuman   string `json:"system_used_human"`
	SystemUsedPercent float64 `json:"system_used_percent"`
	DatabaseSizeHuman string `json:"database_size_human"`
	DatabaseWALHuman  string `json:"database_wal_human"`
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	resp := MemoryResponse{
		GoAllocBytes:  m.Alloc,
		GoAllocHuman:  humanize.Bytes(m.Alloc),
		GoSysBytes:    m.Sys,
		GoHeapObjects: m.HeapObjects,
		NumGoroutines: runtime.NumGoroutine(),
		NumGC:         m.NumGC,
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		resp.SystemTotalHuman = humanize.Bytes(vm.Total)
		resp.SystemUsedHuman = humanize.Bytes(vm.Used)
		resp.SystemUsedPercent = vm.UsedPercent
	}

	if stats, err := s.db.GetStats(); err == nil {
		resp.DatabaseSizeHuman = humanize.Bytes(uint64(stats.SizeBytes))
		resp.DatabaseWALHuman = humanize.Bytes(uint64(stats.WALSizeBytes))
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleMemoryGC forces a Go garbage-collection cycle, an admin operation
// with no confirmation requirement since it cannot lose data.
func (s *Server) handleMemoryGC(w http.ResponseWriter, r *http.Request) {
	before := runtime.NumGoroutine()
	debug.FreeOSMemory()
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	writeJSON(w, http.StatusOK, map[string]any{
		"triggered":          true,
		"goroutines_before":  before,
		"alloc_after_human":  humanize.Bytes(m.Alloc),
	})
}

// databaseCleanupRequest is the body for POST /database/cleanup.
type databaseCleanupRequest struct {
	DaysToKeep int  `json:"daysToKeep"`
	DryRun     bool `json:"dryRun"`
}

// handleDatabaseCleanup previews (GET, or POST with dryRun=true) or
// executes (POST with dryRun=false) a retention sweep over AlertHistory and
// delivered/failed Outbox rows. Live cleanup requires the admin confirmation
// header to be present and non-empty.
func (s *Server) handleDatabaseCleanup(w http.ResponseWriter, r *http.Request) {
	req := databaseCleanupRequest{DaysToKeep: 30, DryRun: true}

	if r.Method == http.MethodPost {
		if r.Body != nil {
			defer r.Body.Close()
			var body databaseCleanupRequest
			if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
				if body.DaysToKeep > 0 {
					req.DaysToKeep = body.DaysToKeep
				}
				req.DryRun = body.DryRun
			}
		}
	}

	if !req.DryRun && r.Header.Get(s.confirmHdr) == "" {
		http.Error(w, "live cleanup requires the "+s.confirmHdr+" header", http.StatusPreconditionRequired)
		return
	}

	cutoff := time.Now().AddDate(0, 0, -req.DaysToKeep).Unix()
	result, err := s.alerts.CleanupOlderThan(cutoff, req.DryRun)
	if err != nil {
		s.log.Error().Err(err).Msg("database cleanup failed")
		http.Error(w, "cleanup failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"dryRun":            req.DryRun,
		"daysToKeep":        req.DaysToKeep,
		"alertHistoryRows":  result.AlertHistoryRows,
		"outboxRows":        result.OutboxRows,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
