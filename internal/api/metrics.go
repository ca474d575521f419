package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/divert-core/internal/catalog"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	Catalog       CatalogMetrics  `json:"catalog"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// CatalogMetrics reports registry sizes and the last sync.
type CatalogMetrics struct {
	Teams        int    `json:"teams"`
	Workflows    int    `json:"workflows"`
	LastSyncAt   string `json:"last_sync_at,omitempty"`
	LastSyncOK   *bool  `json:"last_sync_ok,omitempty"`
	LastSyncFrom string `json:"last_sync_source,omitempty"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns process, websocket, catalog and database metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
	}

	if s.hub != nil {
		metrics.WebSocket.ConnectedClients = s.hub.ClientCount()
	}

	for _, kind := range []catalog.Kind{catalog.KindTeam, catalog.KindWorkflow} {
		counts, err := s.registry.CategoryCounts(r.Context(), kind)
		if err != nil {
			s.logger.Warn("metrics: counting definitions failed", "kind", kind, "error", err)
			continue
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		if kind == catalog.KindTeam {
			metrics.Catalog.Teams = total
		} else {
			metrics.Catalog.Workflows = total
		}
	}

	if s.coordinator != nil {
		if last := s.coordinator.Last(); last != nil {
			ok := last.OK()
			metrics.Catalog.LastSyncAt = last.StartedAt.Format(time.RFC3339)
			metrics.Catalog.LastSyncOK = &ok
			metrics.Catalog.LastSyncFrom = last.Source
		}
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
