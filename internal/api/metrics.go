package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/doorbell-sync/internal/device"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	Devices       device.Stats   `json:"devices"`
	Scheduler     *SchedMetrics  `json:"scheduler,omitempty"`
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

// SchedMetrics is the scheduler summary included in /metrics.
type SchedMetrics struct {
	Cycles     uint64 `json:"cycles"`
	Failures   int    `json:"failures"`
	Breaker    string `json:"breaker"`
	AuthFailed bool   `json:"auth_failed"`
}

// handleMetrics returns runtime, registry and scheduler metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
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
		Devices: s.registry.GetStats(),
	}
	if s.hub != nil {
		metrics.WebSocket.ConnectedClients = s.hub.ClientCount()
	}
	if s.scheduler != nil {
		st := s.scheduler.Stats()
		metrics.Scheduler = &SchedMetrics{
			Cycles:     st.Cycles,
			Failures:   st.Failures,
			Breaker:    string(st.Breaker),
			AuthFailed: st.AuthFailed,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
