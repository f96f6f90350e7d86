package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	Accounts      AccountsMetrics `json:"accounts"`
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

// AccountsMetrics sums polling counters over every loaded account.
type AccountsMetrics struct {
	Total               int            `json:"total"`
	Loaded              int            `json:"loaded"`
	ByState             map[string]int `json:"by_state"`
	Devices             int            `json:"devices"`
	Ticks               uint64         `json:"ticks"`
	SkippedTicks        uint64         `json:"skipped_ticks"`
	Successes           uint64         `json:"successes"`
	Failures            uint64         `json:"failures"`
	RateLimitRecoveries uint64         `json:"rate_limit_recoveries"`
}

// handleMetrics returns process and polling metrics.
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
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Accounts: AccountsMetrics{ByState: make(map[string]int)},
	}

	entries, err := s.accounts.List(r.Context())
	if err != nil {
		s.logger.Error("listing accounts for metrics", "error", err)
		writeInternalError(w, "failed to list accounts")
		return
	}

	am := &metrics.Accounts
	am.Total = len(entries)
	for _, e := range entries {
		am.ByState[string(e.State)]++

		c, ok := s.host.Coordinator(e.ID)
		if !ok {
			continue
		}
		am.Loaded++
		if snap, err := c.Current(); err == nil {
			am.Devices += snap.DeviceCount()
		}
		st := c.Stats()
		am.Ticks += st.Ticks
		am.SkippedTicks += st.SkippedTicks
		am.Successes += st.Successes
		am.Failures += st.Failures
		am.RateLimitRecoveries += st.RateLimitRecoveries
	}

	writeJSON(w, http.StatusOK, metrics)
}
