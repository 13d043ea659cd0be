package server

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleHealth reports service liveness plus host pressure. The store check
// runs a real query, so a corrupted or locked database flips the status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK

	storeStatus := "ok"
	if err := s.store.HealthCheck(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("store health check failed")
		storeStatus = err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	cpuPercent, memPercent := s.systemStats()

	s.writeJSON(w, httpStatus, map[string]any{
		"status":      status,
		"service":     "tremor",
		"store":       storeStatus,
		"cpu_percent": cpuPercent,
		"mem_percent": memPercent,
	})
}

// systemStats samples CPU and RAM usage percentages. The 100ms CPU window
// keeps the endpoint fast enough for tight poll intervals.
func (s *Server) systemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}
