package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

type healthResponse struct {
	Status     string  `json:"status"`
	UptimeSecs uint64  `json:"uptime_seconds"`
	CPUPercent float64 `json:"cpu_percent,omitempty"`
	MemPercent float64 `json:"mem_percent,omitempty"`
	RunAPIOpen bool    `json:"run_api_enabled"`
}

// handleHealthz reports liveness plus lightweight host stats, in the texture
// of the pack's gopsutil-based health probes (declared in several example
// go.mod files for exactly this purpose).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", RunAPIOpen: s.cfg.RunAPIEnabled}

	if info, err := host.InfoWithContext(r.Context()); err == nil {
		resp.UptimeSecs = info.Uptime
	}
	if percents, err := cpu.PercentWithContext(r.Context(), 0, false); err == nil && len(percents) > 0 {
		resp.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		resp.MemPercent = vm.UsedPercent
	}

	body, _ := json.Marshal(resp)
	writeJSON(w, http.StatusOK, body)
}
