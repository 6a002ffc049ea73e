package server

import (
	"net/http"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/moneta-app/moneta/internal/database"
)

// handleSystemStatus reports process and host health plus the store file
// size, for the external dashboard's status widget.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":         "running",
		"schema_version": database.LatestSchemaVersion,
		"goroutines":     runtime.NumGoroutine(),
	}

	if info, err := os.Stat(s.db.Path()); err == nil {
		response["store_bytes"] = info.Size()
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		response["host_memory"] = map[string]any{
			"total_mb":     vm.Total / 1024 / 1024,
			"available_mb": vm.Available / 1024 / 1024,
			"used_pct":     vm.UsedPercent,
		}
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := proc.MemoryInfo(); err == nil {
			response["process_rss_mb"] = mi.RSS / 1024 / 1024
		}
		if cpu, err := proc.CPUPercent(); err == nil {
			response["process_cpu_pct"] = cpu
		}
	}

	s.writeJSON(w, http.StatusOK, response)
}
