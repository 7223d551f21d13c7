package monitor

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats describes this process as seen by the OS.
type ProcessStats struct {
	PID        int32   `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	MemoryRSS  uint64  `json:"memory_rss_bytes"`
	MemoryVMS  uint64  `json:"memory_vms_bytes"`
	NumThreads int32   `json:"num_threads"`
	CreateTime string  `json:"create_time,omitempty"`
}

// HostMemory describes system-wide memory pressure.
type HostMemory struct {
	Total       uint64  `json:"total_bytes"`
	Available   uint64  `json:"available_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// StatsResponse is the /stats payload.
type StatsResponse struct {
	Timestamp string       `json:"timestamp"`
	Uptime    string       `json:"uptime"`
	Process   ProcessStats `json:"process"`
	Host      HostMemory   `json:"host"`
	Runtime   SystemInfo   `json:"runtime"`
	RequestID string       `json:"request_id,omitempty"`
}

// handleStats reports process and host resource usage. Step pacing degrades
// visibly when the host is under memory pressure, so both views matter.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	response := StatsResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    s.uptime(),
		Runtime:   getSystemInfo(),
		RequestID: requestID,
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		response.Process.PID = proc.Pid
		if pct, err := proc.CPUPercent(); err == nil {
			response.Process.CPUPercent = pct
		}
		if info, err := proc.MemoryInfo(); err == nil {
			response.Process.MemoryRSS = info.RSS
			response.Process.MemoryVMS = info.VMS
		}
		if threads, err := proc.NumThreads(); err == nil {
			response.Process.NumThreads = threads
		}
		if created, err := proc.CreateTime(); err == nil {
			response.Process.CreateTime = time.UnixMilli(created).UTC().Format(time.RFC3339)
		}
	} else {
		s.logger.Printf("process stats unavailable: %v", err)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		response.Host = HostMemory{
			Total:       vm.Total,
			Available:   vm.Available,
			UsedPercent: vm.UsedPercent,
		}
	} else {
		s.logger.Printf("host memory stats unavailable: %v", err)
	}

	s.writeJSON(w, http.StatusOK, response)
}
