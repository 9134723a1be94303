package transport

import (
	"net/http"
	"runtime"
	"strconv"
	"time"
)

// healthStatus is the worst-of-probes classification spec §4.8 mandates.
type healthStatus string

const (
	statusHealthy   healthStatus = "healthy"
	statusDegraded  healthStatus = "degraded"
	statusUnhealthy healthStatus = "unhealthy"
)

// healthResponse is the /health payload: independent probes plus the
// worst-status rollup.
type healthResponse struct {
	Status   healthStatus     `json:"status"`
	UptimeMs int64            `json:"uptimeMs"`
	Sessions int              `json:"sessions"`
	Runtime  runtimeProbe     `json:"runtime"`
	Probes   map[string]probe `json:"probes"`
}

type runtimeProbe struct {
	GoVersion  string `json:"goVersion"`
	Goroutines int    `json:"goroutines"`
	HeapBytes  uint64 `json:"heapBytes"`
	TotalBytes uint64 `json:"totalBytes"`
}

type probe struct {
	Status healthStatus `json:"status"`
	Detail string       `json:"detail,omitempty"`
}

// heapPressureThresholds classify heap-vs-total memory use (spec §4.8:
// "heap usage vs total"). Crossing the degraded line at 75% gives an
// operator lead time before the unhealthy line at 90%.
const (
	heapDegradedRatio  = 0.75
	heapUnhealthyRatio = 0.90
)

func worstStatus(a, b healthStatus) healthStatus {
	rank := map[healthStatus]int{statusHealthy: 0, statusDegraded: 1, statusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// handleHealth aggregates independent probes into one worst-status rollup
// (spec §4.8).
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	overall := statusHealthy
	probes := make(map[string]probe)

	memStatus := statusHealthy
	if mem.Sys > 0 {
		ratio := float64(mem.HeapAlloc) / float64(mem.Sys)
		switch {
		case ratio >= heapUnhealthyRatio:
			memStatus = statusUnhealthy
		case ratio >= heapDegradedRatio:
			memStatus = statusDegraded
		}
	}
	probes["memory"] = probe{Status: memStatus}
	overall = worstStatus(overall, memStatus)

	sessionStatus := statusHealthy
	sessionCount := s.Sessions.Count()
	if s.MaxSessions > 0 && sessionCount >= s.MaxSessions {
		sessionStatus = statusDegraded
	}
	probes["sessions"] = probe{Status: sessionStatus, Detail: strconv.Itoa(sessionCount)}
	overall = worstStatus(overall, sessionStatus)

	resp := healthResponse{
		Status:   overall,
		UptimeMs: time.Since(s.StartedAt).Milliseconds(),
		Sessions: sessionCount,
		Runtime: runtimeProbe{
			GoVersion:  runtime.Version(),
			Goroutines: runtime.NumGoroutine(),
			HeapBytes:  mem.HeapAlloc,
			TotalBytes: mem.Sys,
		},
		Probes: probes,
	}

	status := http.StatusOK
	if overall == statusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// handleReady is a constant-time OK response that probes no dependencies
// (spec §4.8: "/ready and /live are constant-time OK responses").
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive is a constant-time process-liveness check.
func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "live"})
}
