package api

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"
)

// Version is reported by the health endpoint. Set via -ldflags.
var Version = "dev"

// HealthStatus represents the overall health status.
type HealthStatus struct {
	Status       string                 `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp    time.Time              `json:"timestamp"`
	InstanceID   string                 `json:"instance_id,omitempty"`
	Uptime       int64                  `json:"uptime_seconds"`
	Version      string                 `json:"version,omitempty"`
	Dependencies map[string]DepHealth   `json:"dependencies"`
	Metrics      map[string]interface{} `json:"metrics,omitempty"`
}

// DepHealth represents the health of a dependency.
type DepHealth struct {
	Status  string `json:"status"` // "healthy", "degraded", "unhealthy", "unknown"
	Message string `json:"message,omitempty"`
	Latency int64  `json:"latency_ms,omitempty"`
}

var (
	startTime  = time.Now()
	instanceID = getInstanceID()
)

// handleHealthLive handles GET /api/v1/health/live
func (s *Server) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleHealth handles GET /api/v1/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	deps := s.checkDependencies(ctx)

	overallStatus := "healthy"
	for _, health := range deps {
		if health.Status == "unhealthy" {
			overallStatus = "unhealthy"
			break
		} else if health.Status == "degraded" {
			overallStatus = "degraded"
		}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	metrics := map[string]interface{}{
		"goroutines":   runtime.NumGoroutine(),
		"memory_alloc": mem.Alloc,
		"gc_runs":      mem.NumGC,
	}
	cacheStats := s.learner.PredictionCacheStats(ctx)
	metrics["prediction_cache_hits"] = cacheStats.Hits
	metrics["prediction_cache_misses"] = cacheStats.Misses
	metrics["prediction_cache_hit_rate"] = cacheStats.HitRate

	status := HealthStatus{
		Status:       overallStatus,
		Timestamp:    time.Now(),
		InstanceID:   instanceID,
		Uptime:       int64(time.Since(startTime).Seconds()),
		Version:      Version,
		Dependencies: deps,
		Metrics:      metrics,
	}

	httpStatus := http.StatusOK
	if overallStatus == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}
	s.respondJSON(w, httpStatus, status)
}

// checkDependencies checks the health of all dependencies.
func (s *Server) checkDependencies(ctx context.Context) map[string]DepHealth {
	deps := make(map[string]DepHealth)
	deps["storage"] = s.checkStorage(ctx)
	deps["scheduler"] = s.checkScheduler()
	if s.bus != nil {
		deps["event_bus"] = checkBus(s.bus)
	}
	return deps
}

func (s *Server) checkStorage(ctx context.Context) DepHealth {
	start := time.Now()
	if err := s.learner.CheckStorage(ctx); err != nil {
		return DepHealth{
			Status:  "unhealthy",
			Message: err.Error(),
			Latency: time.Since(start).Milliseconds(),
		}
	}
	return DepHealth{
		Status:  "healthy",
		Message: "connected",
		Latency: time.Since(start).Milliseconds(),
	}
}

// checkScheduler reports degraded when the latest run of any tick failed.
func (s *Server) checkScheduler() DepHealth {
	for _, st := range s.learner.TickStats() {
		if st.LastError != "" {
			return DepHealth{
				Status:  "degraded",
				Message: st.Name + " tick: " + st.LastError,
			}
		}
	}
	return DepHealth{Status: "healthy", Message: "operational"}
}

func checkBus(bus HealthChecker) DepHealth {
	if err := bus.Health(); err != nil {
		// events are a side channel; the loop keeps running without them
		return DepHealth{Status: "degraded", Message: err.Error()}
	}
	return DepHealth{Status: "healthy", Message: "connected"}
}

func getInstanceID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return hostname
}
