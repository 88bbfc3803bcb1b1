package server

import (
	"net/http"
	"time"

	"taxotag/internal/version"
)

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.metrics.UpdateSystemMetrics()

	status := "healthy"
	if !s.metrics.IsHealthy() {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Version:   version.Info(),
		Uptime:    s.metrics.GetUptime().String(),
	})
}

// handleMetrics handles GET /metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.metrics.UpdateSystemMetrics()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metrics":        s.metrics.Snapshot(),
		"rate_limiting":  s.rateLimitMiddleware.GetStats(),
		"stored_results": s.results.Len(),
	})
}
