// Package monitoring tracks server health and search performance metrics.
package monitoring

import (
	"runtime"
	"sync"
	"time"
)

// ServerMetrics tracks server health and search performance metrics
type ServerMetrics struct {
	// Search metrics
	CompletedSearches  int64 `json:"completed_searches"`
	FailedSearches     int64 `json:"failed_searches"`
	SequencesProcessed int64 `json:"sequences_processed"`
	ExportsServed      int64 `json:"exports_served"`

	// Streaming metrics
	ActiveStreams int `json:"active_streams"`
	TotalStreams  int `json:"total_streams"`

	// System metrics
	UptimeSeconds    int64   `json:"uptime_seconds"`
	MemoryUsageBytes int64   `json:"memory_usage_bytes"`
	MemoryUsageMB    float64 `json:"memory_usage_mb"`
	GoroutineCount   int     `json:"goroutine_count"`

	// Server state
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"` // "healthy", "degraded", "error"
	Version   string    `json:"version,omitempty"`

	// Internal fields for tracking
	mutex     sync.RWMutex `json:"-"`
	startTime time.Time    `json:"-"`
}

// NewServerMetrics creates a new metrics instance
func NewServerMetrics() *ServerMetrics {
	now := time.Now()
	return &ServerMetrics{
		Timestamp: now,
		startTime: now,
		Status:    "healthy",
	}
}

// RecordSearch records a completed search and the number of sequences it processed
func (m *ServerMetrics) RecordSearch(sequences int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.CompletedSearches++
	m.SequencesProcessed += int64(sequences)
	m.Timestamp = time.Now()
}

// RecordSearchFailure increments the failed searches counter
func (m *ServerMetrics) RecordSearchFailure() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.FailedSearches++
	m.Timestamp = time.Now()
}

// RecordExport increments the CSV exports counter
func (m *ServerMetrics) RecordExport() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.ExportsServed++
	m.Timestamp = time.Now()
}

// StreamStarted tracks a new WebSocket progress stream
func (m *ServerMetrics) StreamStarted() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.ActiveStreams++
	m.TotalStreams++
	m.Timestamp = time.Now()
}

// StreamEnded tracks a finished WebSocket progress stream
func (m *ServerMetrics) StreamEnded() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.ActiveStreams > 0 {
		m.ActiveStreams--
	}
	m.Timestamp = time.Now()
}

// UpdateSystemMetrics updates system-level metrics
func (m *ServerMetrics) UpdateSystemMetrics() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	// Calculate uptime
	m.UptimeSeconds = int64(time.Since(m.startTime).Seconds())

	// Get memory statistics
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	m.MemoryUsageBytes = int64(memStats.Alloc)
	m.MemoryUsageMB = float64(memStats.Alloc) / 1024 / 1024

	// Get goroutine count
	m.GoroutineCount = runtime.NumGoroutine()

	m.Timestamp = time.Now()
}

// SetStatus updates the server status
func (m *ServerMetrics) SetStatus(status string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.Status = status
	m.Timestamp = time.Now()
}

// SetVersion sets the server version
func (m *ServerMetrics) SetVersion(version string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.Version = version
}

// MetricsSnapshot is a data-only copy of ServerMetrics, safe to pass by value.
type MetricsSnapshot struct {
	CompletedSearches  int64     `json:"completed_searches"`
	FailedSearches     int64     `json:"failed_searches"`
	SequencesProcessed int64     `json:"sequences_processed"`
	ExportsServed      int64     `json:"exports_served"`
	ActiveStreams      int       `json:"active_streams"`
	TotalStreams       int       `json:"total_streams"`
	UptimeSeconds      int64     `json:"uptime_seconds"`
	MemoryUsageBytes   int64     `json:"memory_usage_bytes"`
	MemoryUsageMB      float64   `json:"memory_usage_mb"`
	GoroutineCount     int       `json:"goroutine_count"`
	Timestamp          time.Time `json:"timestamp"`
	Status             string    `json:"status"`
	Version            string    `json:"version,omitempty"`
}

// Snapshot returns a thread-safe copy of the current metrics
func (m *ServerMetrics) Snapshot() MetricsSnapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return MetricsSnapshot{
		CompletedSearches:  m.CompletedSearches,
		FailedSearches:     m.FailedSearches,
		SequencesProcessed: m.SequencesProcessed,
		ExportsServed:      m.ExportsServed,
		ActiveStreams:      m.ActiveStreams,
		TotalStreams:       m.TotalStreams,
		UptimeSeconds:      m.UptimeSeconds,
		MemoryUsageBytes:   m.MemoryUsageBytes,
		MemoryUsageMB:      m.MemoryUsageMB,
		GoroutineCount:     m.GoroutineCount,
		Timestamp:          m.Timestamp,
		Status:             m.Status,
		Version:            m.Version,
	}
}

// IsHealthy returns true if the server appears to be healthy
func (m *ServerMetrics) IsHealthy() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.Status == "healthy"
}

// GetUptime returns the uptime as a duration
func (m *ServerMetrics) GetUptime() time.Duration {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return time.Since(m.startTime)
}
