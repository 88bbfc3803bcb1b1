package maintenance

import (
	"context"
	"time"
)

// Task represents a maintenance task that can be scheduled and executed
type Task interface {
	// Name returns the name of the maintenance task
	Name() string

	// Description returns a human-readable description of what the task does
	Description() string

	// Execute runs the maintenance task
	Execute(ctx context.Context) TaskResult
}

// TaskResult represents the result of executing a maintenance task
type TaskResult struct {
	Success        bool          `json:"success"`
	Duration       time.Duration `json:"duration"`
	Message        string        `json:"message"`
	FilesRemoved   int           `json:"files_removed,omitempty"`
	SpaceReclaimed int64         `json:"space_reclaimed,omitempty"`
	Error          error         `json:"error,omitempty"`
}

// TaskStatus represents the status of a maintenance task
type TaskStatus struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	LastRun     time.Time  `json:"last_run"`
	LastResult  TaskResult `json:"last_result"`
	Enabled     bool       `json:"enabled"`
	Schedule    string     `json:"schedule"`
}

// Config represents maintenance configuration
type Config struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"` // cron expression with seconds field

	// File pruning configuration
	Files FileConfig `json:"files"`

	// Database maintenance configuration
	Database DatabaseConfig `json:"database"`

	// Maintenance window configuration
	Window WindowConfig `json:"window"`
}

// FileConfig configures pruning of transient files
type FileConfig struct {
	ExportTTL      time.Duration `json:"export_ttl"`       // age after which CSV exports are removed
	StalePartAfter time.Duration `json:"stale_part_after"` // age after which partial downloads are removed
}

// DatabaseConfig configures vector database maintenance operations
type DatabaseConfig struct {
	OptimizeEnabled bool `json:"optimize_enabled"` // run ANALYZE / PRAGMA optimize
}

// WindowConfig defines maintenance windows to avoid peak usage
type WindowConfig struct {
	StartHour int    `json:"start_hour"` // default 2 (2 AM)
	EndHour   int    `json:"end_hour"`   // default 5 (5 AM)
	TimeZone  string `json:"time_zone"`  // default "UTC"
}

// DefaultConfig returns the default maintenance configuration
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		Schedule: "0 0 * * * *", // hourly, on the hour
		Files: FileConfig{
			ExportTTL:      24 * time.Hour,
			StalePartAfter: 12 * time.Hour,
		},
		Database: DatabaseConfig{
			OptimizeEnabled: true,
		},
		Window: WindowConfig{
			StartHour: 2,
			EndHour:   5,
			TimeZone:  "UTC",
		},
	}
}
