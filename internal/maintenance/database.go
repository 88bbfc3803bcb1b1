package maintenance

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"taxotag/internal/datadir"
	"taxotag/internal/vecdb/storage"
)

// DatabaseOptimizeTask refreshes query planner statistics on every vector
// database under the data directory.
type DatabaseOptimizeTask struct {
	dataDir *datadir.DataDir
	config  DatabaseConfig
	logger  *log.Logger
}

// NewDatabaseOptimizeTask creates a new database optimize task
func NewDatabaseOptimizeTask(dataDir *datadir.DataDir, config DatabaseConfig, logger *log.Logger) *DatabaseOptimizeTask {
	if logger == nil {
		logger = log.Default()
	}

	return &DatabaseOptimizeTask{
		dataDir: dataDir,
		config:  config,
		logger:  logger,
	}
}

// Name returns the task name
func (t *DatabaseOptimizeTask) Name() string {
	return "database_optimize"
}

// Description returns the task description
func (t *DatabaseOptimizeTask) Description() string {
	return "Run ANALYZE and PRAGMA optimize on the vector databases"
}

// Execute runs the database optimize task
func (t *DatabaseOptimizeTask) Execute(ctx context.Context) TaskResult {
	if !t.config.OptimizeEnabled {
		return TaskResult{
			Success: true,
			Message: "Database optimization disabled in configuration",
		}
	}

	paths, err := filepath.Glob(filepath.Join(t.dataDir.DatabasesDir(), "*.db"))
	if err != nil {
		return TaskResult{Success: false, Message: "Failed to scan databases directory", Error: err}
	}

	optimized := 0
	for _, path := range paths {
		if err := t.optimizeOne(ctx, path); err != nil {
			return TaskResult{
				Success: false,
				Message: fmt.Sprintf("Failed to optimize %s", filepath.Base(path)),
				Error:   err,
			}
		}
		optimized++
	}

	return TaskResult{
		Success: true,
		Message: fmt.Sprintf("Optimized %d databases", optimized),
	}
}

func (t *DatabaseOptimizeTask) optimizeOne(ctx context.Context, path string) error {
	s, err := storage.NewSQLite(path)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.Optimize(ctx)
}
