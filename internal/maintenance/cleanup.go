package maintenance

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"taxotag/internal/datadir"
)

// FileCleanupTask prunes transient files from the data directory: stale
// partial weight downloads and expired CSV exports.
type FileCleanupTask struct {
	dataDir *datadir.DataDir
	config  FileConfig
	logger  *log.Logger
}

// NewFileCleanupTask creates a new file cleanup task
func NewFileCleanupTask(dataDir *datadir.DataDir, config FileConfig, logger *log.Logger) *FileCleanupTask {
	if logger == nil {
		logger = log.Default()
	}
	if config.ExportTTL <= 0 {
		config.ExportTTL = DefaultConfig().Files.ExportTTL
	}
	if config.StalePartAfter <= 0 {
		config.StalePartAfter = DefaultConfig().Files.StalePartAfter
	}

	return &FileCleanupTask{
		dataDir: dataDir,
		config:  config,
		logger:  logger,
	}
}

// Name returns the task name
func (t *FileCleanupTask) Name() string {
	return "file_cleanup"
}

// Description returns the task description
func (t *FileCleanupTask) Description() string {
	return "Prune stale partial weight downloads and expired CSV exports"
}

// Execute runs the file cleanup task
func (t *FileCleanupTask) Execute(ctx context.Context) TaskResult {
	result := TaskResult{Success: true}

	// Stale .part/.tmp files mean an interrupted download; anything old
	// enough is safe to remove.
	removed, reclaimed, err := pruneFiles(t.dataDir.ModelsDir(), t.config.StalePartAfter, func(name string) bool {
		return strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".tmp")
	})
	if err != nil {
		return TaskResult{Success: false, Message: "Failed to prune partial downloads", Error: err}
	}
	result.FilesRemoved += removed
	result.SpaceReclaimed += reclaimed

	// Exported CSVs are re-creatable from the result store; expire them.
	removed, reclaimed, err = pruneFiles(t.dataDir.ExportsDir(), t.config.ExportTTL, func(name string) bool {
		return strings.HasSuffix(name, ".csv")
	})
	if err != nil {
		return TaskResult{Success: false, Message: "Failed to prune exports", Error: err}
	}
	result.FilesRemoved += removed
	result.SpaceReclaimed += reclaimed

	result.Message = fmt.Sprintf("Removed %d files, reclaimed %d bytes", result.FilesRemoved, result.SpaceReclaimed)
	return result
}

// pruneFiles removes matching files older than maxAge from dir.
// A missing directory counts as nothing to do.
func pruneFiles(dir string, maxAge time.Duration, match func(name string) bool) (int, int64, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int
	var reclaimed int64
	for _, entry := range entries {
		if entry.IsDir() || !match(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			return removed, reclaimed, fmt.Errorf("failed to remove %s: %w", path, err)
		}
		removed++
		reclaimed += info.Size()
	}
	return removed, reclaimed, nil
}
