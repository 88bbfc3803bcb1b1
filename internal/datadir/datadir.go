package datadir

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default data directory name under $HOME.
	DefaultDirName = ".mycoai"

	// EnvVar is the environment variable that overrides the data directory.
	// It points at the directory holding the pre-built vector databases and
	// the model weight cache.
	EnvVar = "MYCOAI_HOME"

	// subdirectory names inside the data root
	databasesSubdir = "databases"
	modelsSubdir    = "models"
	exportsSubdir   = "exports"
)

// DataDir provides a single source of truth for all data-directory paths.
// Use New to construct an instance, which resolves the root and optionally
// creates the directory tree.
type DataDir struct {
	root string
}

// New returns a DataDir rooted at the resolved data directory.
// It does NOT create subdirectories; call EnsureDirs for that.
//
// Resolution priority:
//  1. MYCOAI_HOME environment variable
//  2. configValue argument (from config.json data_dir field)
//  3. ~/.mycoai/
func New(configValue string) (*DataDir, error) {
	root, err := resolveRoot(configValue)
	if err != nil {
		return nil, err
	}
	return &DataDir{root: root}, nil
}

// Root returns the base data directory path.
func (d *DataDir) Root() string { return d.root }

// DatabasesDir returns {root}/databases/, where pre-built vector databases live.
func (d *DataDir) DatabasesDir() string { return filepath.Join(d.root, databasesSubdir) }

// ModelsDir returns {root}/models/, the model weight download cache.
func (d *DataDir) ModelsDir() string { return filepath.Join(d.root, modelsSubdir) }

// ExportsDir returns {root}/exports/, where CSV result exports are written.
func (d *DataDir) ExportsDir() string { return filepath.Join(d.root, exportsSubdir) }

// DatabasePath returns the vector database file for a model.
func (d *DataDir) DatabasePath(model string) string {
	return filepath.Join(d.DatabasesDir(), model+".db")
}

// ModelPath returns the cached weight file path for a model.
func (d *DataDir) ModelPath(model string) string {
	return filepath.Join(d.ModelsDir(), model+".weights")
}

// FilePath returns the full path to a file directly inside the root directory.
func (d *DataDir) FilePath(filename string) string {
	return filepath.Join(d.root, filename)
}

// subdirectories returns all managed subdirectory paths.
func (d *DataDir) subdirectories() []string {
	return []string{
		d.DatabasesDir(),
		d.ModelsDir(),
		d.ExportsDir(),
	}
}

// EnsureDirs creates the root and all subdirectories with 0700 permissions.
func (d *DataDir) EnsureDirs() error {
	dirs := append([]string{d.root}, d.subdirectories()...)
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// resolveRoot determines the root path without creating it.
func resolveRoot(configValue string) (string, error) {
	dir := os.Getenv(EnvVar)
	if dir == "" {
		dir = configValue
	}
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		dir = filepath.Join(home, DefaultDirName)
	}
	return dir, nil
}
