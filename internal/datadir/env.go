package datadir

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

const (
	// EnvFileEnvVar allows overriding the .env file path entirely.
	EnvFileEnvVar = "MYCOAI_ENV_FILE"
)

// LoadEnv loads KEY=VALUE .env files from standard locations in priority order.
// godotenv.Load never overrides variables already set in the environment, so
// earlier files and the real environment always win.
//
// Default search order:
//  1. MYCOAI_ENV_FILE (if set, only that file is loaded)
//  2. {datadir}/.env
//  3. Project-level .env (current working directory)
//
// Extra directories may be supplied via dirs; a .env file in each is tried
// after the standard locations.
func LoadEnv(dataRoot string, dirs ...string) error {
	for _, p := range findEnvPaths(dataRoot, dirs...) {
		if _, err := os.Stat(p); err != nil {
			continue // missing file is fine
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// FindEnvFiles returns all .env file paths that would be loaded, in order.
// Files that don't exist on disk are excluded.
func FindEnvFiles(dataRoot string, dirs ...string) []string {
	candidates := findEnvPaths(dataRoot, dirs...)
	var found []string
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			found = append(found, p)
		}
	}
	return found
}

// findEnvPaths builds the candidate list of .env file paths.
func findEnvPaths(dataRoot string, dirs ...string) []string {
	// If MYCOAI_ENV_FILE is set, it is the sole source.
	if override := os.Getenv(EnvFileEnvVar); override != "" {
		return []string{override}
	}

	var paths []string

	// 1. {datadir}/.env
	if dataRoot != "" {
		paths = append(paths, filepath.Join(dataRoot, ".env"))
	}

	// 2. Project-level .env (cwd)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".env"))
	}

	// 3. Extra directories
	for _, d := range dirs {
		if d != "" {
			paths = append(paths, filepath.Join(d, ".env"))
		}
	}

	return dedupPaths(paths)
}

// dedupPaths removes duplicate paths (after cleaning) while preserving order.
func dedupPaths(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	var out []string
	for _, p := range paths {
		clean := filepath.Clean(p)
		if seen[clean] {
			continue
		}
		seen[clean] = true
		out = append(out, p)
	}
	return out
}
