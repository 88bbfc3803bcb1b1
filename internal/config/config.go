package config

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config represents the service configuration
type Config struct {
	Port         int                `json:"port"`
	Timezone     string             `json:"timezone,omitempty"`
	DataDir      string             `json:"data_dir,omitempty"`
	SecretsFile  string             `json:"secrets_file,omitempty"`
	Search       SearchConfig       `json:"search"`
	Models       ModelsConfig       `json:"models"`
	Debug        DebugConfig        `json:"debug,omitempty"`
	RateLimiting RateLimitingConfig `json:"rateLimiting,omitempty"`
	Maintenance  MaintenanceConfig  `json:"maintenance,omitempty"`
}

// SearchConfig contains search behavior settings
type SearchConfig struct {
	DefaultModel string `json:"default_model,omitempty"` // Model used when a request names none
	DefaultLimit int    `json:"default_limit,omitempty"` // Top-N matches per rank (default 2)
	MaxLimit     int    `json:"max_limit,omitempty"`     // Hard cap on top-N (default 5)
	MaxSequences int    `json:"max_sequences,omitempty"` // Max sequences per request (default 100)
	EfSearch     int    `json:"ef_search,omitempty"`     // HNSW search beam width (default 50)
}

// ModelsConfig contains model registry and weight download settings
type ModelsConfig struct {
	ManifestPath           string `json:"manifest_path,omitempty"` // YAML manifest overriding the built-in registry
	BaseURL                string `json:"base_url,omitempty"`      // Base URL for weight downloads (supports ${ENV_VAR})
	DownloadTimeoutSeconds int    `json:"downloadTimeoutSeconds,omitempty"`
}

// DebugConfig contains debugging and logging settings
type DebugConfig struct {
	LogSequenceContent bool `json:"log_sequence_content,omitempty"` // Enable logging of submitted sequences (privacy risk!)
	VerboseLogging     bool `json:"verbose_logging,omitempty"`      // Enable verbose debug logging
}

// RateLimitingConfig contains rate limiting settings
type RateLimitingConfig struct {
	Enabled                bool `json:"enabled"`
	WindowSeconds          int  `json:"windowSeconds"`
	MaxRequests            int  `json:"maxRequests"`
	CleanupIntervalSeconds int  `json:"cleanupIntervalSeconds"`
}

// MaintenanceConfig contains the maintenance scheduler settings
type MaintenanceConfig struct {
	Enabled          bool   `json:"enabled"`
	Schedule         string `json:"schedule,omitempty"`           // cron expression with seconds field
	ExportTTLHours   int    `json:"export_ttl_hours,omitempty"`   // Age after which CSV exports are pruned
	WindowStartHour  int    `json:"window_start_hour,omitempty"`  // Heavy tasks only run inside [start, end)
	WindowEndHour    int    `json:"window_end_hour,omitempty"`    //
	OptimizeDatabase bool   `json:"optimize_database,omitempty"`  // Run sqlite ANALYZE during the window
	StalePartHours   int    `json:"stale_part_hours,omitempty"`   // Age after which partial downloads are pruned
}

// Default returns a default configuration
func Default() *Config {
	return &Config{
		Port: 8501,
		Search: SearchConfig{
			// kmer6-raw needs no weight download, so a fresh install can
			// search as soon as a database is built. The MycoAI models need
			// a manifest with real checksums and a weight source URL.
			DefaultModel: "kmer6-raw",
			DefaultLimit: 2,
			MaxLimit:     5,
			MaxSequences: 100,
			EfSearch:     50,
		},
		Models: ModelsConfig{
			BaseURL:                "${TAXOTAG_MODELS_URL}",
			DownloadTimeoutSeconds: 300,
		},
		Debug: DebugConfig{
			LogSequenceContent: false, // Privacy-safe by default
			VerboseLogging:     false,
		},
		RateLimiting: RateLimitingConfig{
			Enabled:                true,
			WindowSeconds:          60,
			MaxRequests:            100, // per IP per minute
			CleanupIntervalSeconds: 300,
		},
		Maintenance: MaintenanceConfig{
			Enabled:          true,
			Schedule:         "0 0 * * * *", // hourly, on the hour
			ExportTTLHours:   24,
			WindowStartHour:  2,
			WindowEndHour:    5,
			OptimizeDatabase: true,
			StalePartHours:   12,
		},
	}
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	var cfg Config

	// Check if file exists, create default if not
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg = *Default()
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
		fmt.Printf("Created default configuration at %s\n", path)
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Expand tilde in path fields before anything else so that
	// secrets_file can reference ~/... paths.
	cfg.expandTilde()

	// Load secrets file (KEY=VALUE) into the environment before
	// expanding ${ENV_VAR} placeholders in the config.
	if err := cfg.loadSecretsFile(); err != nil {
		return nil, fmt.Errorf("failed to load secrets file: %w", err)
	}

	// Expand environment variables
	cfg.expandEnvVars()

	// Fill zero-valued fields from the defaults
	cfg.applyDefaults()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// expandEnvVars expands environment variables in configuration values
func (c *Config) expandEnvVars() {
	c.DataDir = os.ExpandEnv(c.DataDir)
	c.SecretsFile = os.ExpandEnv(c.SecretsFile)
	c.Models.ManifestPath = os.ExpandEnv(c.Models.ManifestPath)
	c.Models.BaseURL = os.ExpandEnv(c.Models.BaseURL)
}

// applyDefaults fills zero-valued fields with their defaults so that a
// partial config file behaves predictably.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.Search.DefaultModel == "" {
		c.Search.DefaultModel = def.Search.DefaultModel
	}
	if c.Search.DefaultLimit == 0 {
		c.Search.DefaultLimit = def.Search.DefaultLimit
	}
	if c.Search.MaxLimit == 0 {
		c.Search.MaxLimit = def.Search.MaxLimit
	}
	if c.Search.MaxSequences == 0 {
		c.Search.MaxSequences = def.Search.MaxSequences
	}
	if c.Search.EfSearch == 0 {
		c.Search.EfSearch = def.Search.EfSearch
	}
	if c.Models.DownloadTimeoutSeconds == 0 {
		c.Models.DownloadTimeoutSeconds = def.Models.DownloadTimeoutSeconds
	}
	if c.Maintenance.Schedule == "" {
		c.Maintenance.Schedule = def.Maintenance.Schedule
	}
	if c.Maintenance.ExportTTLHours == 0 {
		c.Maintenance.ExportTTLHours = def.Maintenance.ExportTTLHours
	}
}

// Validate validates the entire configuration
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	if c.Search.DefaultLimit < 1 || c.Search.DefaultLimit > c.Search.MaxLimit {
		return fmt.Errorf("default_limit must be in 1..%d, got %d", c.Search.MaxLimit, c.Search.DefaultLimit)
	}
	if c.Search.MaxSequences <= 0 {
		return fmt.Errorf("max_sequences must be greater than 0")
	}
	if c.Search.MaxSequences > 100 {
		fmt.Printf("WARNING: max_sequences is set to %d; large batches make search requests slow.\n", c.Search.MaxSequences)
	}

	// Validate rate limiting configuration
	if c.RateLimiting.Enabled {
		if c.RateLimiting.WindowSeconds <= 0 || c.RateLimiting.MaxRequests <= 0 {
			return fmt.Errorf("invalid rate limiting configuration")
		}
	}

	// Validate maintenance window
	if c.Maintenance.WindowStartHour < 0 || c.Maintenance.WindowStartHour > 23 ||
		c.Maintenance.WindowEndHour < 0 || c.Maintenance.WindowEndHour > 24 {
		return fmt.Errorf("invalid maintenance window %d..%d", c.Maintenance.WindowStartHour, c.Maintenance.WindowEndHour)
	}

	// Validate timezone if set
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
		}
	}

	return nil
}

// GetLocation returns the configured timezone as a *time.Location,
// falling back to time.Local.
func (c *Config) GetLocation() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// expandTilde replaces a leading "~/" with the user's home directory in
// path-valued config fields. Called before env-var expansion so that
// both "~/foo" and "${SOME_PATH}" work.
func (c *Config) expandTilde() {
	home, err := os.UserHomeDir()
	if err != nil {
		return // can't expand, leave as-is
	}
	expand := func(p string) string {
		if p == "~" {
			return home
		}
		if strings.HasPrefix(p, "~/") {
			return filepath.Join(home, p[2:])
		}
		return p
	}

	c.DataDir = expand(c.DataDir)
	c.SecretsFile = expand(c.SecretsFile)
	c.Models.ManifestPath = expand(c.Models.ManifestPath)
}

// loadSecretsFile reads a KEY=VALUE file into the process environment.
// Blank lines and lines starting with '#' are ignored.
// Existing environment variables are NOT overridden (shell/systemd wins).
// If SecretsFile is empty or the file doesn't exist, this is a no-op.
func (c *Config) loadSecretsFile() error {
	if c.SecretsFile == "" {
		return nil
	}

	f, err := os.Open(c.SecretsFile)
	if os.IsNotExist(err) {
		return nil // missing file is fine
	}
	if err != nil {
		return fmt.Errorf("cannot open secrets file %s: %w", c.SecretsFile, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		// Strip optional surrounding quotes from value
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		// Don't override existing env vars
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}
