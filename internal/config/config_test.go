package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8501, cfg.Port)
	assert.Equal(t, "kmer6-raw", cfg.Search.DefaultModel)
	assert.Equal(t, 2, cfg.Search.DefaultLimit)
	assert.Equal(t, 5, cfg.Search.MaxLimit)
	assert.Equal(t, 100, cfg.Search.MaxSequences)
	assert.True(t, cfg.RateLimiting.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8501, cfg.Port)

	// File should now exist and load back identically.
	_, err = os.Stat(path)
	require.NoError(t, err)

	cfg2, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Port, cfg2.Port)
	assert.Equal(t, cfg.Search, cfg2.Search)
}

func TestLoadPartialConfigGetsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": 9000}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 2, cfg.Search.DefaultLimit)
	assert.Equal(t, 5, cfg.Search.MaxLimit)
	assert.Equal(t, 100, cfg.Search.MaxSequences)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TAXOTAG_TEST_DATA", "/srv/mycoai")
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": 8501, "data_dir": "${TAXOTAG_TEST_DATA}"}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/mycoai", cfg.DataDir)
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": 8501, "data_dir": "~/mycoai-data"}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "mycoai-data"), cfg.DataDir)
}

func TestLoadSecretsFile(t *testing.T) {
	dir := t.TempDir()
	secrets := filepath.Join(dir, "secrets.env")
	require.NoError(t, os.WriteFile(secrets, []byte(
		"# comment\n\nTAXOTAG_TEST_SECRET=\"s3cret\"\nTAXOTAG_TEST_EXISTING=file_value\n"), 0600))

	os.Unsetenv("TAXOTAG_TEST_SECRET")
	defer os.Unsetenv("TAXOTAG_TEST_SECRET")
	t.Setenv("TAXOTAG_TEST_EXISTING", "env_value")

	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": 8501, "secrets_file": "`+secrets+`"}`), 0644))

	_, err := Load(path)
	require.NoError(t, err)

	// Quotes stripped, existing env not overridden.
	assert.Equal(t, "s3cret", os.Getenv("TAXOTAG_TEST_SECRET"))
	assert.Equal(t, "env_value", os.Getenv("TAXOTAG_TEST_EXISTING"))
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Port = -1
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Search.DefaultLimit = 10 // above MaxLimit
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.RateLimiting.WindowSeconds = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Timezone = "Not/AZone"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Maintenance.WindowEndHour = 99
	assert.Error(t, cfg.Validate())
}
