package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/biome-cli/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "biome.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 500, cfg.Resolve.BatchSize)
	assert.Equal(t, 5000, cfg.Resolve.CheckpointThreshold)
	assert.InDelta(t, 0.01, cfg.Resolve.MinSearchRadius, 1e-12)
	assert.InDelta(t, 1.0, cfg.Resolve.MaxSearchRadius, 1e-12)
	assert.Equal(t, 0, cfg.Resolve.WorkerCount)
	assert.Equal(t, 5, cfg.Resolve.ProgressIntervalSeconds)
	assert.Equal(t, "kdtree", cfg.Resolve.Index)
	assert.Equal(t, int64(256), cfg.Raster.BlockCacheSize)
	assert.Equal(t, "entity_id", cfg.Input.EntityColumn)
	assert.Equal(t, "biomes", cfg.Output.Dir)
	assert.True(t, cfg.Output.Merge)
	assert.Equal(t, "biome_results", cfg.Export.Table)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/biome
resolve:
  batch_size: 250
  max_search_radius: 2.5
  index: rtree
input:
  entity_column: species
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 250, cfg.Resolve.BatchSize)
	assert.InDelta(t, 2.5, cfg.Resolve.MaxSearchRadius, 1e-12)
	assert.Equal(t, "rtree", cfg.Resolve.Index)
	assert.Equal(t, "species", cfg.Input.EntityColumn)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.Equal(t, 5000, cfg.Resolve.CheckpointThreshold)
	assert.InDelta(t, 0.01, cfg.Resolve.MinSearchRadius, 1e-12)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
resolve:
  batch_size: 250
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("BIOME_RESOLVE_BATCH_SIZE", "1000")
	t.Setenv("BIOME_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, 1000, cfg.Resolve.BatchSize)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("BIOME_RESOLVE_MIN_SEARCH_RADIUS", "0.05")
	t.Setenv("BIOME_RASTER_PATH", "/data/HLZ_Level3.tif")

	cfg, err := Load()
	require.NoError(t, err)
	assert.InDelta(t, 0.05, cfg.Resolve.MinSearchRadius, 1e-12)
	assert.Equal(t, "/data/HLZ_Level3.tif", cfg.Raster.Path)
}

func TestLoadBadYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("resolve: [\n"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Resolve.BatchSize = 500
	cfg.Resolve.CheckpointThreshold = 5000
	cfg.Resolve.MinSearchRadius = 0.01
	cfg.Resolve.MaxSearchRadius = 1
	cfg.Resolve.ProgressIntervalSeconds = 5
	cfg.Input.Delimiter = ","
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"batch size", func(c *Config) { c.Resolve.BatchSize = 0 }, "batch_size"},
		{"threshold", func(c *Config) { c.Resolve.CheckpointThreshold = -1 }, "checkpoint_threshold"},
		{"min radius", func(c *Config) { c.Resolve.MinSearchRadius = 0 }, "min_search_radius"},
		{"inverted radii", func(c *Config) { c.Resolve.MaxSearchRadius = 0.001 }, "below min_search_radius"},
		{"workers", func(c *Config) { c.Resolve.WorkerCount = -2 }, "worker_count"},
		{"interval", func(c *Config) { c.Resolve.ProgressIntervalSeconds = -1 }, "progress_interval_seconds"},
		{"delimiter", func(c *Config) { c.Input.Delimiter = ";;" }, "delimiter"},
		{"driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrConfiguration))
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	cfg := validDefaults()
	cfg.Resolve.MaxSearchRadius = cfg.Resolve.MinSearchRadius
	assert.NoError(t, cfg.Validate(), "equal radii run a single tier")

	cfg.Input.Delimiter = `\t`
	assert.NoError(t, cfg.Validate())
}

func TestDelimiterRune(t *testing.T) {
	assert.Equal(t, ',', InputConfig{}.DelimiterRune())
	assert.Equal(t, ';', InputConfig{Delimiter: ";"}.DelimiterRune())
	assert.Equal(t, '\t', InputConfig{Delimiter: `\t`}.DelimiterRune())
}
