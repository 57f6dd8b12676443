package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/biome-cli/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Resolve ResolveConfig `yaml:"resolve" mapstructure:"resolve"`
	Raster  RasterConfig  `yaml:"raster" mapstructure:"raster"`
	Input   InputConfig   `yaml:"input" mapstructure:"input"`
	Output  OutputConfig  `yaml:"output" mapstructure:"output"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Export  ExportConfig  `yaml:"export" mapstructure:"export"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run ledger backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite, postgres, or none
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ResolveConfig configures the resolver and batch executor.
type ResolveConfig struct {
	BatchSize               int     `yaml:"batch_size" mapstructure:"batch_size"`
	CheckpointThreshold     int     `yaml:"checkpoint_threshold" mapstructure:"checkpoint_threshold"`
	MinSearchRadius         float64 `yaml:"min_search_radius" mapstructure:"min_search_radius"`
	MaxSearchRadius         float64 `yaml:"max_search_radius" mapstructure:"max_search_radius"`
	WorkerCount             int     `yaml:"worker_count" mapstructure:"worker_count"`
	ProgressIntervalSeconds int     `yaml:"progress_interval_seconds" mapstructure:"progress_interval_seconds"`
	Index                   string  `yaml:"index" mapstructure:"index"`
}

// RasterConfig configures raster access.
type RasterConfig struct {
	Path           string `yaml:"path" mapstructure:"path"`
	BlockCacheSize int64  `yaml:"block_cache_size" mapstructure:"block_cache_size"`
}

// InputConfig names the logical columns of the occurrence table.
type InputConfig struct {
	EntityColumn    string `yaml:"entity_column" mapstructure:"entity_column"`
	LongitudeColumn string `yaml:"longitude_column" mapstructure:"longitude_column"`
	LatitudeColumn  string `yaml:"latitude_column" mapstructure:"latitude_column"`
	Delimiter       string `yaml:"delimiter" mapstructure:"delimiter"`
	Sheet           string `yaml:"sheet" mapstructure:"sheet"`
}

// OutputConfig configures where results go.
type OutputConfig struct {
	Dir       string `yaml:"dir" mapstructure:"dir"`
	Merge     bool   `yaml:"merge" mapstructure:"merge"`
	MergeName string `yaml:"merge_name" mapstructure:"merge_name"`
}

// MetricsConfig configures the Prometheus textfile.
type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path" mapstructure:"textfile_path"`
}

// ExportConfig configures the PostGIS export.
type ExportConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Table       string `yaml:"table" mapstructure:"table"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BIOME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "biome.db")
	v.SetDefault("resolve.batch_size", 500)
	v.SetDefault("resolve.checkpoint_threshold", 5000)
	v.SetDefault("resolve.min_search_radius", 0.01)
	v.SetDefault("resolve.max_search_radius", 1.0)
	v.SetDefault("resolve.worker_count", 0)
	v.SetDefault("resolve.progress_interval_seconds", 5)
	v.SetDefault("resolve.index", "kdtree")
	v.SetDefault("raster.path", "")
	v.SetDefault("raster.block_cache_size", 256)
	v.SetDefault("input.entity_column", "entity_id")
	v.SetDefault("input.longitude_column", "longitude")
	v.SetDefault("input.latitude_column", "latitude")
	v.SetDefault("input.delimiter", ",")
	v.SetDefault("input.sheet", "")
	v.SetDefault("output.dir", "biomes")
	v.SetDefault("output.merge", true)
	v.SetDefault("output.merge_name", "biomes.csv")
	v.SetDefault("metrics.textfile_path", "")
	v.SetDefault("export.database_url", "")
	v.SetDefault("export.table", "biome_results")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate rejects values the resolver cannot run with.
func (c *Config) Validate() error {
	r := c.Resolve
	switch {
	case r.BatchSize <= 0:
		return eris.Wrapf(model.ErrConfiguration, "config: resolve.batch_size must be positive, got %d", r.BatchSize)
	case r.CheckpointThreshold <= 0:
		return eris.Wrapf(model.ErrConfiguration, "config: resolve.checkpoint_threshold must be positive, got %d", r.CheckpointThreshold)
	case r.MinSearchRadius <= 0:
		return eris.Wrapf(model.ErrConfiguration, "config: resolve.min_search_radius must be positive, got %g", r.MinSearchRadius)
	case r.MaxSearchRadius < r.MinSearchRadius:
		return eris.Wrapf(model.ErrConfiguration, "config: resolve.max_search_radius %g is below min_search_radius %g",
			r.MaxSearchRadius, r.MinSearchRadius)
	case r.WorkerCount < 0:
		return eris.Wrapf(model.ErrConfiguration, "config: resolve.worker_count must not be negative, got %d", r.WorkerCount)
	case r.ProgressIntervalSeconds < 0:
		return eris.Wrapf(model.ErrConfiguration, "config: resolve.progress_interval_seconds must not be negative, got %d",
			r.ProgressIntervalSeconds)
	}
	if d := c.Input.Delimiter; d != `\t` && len([]rune(d)) > 1 {
		return eris.Wrapf(model.ErrConfiguration, "config: input.delimiter must be a single character, got %q", c.Input.Delimiter)
	}
	switch c.Store.Driver {
	case "sqlite", "postgres", "none", "":
	default:
		return eris.Wrapf(model.ErrConfiguration, "config: unknown store.driver %q", c.Store.Driver)
	}
	return nil
}

// DelimiterRune returns the configured CSV delimiter, defaulting to a comma.
func (c InputConfig) DelimiterRune() rune {
	if c.Delimiter == "" {
		return ','
	}
	if c.Delimiter == `\t` {
		return '\t'
	}
	return []rune(c.Delimiter)[0]
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
