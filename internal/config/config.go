package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Decay    DecayConfig    `yaml:"decay" mapstructure:"decay"`
	Coverage CoverageConfig `yaml:"coverage" mapstructure:"coverage"`
	Graph    GraphConfig    `yaml:"graph" mapstructure:"graph"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the artifact cache backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// DecayConfig holds the distance-decay model parameters. Distances are in
// meters.
type DecayConfig struct {
	Elasticity        float64 `yaml:"elasticity" mapstructure:"elasticity"`
	ReferenceDistance float64 `yaml:"reference_distance" mapstructure:"reference_distance"`
	MaxDistance       float64 `yaml:"max_distance" mapstructure:"max_distance"`
}

// CoverageConfig configures band discretization and hex aggregation.
type CoverageConfig struct {
	Grades       int     `yaml:"grades" mapstructure:"grades"`
	GridDelta    float64 `yaml:"grid_delta" mapstructure:"grid_delta"`
	H3Resolution int     `yaml:"h3_resolution" mapstructure:"h3_resolution"`
	Quadsegs     int     `yaml:"quadsegs" mapstructure:"quadsegs"`
}

// GraphConfig configures street network construction.
type GraphConfig struct {
	MinEdgeLength float64 `yaml:"min_edge_length" mapstructure:"min_edge_length"`
	Procs         int     `yaml:"procs" mapstructure:"procs"`
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
	v.SetEnvPrefix("COVERAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "coverage.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("decay.elasticity", 0.5)
	v.SetDefault("decay.reference_distance", 1000.0)
	v.SetDefault("decay.max_distance", 50000.0)
	v.SetDefault("coverage.grades", 10)
	v.SetDefault("coverage.grid_delta", 0.1)
	v.SetDefault("coverage.h3_resolution", 7)
	v.SetDefault("graph.min_edge_length", 10.0)

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

// Validate checks that the store configuration is usable before anything
// tries to open it.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return eris.New("config: store.path required for sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return eris.New("config: store.database_url required for postgres driver")
		}
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	return nil
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
