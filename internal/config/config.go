package config

import (
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

var ErrMissingDBSource = errors.New("DB_SOURCE is required")

type Config struct {
	DBSource        string `yaml:"db_source" env:"DB_SOURCE"`
	Port            string `yaml:"port" env:"SERVER_PORT"`
	Env             string `yaml:"environment" env:"ENVIRONMENT"`
	StreamPath      string `yaml:"stream_path" env:"STREAM_PATH"`
	SS58Prefix      uint16 `yaml:"ss58_prefix" env:"SS58_PREFIX"`
	StakedPayeeMode string `yaml:"staked_payee_mode" env:"STAKED_PAYEE_MODE"`
	StateCacheSize  int    `yaml:"state_cache_size" env:"STATE_CACHE_SIZE"`
	LogLevel        string `yaml:"log_level" env:"LOG_LEVEL"`
}

// Load reads the optional YAML file at path, then applies environment
// overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "parse config")
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parse env")
	}

	if cfg.DBSource == "" {
		return nil, ErrMissingDBSource
	}

	// Set defaults
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if cfg.SS58Prefix == 0 {
		cfg.SS58Prefix = 42
	}
	if cfg.StakedPayeeMode == "" {
		cfg.StakedPayeeMode = "stash"
	}
	if cfg.StateCacheSize == 0 {
		cfg.StateCacheSize = 4096
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// NewLogger builds the process logger for the configured environment.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}
	zc := zap.NewDevelopmentConfig()
	if c.Env == "production" {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
