package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Environment string
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	// logging
	LogLevel    string `toml:"log_level"`
	LogsPath    string `toml:"logs_path"`
	LogToStdout bool   `toml:"log_to_stdout"`
	// sentry
	SentryEnabled bool `toml:"sentry_enabled"`
	// prometheus metrics server
	PrometheusMetricsHost string `toml:"prometheus_metrics_host"`
	PrometheusMetricsPort string `toml:"prometheus_metrics_port"`
	// garmin api
	GarminApiUrl         string `toml:"garmin_api_url"`
	GarminTokenStorePath string `toml:"garmin_token_store_path"`
	// exports / store
	ExportsRootPath string `toml:"exports_root_path"`
	SyncFolderPath  string `toml:"sync_folder_path"`
	// daily sync scheduler
	SyncHour           int    `toml:"sync_hour"`
	ActivityFileFormat string `toml:"activity_file_format"`
}

type Toml struct {
	Development *Config
	Production  *Config
}

func (t *Toml) Get(env string) (*Config, error) {
	switch strings.ToLower(env) {
	case "dev", "development":
		return t.Development, nil
	case "prod", "production":
		return t.Production, nil
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
}

func Load(env, path string) (*Config, error) {
	var tomlFile Toml
	if _, err := toml.DecodeFile(path, &tomlFile); err != nil {
		return nil, fmt.Errorf("decode toml config file: %w", err)
	}

	cfg, err := tomlFile.Get(env)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("config section for env [%s] missing", env)
	}

	switch strings.ToLower(env) {
	case "prod", "production":
		cfg.Environment = "production"
	default:
		cfg.Environment = "development"
	}

	if cfg.ActivityFileFormat == "" {
		cfg.ActivityFileFormat = "tcx"
	}

	return cfg, nil
}
