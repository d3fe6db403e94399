package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Data.Dir == "" {
		cfg.Data.Dir = "data"
	}
	if cfg.Vector.Dimension == 0 {
		cfg.Vector.Dimension = 1536
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.RecoveryTimeout == 0 {
		cfg.Breaker.RecoveryTimeout = 60 * time.Second
	}
	if cfg.Breaker.ResetTimeout == 0 {
		cfg.Breaker.ResetTimeout = 5 * time.Minute
	}
	if cfg.Cache.MaxFastEntries == 0 {
		cfg.Cache.MaxFastEntries = 1000
	}
	if cfg.Scheduler.CacheClean == "" {
		cfg.Scheduler.CacheClean = "0 0 * * * *" // hourly
	}
	if cfg.Scheduler.ConnectionCheck == "" {
		cfg.Scheduler.ConnectionCheck = "0 * * * * *" // every minute
	}
	if cfg.Scheduler.Backup == "" {
		cfg.Scheduler.Backup = "0 0 3 * * *" // daily at 03:00
	}
	if cfg.Backup.MaxBackups == 0 {
		cfg.Backup.MaxBackups = 10
	}
	if cfg.Backup.MaxAge == 0 {
		cfg.Backup.MaxAge = 30 * 24 * time.Hour
	}

	return &cfg, nil
}
