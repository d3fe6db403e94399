package config

import "time"

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Data       DataConfig       `yaml:"data"`
	Structured StructuredConfig `yaml:"structured"`
	Vector     VectorConfig     `yaml:"vector"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Cache      CacheConfig      `yaml:"cache"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Backup     BackupConfig     `yaml:"backup"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DataConfig locates local state: fallback stores, cache, backups, logs.
type DataConfig struct {
	Dir string `yaml:"dir"`
}

// StructuredConfig holds the structured data service credentials.
type StructuredConfig struct {
	PrimaryDSN   string `yaml:"primary_dsn"`
	SecondaryDSN string `yaml:"secondary_dsn"` // optional
}

// VectorConfig holds the vector index credentials and index shape.
type VectorConfig struct {
	PrimaryURL      string `yaml:"primary_url"`
	PrimaryAPIKey   string `yaml:"primary_api_key"`
	SecondaryURL    string `yaml:"secondary_url"` // optional
	SecondaryAPIKey string `yaml:"secondary_api_key"`
	Dimension       int    `yaml:"dimension"`
}

// BreakerConfig tunes the dependency circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// CacheConfig tunes the tiered cache.
type CacheConfig struct {
	MaxFastEntries int `yaml:"max_fast_entries"`
}

// SchedulerConfig sets the maintenance task schedules
// (six-field cron expressions, seconds first).
type SchedulerConfig struct {
	CacheClean      string `yaml:"cache_clean"`
	ConnectionCheck string `yaml:"connection_check"`
	Backup          string `yaml:"backup"`
}

// BackupConfig bounds backup retention.
type BackupConfig struct {
	MaxBackups int           `yaml:"max_backups"`
	MaxAge     time.Duration `yaml:"max_age"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}
