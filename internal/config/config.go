// Package config loads procctl settings from defaults, an optional YAML
// file, PROCCTL_* environment variables and runtime overrides, in that
// order of increasing precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/3leaps/procctl/pkg/provider/s3"
)

// Config is the complete procctl configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Providers ProvidersConfig `mapstructure:"providers"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig selects the log level, encoding and optional rotated file.
type LoggingConfig struct {
	Level string `mapstructure:"level"`

	// Profile is "structured" (JSON) or "console".
	Profile string `mapstructure:"profile"`

	// File enables a rotated log file in addition to stderr.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// JobsConfig configures the job registry and its storage.
type JobsConfig struct {
	// StorageRoot holds one working directory per job.
	StorageRoot string `mapstructure:"storage_root"`

	// JournalRoot holds job.json records; empty disables the journal.
	JournalRoot string `mapstructure:"journal_root"`

	// OutputRoot is where archive jobs publish by default.
	OutputRoot string `mapstructure:"output_root"`

	// EvictionCheckInterval is in seconds.
	EvictionCheckInterval int `mapstructure:"eviction_check_interval"`

	// EvictionGracePeriod is in minutes.
	EvictionGracePeriod int `mapstructure:"eviction_grace_period"`

	// MaxConcurrent bounds running jobs; 0 is unbounded.
	MaxConcurrent int `mapstructure:"max_concurrent"`

	KillWait        time.Duration `mapstructure:"kill_wait"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// CheckInterval returns EvictionCheckInterval as a duration.
func (c JobsConfig) CheckInterval() time.Duration {
	return time.Duration(c.EvictionCheckInterval) * time.Second
}

// GracePeriod returns EvictionGracePeriod as a duration.
func (c JobsConfig) GracePeriod() time.Duration {
	return time.Duration(c.EvictionGracePeriod) * time.Minute
}

// ProvidersConfig holds shared provider settings. The S3 bucket always
// comes from the job's URI.
type ProvidersConfig struct {
	S3 s3.Config `mapstructure:"s3"`
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch strings.ToLower(c.Logging.Profile) {
	case ProfileStructured, ProfileConsole:
	default:
		return fmt.Errorf("logging.profile %q must be %q or %q", c.Logging.Profile, ProfileStructured, ProfileConsole)
	}
	if strings.TrimSpace(c.Jobs.StorageRoot) == "" {
		return fmt.Errorf("jobs.storage_root is required")
	}
	if c.Jobs.EvictionCheckInterval <= 0 {
		return fmt.Errorf("jobs.eviction_check_interval must be a positive number of seconds, got %d", c.Jobs.EvictionCheckInterval)
	}
	if c.Jobs.EvictionGracePeriod <= 0 {
		return fmt.Errorf("jobs.eviction_grace_period must be a positive number of minutes, got %d", c.Jobs.EvictionGracePeriod)
	}
	if c.Jobs.MaxConcurrent < 0 {
		return fmt.Errorf("jobs.max_concurrent must not be negative")
	}
	return nil
}

// Logging profiles.
const (
	ProfileStructured = "structured"
	ProfileConsole    = "console"
)
