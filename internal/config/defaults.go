package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Default eviction settings.
const (
	DefaultEvictionCheckInterval = 60 // seconds
	DefaultEvictionGracePeriod   = 30 // minutes
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", ProfileStructured)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("health.enabled", true)

	data := dataDir()
	v.SetDefault("jobs.storage_root", filepath.Join(os.TempDir(), "procctl", "jobs"))
	v.SetDefault("jobs.journal_root", filepath.Join(data, "journal"))
	v.SetDefault("jobs.output_root", filepath.Join(data, "output"))
	v.SetDefault("jobs.eviction_check_interval", DefaultEvictionCheckInterval)
	v.SetDefault("jobs.eviction_grace_period", DefaultEvictionGracePeriod)
	v.SetDefault("jobs.max_concurrent", 0)
	v.SetDefault("jobs.kill_wait", "250ms")
	v.SetDefault("jobs.shutdown_timeout", "5s")

	v.SetDefault("providers.s3.region", "")
	v.SetDefault("providers.s3.endpoint", "")
	v.SetDefault("providers.s3.profile", "")
	v.SetDefault("providers.s3.access_key_id", "")
	v.SetDefault("providers.s3.secret_access_key", "")
	v.SetDefault("providers.s3.force_path_style", false)
	v.SetDefault("providers.s3.max_keys", 0)
}

// dataDir follows XDG_DATA_HOME, falling back to ~/.local/share/procctl.
func dataDir() string {
	if d := os.Getenv("XDG_DATA_HOME"); d != "" {
		return filepath.Join(d, "procctl")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "procctl")
	}
	return filepath.Join(os.TempDir(), "procctl")
}
