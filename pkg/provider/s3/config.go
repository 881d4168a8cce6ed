// Package s3 reads archive sources from and publishes deliverables to S3
// or an S3-compatible store.
package s3

const (
	// DefaultMaxKeys is the listing page size when none is configured.
	DefaultMaxKeys = 1000
	// MaxAllowedKeys is the largest page ListObjectsV2 returns.
	MaxAllowedKeys = 1000
	// DefaultAWSRegion applies to AWS endpoints the SDK found no region for.
	DefaultAWSRegion = "us-east-1"
)

// Config locates a bucket. Static keys are used only when both halves are
// set; otherwise the SDK default credential chain applies. Endpoint plus
// ForcePathStyle targets MinIO and similar stores.
type Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	// MaxKeys is clamped to MaxAllowedKeys.
	MaxKeys int `mapstructure:"max_keys"`
}

func (c *Config) Validate() error {
	switch {
	case c.Bucket == "":
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	case (c.AccessKeyID == "") != (c.SecretAccessKey == ""):
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

// ConfigError names the offending field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
