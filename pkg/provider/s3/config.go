// Package s3 stores map objects in an AWS S3 or S3-compatible bucket.
package s3

import "time"

// Config configures the S3 map bucket.
//
// Explicit AccessKeyID/SecretAccessKey win over the SDK default chain
// (environment, shared profile, instance or task role). With an Endpoint set
// the bucket may live on any S3-compatible store, which usually also needs
// ForcePathStyle.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	// Region defaults to us-east-1 for AWS. No default is applied when
	// Endpoint is set.
	Region string

	// Endpoint is the base URL of an S3-compatible store, e.g.
	// http://localhost:9000 for MinIO. Empty means AWS.
	Endpoint string

	// Profile selects a shared config profile.
	Profile string

	// AccessKeyID and SecretAccessKey are set together or not at all.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	ForcePathStyle bool

	// MaxKeys is the listing page size, clamped to MaxAllowedKeys. Zero means
	// DefaultMaxKeys.
	MaxKeys int
}

const (
	DefaultMaxKeys   = 1000
	MaxAllowedKeys   = 1000
	DefaultAWSRegion = "us-east-1"

	// DefaultPresignExpiry applies when PresignGet gets no expiry.
	DefaultPresignExpiry = 15 * time.Minute
)

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}

	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}

	if c.SessionToken != "" && c.AccessKeyID == "" {
		return &ConfigError{
			Field:   "SessionToken",
			Message: "session token requires explicit access key credentials",
		}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
