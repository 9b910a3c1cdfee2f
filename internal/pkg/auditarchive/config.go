package auditarchive

import (
	"errors"
	"fmt"
	"time"

	"github.com/reelhouse/reelhouse/internal/pkg/env"
)

// Config holds the audit archive bucket settings
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Prefix          string
	BatchSize       int
	Enabled         bool
}

// LoadConfig loads archive configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Prefix:          env.GetEnv("AUDIT_ARCHIVE_PREFIX", "audit"),
		BatchSize:       env.GetEnvInt("AUDIT_ARCHIVE_BATCH_SIZE", 500),
		Enabled:         env.GetEnvBool("AUDIT_ARCHIVE_ENABLED", false),
	}

	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when the audit archive is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when the audit archive is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when the audit archive is enabled")
		}
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}

	return config, nil
}

// IsEnabled returns true if archiving is enabled
func (c *Config) IsEnabled() bool {
	return c.Enabled
}

// ObjectKey names the object holding one batch of audit rows.
// Format: <prefix>/YYYY/MM/DD/<firstID>-<lastID>.jsonl
func (c *Config) ObjectKey(day time.Time, firstID, lastID uint) string {
	day = day.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%d-%d.jsonl", c.Prefix, day.Year(), int(day.Month()), day.Day(), firstID, lastID)
}
