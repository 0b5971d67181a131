package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir is required")
	}
	if strings.TrimSpace(c.Paths.APIBind) == "" {
		problems = append(problems, "paths.api_bind is required")
	}

	switch c.Storage.Backend {
	case "local":
		if strings.TrimSpace(c.Storage.LocalDir) == "" {
			problems = append(problems, "storage.local_dir is required for the local backend")
		}
	case "s3":
		if strings.TrimSpace(c.Storage.Bucket) == "" {
			problems = append(problems, "storage.bucket is required for the s3 backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("storage.backend must be local or s3, got %q", c.Storage.Backend))
	}

	if c.Upload.MaxFileSizeMB <= 0 {
		problems = append(problems, "upload.max_file_size_mb must be positive")
	}
	if c.Upload.GrantTTL <= 0 {
		problems = append(problems, "upload.grant_ttl must be positive")
	}
	if c.Jobs.DefaultMaxAttempts <= 0 {
		problems = append(problems, "jobs.default_max_attempts must be positive")
	}
	if c.Jobs.BackoffBase <= 0 {
		problems = append(problems, "jobs.backoff_base must be positive")
	}
	if c.Jobs.BackoffCap < c.Jobs.BackoffBase {
		problems = append(problems, "jobs.backoff_cap must be >= jobs.backoff_base")
	}
	if c.Jobs.LeaseDuration <= 0 {
		problems = append(problems, "jobs.lease_duration must be positive")
	}
	if c.Workers.High < 0 || c.Workers.Normal < 0 || c.Workers.Low < 0 {
		problems = append(problems, "worker counts must not be negative")
	}
	if c.Workers.High+c.Workers.Normal+c.Workers.Low == 0 {
		problems = append(problems, "at least one worker must be configured")
	}
	if c.Workers.QueuePollInterval <= 0 {
		problems = append(problems, "workers.queue_poll_interval must be positive")
	}
	if c.Workers.HeartbeatInterval <= 0 {
		problems = append(problems, "workers.heartbeat_interval must be positive")
	}

	switch c.Logging.Format {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format must be console or json, got %q", c.Logging.Format))
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
