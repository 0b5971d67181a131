package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Storage contains artifact store configuration. Backend selects between the
// S3 client and a local filesystem store used for development and tests.
type Storage struct {
	Backend         string `toml:"backend"`
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	ForcePathStyle  bool   `toml:"force_path_style"`
	LocalDir        string `toml:"local_dir"`
	KeyPrefix       string `toml:"key_prefix"`
}

// Upload contains upload handshake limits and grant lifetime.
type Upload struct {
	MaxFileSizeMB   int `toml:"max_file_size_mb"`
	GrantTTL        int `toml:"grant_ttl"`
	MaxURLFetchMB   int `toml:"max_url_fetch_mb"`
	URLFetchTimeout int `toml:"url_fetch_timeout"`
}

// Extraction contains the text extraction service connection settings.
type Extraction struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Embedding contains the embedding provider connection settings.
type Embedding struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	BatchSize      int    `toml:"batch_size"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Jobs contains retry policy defaults. Backoff is exponential from
// BackoffBase doubling per attempt up to BackoffCap, both in seconds.
type Jobs struct {
	DefaultMaxAttempts int `toml:"default_max_attempts"`
	BackoffBase        int `toml:"backoff_base"`
	BackoffCap         int `toml:"backoff_cap"`
	LeaseDuration      int `toml:"lease_duration"`
	StaleAfter         int `toml:"stale_after"`
}

// Workers contains worker pool sizing and daemon timing intervals.
type Workers struct {
	High              int `toml:"high"`
	Normal            int `toml:"normal"`
	Low               int `toml:"low"`
	QueuePollInterval int `toml:"queue_poll_interval"`
	HeartbeatInterval int `toml:"heartbeat_interval"`
	SweepInterval     int `toml:"sweep_interval"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for curator.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Storage: artifact store (S3 or local filesystem)
//   - Upload: handshake limits and grant lifetime
//   - Extraction: text extraction service connection
//   - Embedding: embedding provider connection
//   - Jobs: retry policy and lease durations
//   - Workers: pool sizing and polling intervals
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	Storage    Storage    `toml:"storage"`
	Upload     Upload     `toml:"upload"`
	Extraction Extraction `toml:"extraction"`
	Embedding  Embedding  `toml:"embedding"`
	Jobs       Jobs       `toml:"jobs"`
	Workers    Workers    `toml:"workers"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/curator/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/curator/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("curator.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Storage.Backend == "local" && strings.TrimSpace(c.Storage.LocalDir) != "" {
		if err := os.MkdirAll(c.Storage.LocalDir, 0o755); err != nil {
			return fmt.Errorf("create local storage directory %q: %w", c.Storage.LocalDir, err)
		}
	}
	return nil
}

// MaxFileSizeBytes returns the upload size ceiling in bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	return int64(c.Upload.MaxFileSizeMB) * 1024 * 1024
}

// GrantTTL returns the presigned upload grant lifetime.
func (c *Config) GrantTTL() time.Duration {
	return time.Duration(c.Upload.GrantTTL) * time.Second
}

// MaxURLFetchBytes returns the URL ingestion body size ceiling in bytes.
func (c *Config) MaxURLFetchBytes() int64 {
	return int64(c.Upload.MaxURLFetchMB) * 1024 * 1024
}

// URLFetchTimeout returns the per-request timeout for URL ingestion.
func (c *Config) URLFetchTimeout() time.Duration {
	return time.Duration(c.Upload.URLFetchTimeout) * time.Second
}

// LeaseDuration returns the job lease duration.
func (c *Config) LeaseDuration() time.Duration {
	return time.Duration(c.Jobs.LeaseDuration) * time.Second
}

// StaleAfter returns the hard staleness cutoff for running jobs.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Jobs.StaleAfter) * time.Second
}

// BackoffBase returns the first retry delay of the exponential backoff curve.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Jobs.BackoffBase) * time.Second
}

// BackoffCap returns the ceiling of the exponential backoff curve.
func (c *Config) BackoffCap() time.Duration {
	return time.Duration(c.Jobs.BackoffCap) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
