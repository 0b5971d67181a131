package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"curator/internal/config"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	cfg, _, exists, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatal("expected missing config to report exists=false")
	}
	if cfg.Upload.MaxFileSizeMB != 100 {
		t.Fatalf("unexpected default max_file_size_mb: %d", cfg.Upload.MaxFileSizeMB)
	}
	if cfg.Storage.Backend != "local" {
		t.Fatalf("unexpected default storage backend: %q", cfg.Storage.Backend)
	}
}

func TestLoadOverridesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[paths]
data_dir = "` + dir + `/data"
log_dir = "` + dir + `/logs"
api_bind = " 0.0.0.0:9000 "

[storage]
backend = "S3"
bucket = "curator-test"
key_prefix = "/docs/"

[upload]
max_file_size_mb = 25
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected resolved existing path %q, got %q exists=%v", path, resolved, exists)
	}
	if cfg.Upload.MaxFileSizeMB != 25 {
		t.Fatalf("override not applied: %d", cfg.Upload.MaxFileSizeMB)
	}
	if cfg.Storage.Backend != "s3" {
		t.Fatalf("backend not normalized: %q", cfg.Storage.Backend)
	}
	if cfg.Storage.KeyPrefix != "docs" {
		t.Fatalf("key prefix not trimmed: %q", cfg.Storage.KeyPrefix)
	}
	if cfg.Paths.APIBind != "0.0.0.0:9000" {
		t.Fatalf("api bind not trimmed: %q", cfg.Paths.APIBind)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"missing bucket", func(c *config.Config) { c.Storage.Backend = "s3"; c.Storage.Bucket = "" }, "storage.bucket"},
		{"unknown backend", func(c *config.Config) { c.Storage.Backend = "gcs" }, "storage.backend"},
		{"zero size limit", func(c *config.Config) { c.Upload.MaxFileSizeMB = 0 }, "max_file_size_mb"},
		{"cap below base", func(c *config.Config) { c.Jobs.BackoffCap = 1 }, "backoff_cap"},
		{"no workers", func(c *config.Config) { c.Workers.High = 0; c.Workers.Normal = 0; c.Workers.Low = 0 }, "worker"},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[upload]") {
		t.Fatal("sample config missing upload section")
	}
}
