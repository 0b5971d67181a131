// Package testsupport provides shared fixtures for package tests.
package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"curator/internal/catalog"
	"curator/internal/config"
	"curator/internal/queue"
	"curator/internal/storage"
)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Storage.LocalDir = filepath.Join(base, "objects")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("prepare test directories: %v", err)
	}
	return cfg
}

// MustOpenQueue opens a queue store for tests and registers cleanup.
func MustOpenQueue(t testing.TB) *queue.Store {
	t.Helper()

	store, err := queue.OpenPath(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("queue.OpenPath: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// MustOpenCatalog opens a catalog store for tests and registers cleanup.
func MustOpenCatalog(t testing.TB) *catalog.Store {
	t.Helper()

	store, err := catalog.OpenPath(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("catalog.OpenPath: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// MustLocalStore builds a filesystem artifact store rooted at the config's
// local directory.
func MustLocalStore(t testing.TB, cfg *config.Config) *storage.LocalStore {
	t.Helper()

	store, err := storage.NewLocalStore(cfg.Storage.LocalDir)
	if err != nil {
		t.Fatalf("storage.NewLocalStore: %v", err)
	}
	return store
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
