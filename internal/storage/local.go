package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"curator/internal/services"
)

// LocalStore keeps objects on the local filesystem. It backs development and
// tests; grant URLs are file paths the client writes to directly.
type LocalStore struct {
	root string
}

var _ ArtifactStore = (*LocalStore)(nil)

// NewLocalStore creates the root directory if needed.
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, services.Wrap(
			services.ErrConfiguration, "storage", "new local store",
			"storage.local_dir is required for the local backend", nil)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, services.Wrap(
			services.ErrConfiguration, "storage", "new local store",
			"unable to create storage directory", err)
	}
	return &LocalStore{root: root}, nil
}

func (l *LocalStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", services.Wrap(
			services.ErrValidation, "storage", "resolve key",
			fmt.Sprintf("invalid storage key %q", key), nil)
	}
	return filepath.Join(l.root, clean), nil
}

// IssueUploadGrant returns a file URL under the store root. The directory is
// created eagerly so the client can write without further coordination.
func (l *LocalStore) IssueUploadGrant(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	target, err := l.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", services.Wrap(
			services.ErrExternalService, "storage", "issue upload grant",
			"unable to prepare upload directory", err)
	}
	return "file://" + filepath.ToSlash(target), nil
}

// StatObject hashes the file with SHA-256.
func (l *LocalStore) StatObject(ctx context.Context, key string) (*ObjectMeta, error) {
	target, err := l.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, services.Wrap(services.ErrNotFound, "storage", "stat object", "object not found", err)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "storage", "stat object", "unable to open object", err)
	}
	defer f.Close()

	hasher := sha256.New()
	size, err := io.Copy(hasher, f)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "storage", "stat object", "unable to read object", err)
	}
	return &ObjectMeta{Size: size, Hash: hex.EncodeToString(hasher.Sum(nil))}, nil
}

// Put writes an object atomically via a temp file rename.
func (l *LocalStore) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	target, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return services.Wrap(services.ErrExternalService, "storage", "put object", "unable to prepare directory", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return services.Wrap(services.ErrExternalService, "storage", "put object", "unable to create temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return services.Wrap(services.ErrExternalService, "storage", "put object", "unable to write object", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return services.Wrap(services.ErrExternalService, "storage", "put object", "unable to finalize object", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return services.Wrap(services.ErrExternalService, "storage", "put object", "unable to move object into place", err)
	}
	return nil
}

// DeleteObject removes the file; a missing file is treated as deleted.
func (l *LocalStore) DeleteObject(ctx context.Context, key string) error {
	target, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return services.Wrap(services.ErrExternalService, "storage", "delete object", "unable to delete object", err)
	}
	return nil
}
