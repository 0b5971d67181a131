// Package storage abstracts the object store that holds raw document bytes.
// Uploads never pass through the daemon: clients receive a signed grant URL
// and transfer bytes directly, then confirm. The daemon only stats, fetches,
// and deletes objects.
package storage

import (
	"context"
	"io"
	"path"
	"time"
)

// ObjectMeta describes a stored object as reported by the backend.
type ObjectMeta struct {
	Size int64
	Hash string
}

// ArtifactStore is the object-store surface the ingest and deletion flows
// need. DeleteObject is idempotent; deleting an absent key succeeds.
type ArtifactStore interface {
	IssueUploadGrant(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	StatObject(ctx context.Context, key string) (*ObjectMeta, error)
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	DeleteObject(ctx context.Context, key string) error
}

// ObjectKey builds the canonical storage key for a document version.
func ObjectKey(prefix, documentID, versionID, filename string) string {
	name := path.Base(filename)
	if name == "" || name == "." || name == "/" {
		name = "upload"
	}
	key := path.Join("documents", documentID, versionID, name)
	if prefix != "" {
		key = path.Join(prefix, key)
	}
	return key
}
