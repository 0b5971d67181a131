package storage_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"curator/internal/services"
	"curator/internal/storage"
)

func newLocal(t *testing.T) *storage.LocalStore {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("new local store: %v", err)
	}
	return store
}

func TestLocalPutStatDelete(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()
	key := "documents/doc-1/v-1/report.pdf"

	if err := store.Put(ctx, key, strings.NewReader("hello world"), "text/plain"); err != nil {
		t.Fatalf("put: %v", err)
	}
	meta, err := store.StatObject(ctx, key)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if meta.Size != int64(len("hello world")) {
		t.Fatalf("unexpected size %d", meta.Size)
	}
	if meta.Hash == "" {
		t.Fatal("expected content hash")
	}

	if err := store.DeleteObject(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.StatObject(ctx, key); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	// Second delete is a no-op.
	if err := store.DeleteObject(ctx, key); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
}

func TestLocalStatMissing(t *testing.T) {
	store := newLocal(t)
	if _, err := store.StatObject(context.Background(), "documents/none"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLocalRejectsTraversalKeys(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()
	for _, key := range []string{"../outside", "/etc/passwd", "."} {
		if _, err := store.StatObject(ctx, key); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("key %q: expected validation error, got %v", key, err)
		}
	}
}

func TestLocalUploadGrantTargetsStoreRoot(t *testing.T) {
	store := newLocal(t)
	url, err := store.IssueUploadGrant(context.Background(), "documents/doc-1/v-1/a.txt", "text/plain", time.Minute)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !strings.HasPrefix(url, "file://") || !strings.HasSuffix(url, "documents/doc-1/v-1/a.txt") {
		t.Fatalf("unexpected grant url %q", url)
	}
}

func TestObjectKey(t *testing.T) {
	key := storage.ObjectKey("tenant-a", "doc-1", "v-1", "/tmp/report.pdf")
	if key != "tenant-a/documents/doc-1/v-1/report.pdf" {
		t.Fatalf("unexpected key %q", key)
	}
	key = storage.ObjectKey("", "doc-1", "v-1", "")
	if key != "documents/doc-1/v-1/upload" {
		t.Fatalf("unexpected fallback key %q", key)
	}
}
