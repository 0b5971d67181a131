package ingest_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"curator/internal/catalog"
	"curator/internal/ingest"
	"curator/internal/queue"
	"curator/internal/services"
)

func writeSourceFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}
	return path
}

func ingestJob(t *testing.T, jobType queue.Type, payload string) *queue.Job {
	t.Helper()
	return &queue.Job{ID: 1, Type: jobType, Payload: payload, MaxAttempts: 3, Attempts: 1}
}

func confirmedVersions(t *testing.T, store *catalog.Store, status catalog.ProcessingStatus) int {
	t.Helper()
	docs, err := store.ListDocuments(context.Background())
	if err != nil {
		t.Fatalf("list documents: %v", err)
	}
	count := 0
	for _, doc := range docs {
		versions, err := store.ListVersions(context.Background(), doc.ID)
		if err != nil {
			t.Fatalf("list versions: %v", err)
		}
		for _, v := range versions {
			if v.ProcessingStatus == status {
				count++
			}
		}
	}
	return count
}

func TestFileIngestHandlerRegistersDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	path := writeSourceFile(t, t.TempDir(), "notes.md", "# heading\n\nbody")

	payload, err := ingest.FileIngestPayload(path)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	handler := ingest.NewFileIngestHandler(h.controller)
	job := ingestJob(t, queue.TypeIngest, payload)
	if err := handler.Prepare(ctx, job); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := handler.Execute(ctx, job); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if got := confirmedVersions(t, h.catalog, catalog.ProcessingUploaded); got != 1 {
		t.Fatalf("expected 1 confirmed version, got %d", got)
	}
	extract, err := h.jobs.List(ctx, queue.Filter{Type: queue.TypeExtract})
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(extract) != 1 {
		t.Fatalf("expected 1 extract job, got %d", len(extract))
	}
}

func TestFileIngestHandlerRejectsUnsupportedFile(t *testing.T) {
	h := newHarness(t)
	path := writeSourceFile(t, t.TempDir(), "movie.mkv", "not a document")

	payload, err := ingest.FileIngestPayload(path)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	handler := ingest.NewFileIngestHandler(h.controller)
	err = handler.Prepare(context.Background(), ingestJob(t, queue.TypeIngest, payload))
	if err == nil || !services.Permanent(err) {
		t.Fatalf("unsupported file should fail permanently, got %v", err)
	}
}

func TestBulkIngestHandlerWalksDirectory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	dir := t.TempDir()
	writeSourceFile(t, dir, "a.md", "alpha")
	writeSourceFile(t, dir, "b.txt", "bravo")
	writeSourceFile(t, dir, "skip.bin", "binary noise")

	payload, err := ingest.BulkIngestPayload(dir)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	handler := ingest.NewBulkIngestHandler(h.controller, nil)
	job := ingestJob(t, queue.TypeBulkIngest, payload)
	if err := handler.Prepare(ctx, job); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := handler.Execute(ctx, job); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if got := confirmedVersions(t, h.catalog, catalog.ProcessingUploaded); got != 2 {
		t.Fatalf("expected 2 confirmed versions, got %d", got)
	}
}

func TestURLIngestHandlerFetchesAndConfirms(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("remote document body"))
	}))
	defer server.Close()

	payload, err := ingest.URLIngestPayload(server.URL+"/doc.txt", "", "")
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	handler := ingest.NewURLIngestHandler(h.controller, ingest.WithAllowLoopback())
	job := ingestJob(t, queue.TypeURLIngest, payload)
	if err := handler.Execute(ctx, job); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if got := confirmedVersions(t, h.catalog, catalog.ProcessingUploaded); got != 1 {
		t.Fatalf("expected 1 confirmed version, got %d", got)
	}
}

func TestURLIngestHandlerBlocksLoopbackTargets(t *testing.T) {
	h := newHarness(t)
	payload, err := ingest.URLIngestPayload("http://127.0.0.1:9/doc.txt", "", "")
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	handler := ingest.NewURLIngestHandler(h.controller)
	err = handler.Prepare(context.Background(), ingestJob(t, queue.TypeURLIngest, payload))
	if err == nil || !services.Permanent(err) {
		t.Fatalf("loopback fetch should be rejected permanently, got %v", err)
	}
}

func TestURLIngestHandlerRejectsOversizedBody(t *testing.T) {
	h := newHarness(t)
	h.cfg.Upload.MaxURLFetchMB = 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("more than zero megabytes"))
	}))
	defer server.Close()

	payload, err := ingest.URLIngestPayload(server.URL+"/doc.txt", "", "")
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	handler := ingest.NewURLIngestHandler(h.controller, ingest.WithAllowLoopback())
	err = handler.Execute(context.Background(), ingestJob(t, queue.TypeURLIngest, payload))
	if err == nil || !services.Permanent(err) {
		t.Fatalf("oversized body should be rejected permanently, got %v", err)
	}
}
