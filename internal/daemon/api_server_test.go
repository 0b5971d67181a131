package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"curator/internal/api"
	"curator/internal/deletion"
	"curator/internal/ingest"
	"curator/internal/queue"
	"curator/internal/testsupport"
	"curator/internal/workflow"
)

func newTestDaemon(t *testing.T, token string) (*Daemon, *httptest.Server) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIToken = token
	cfg.Upload.MaxFileSizeMB = 1

	catalogStore := testsupport.MustOpenCatalog(t)
	jobStore := testsupport.MustOpenQueue(t)
	artifacts := testsupport.MustLocalStore(t, cfg)

	manager := workflow.NewManager(cfg, jobStore, nil)
	uploads := ingest.NewController(cfg, catalogStore, jobStore, artifacts, nil)
	deletes := deletion.New(cfg, catalogStore, jobStore, artifacts, nil)

	d, err := New(cfg, jobStore, nil, manager, uploads, deletes)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	server := httptest.NewServer(d.api.mux)
	t.Cleanup(server.Close)
	return d, server
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestAPIUploadHandshake(t *testing.T) {
	_, server := newTestDaemon(t, "")

	resp := postJSON(t, server.URL+"/api/upload-intent", api.UploadIntentRequest{
		Filename:    "report.pdf",
		ContentType: "application/pdf",
		SizeBytes:   512,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload intent status %d", resp.StatusCode)
	}
	var intent api.UploadIntentResponse
	decodeBody(t, resp, &intent)
	if intent.DocumentID == "" || intent.VersionID == "" || intent.UploadURL == "" {
		t.Fatalf("incomplete intent response %+v", intent)
	}

	target := strings.TrimPrefix(intent.UploadURL, "file://")
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(target, []byte("pdf bytes"), 0o644); err != nil {
		t.Fatalf("write upload: %v", err)
	}

	resp = postJSON(t, server.URL+"/api/upload-confirm", api.UploadConfirmRequest{
		DocumentID: intent.DocumentID,
		VersionID:  intent.VersionID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload confirm status %d", resp.StatusCode)
	}
	var confirm api.UploadConfirmResponse
	decodeBody(t, resp, &confirm)
	if confirm.Job.Type != string(queue.TypeExtract) || confirm.Job.Status != string(queue.StatusQueued) {
		t.Fatalf("unexpected first job %+v", confirm.Job)
	}
}

func TestAPIUploadErrorMapping(t *testing.T) {
	_, server := newTestDaemon(t, "")

	resp := postJSON(t, server.URL+"/api/upload-intent", api.UploadIntentRequest{
		Filename:    "video.mkv",
		ContentType: "video/x-matroska",
		SizeBytes:   100,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("unsupported type should map to 415, got %d", resp.StatusCode)
	}

	resp = postJSON(t, server.URL+"/api/upload-intent", api.UploadIntentRequest{
		Filename:    "big.pdf",
		ContentType: "application/pdf",
		SizeBytes:   10 * 1024 * 1024,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversize should map to 413, got %d", resp.StatusCode)
	}

	resp = postJSON(t, server.URL+"/api/upload-confirm", api.UploadConfirmRequest{
		DocumentID: "missing",
		VersionID:  "missing",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown upload should map to 404, got %d", resp.StatusCode)
	}
}

func TestAPIJobLifecycle(t *testing.T) {
	d, server := newTestDaemon(t, "")

	job, err := d.store.Enqueue(context.Background(), queue.NewJob{
		Type:        queue.TypeExtract,
		EntityType:  "version",
		EntityID:    "v-1",
		Payload:     "{}",
		MaxAttempts: 3,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	resp, err := http.Get(server.URL + "/api/jobs?status=queued")
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	var list api.JobListResponse
	decodeBody(t, resp, &list)
	if len(list.Jobs) != 1 || list.Jobs[0].ID != job.ID {
		t.Fatalf("unexpected job list %+v", list.Jobs)
	}

	req, _ := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/jobs/%d", server.URL, job.ID), nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("cancel job: %v", err)
	}
	var canceled api.CancelResponse
	decodeBody(t, resp, &canceled)
	if canceled.Outcome != string(queue.CancelOutcomeCanceled) {
		t.Fatalf("queued job should cancel outright, got %q", canceled.Outcome)
	}
	if canceled.Job.Status != string(queue.StatusCanceled) {
		t.Fatalf("job status after cancel: %q", canceled.Job.Status)
	}

	// Canceling a terminal job is a conflict.
	req, _ = http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/jobs/%d", server.URL, job.ID), nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("cancel again: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second cancel should map to 409, got %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/api/jobs?status=bogus")
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid status filter should map to 400, got %d", resp.StatusCode)
	}
}

func TestAPIQueueHealth(t *testing.T) {
	d, server := newTestDaemon(t, "")

	if _, err := d.store.Enqueue(context.Background(), queue.NewJob{
		Type:        queue.TypeExtract,
		EntityType:  "version",
		EntityID:    "v-1",
		Payload:     "{}",
		MaxAttempts: 3,
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	resp, err := http.Get(server.URL + "/api/queue/health")
	if err != nil {
		t.Fatalf("queue health: %v", err)
	}
	var health api.QueueHealth
	decodeBody(t, resp, &health)
	if health.Total != 1 || health.ByStatus[string(queue.StatusQueued)] != 1 {
		t.Fatalf("unexpected health %+v", health)
	}
}

func TestAPIBearerAuth(t *testing.T) {
	_, server := newTestDaemon(t, "secret")

	resp, err := http.Get(server.URL + "/api/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token should map to 401, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var status api.StatusResponse
	decodeBody(t, resp, &status)
	if status.Running {
		t.Fatal("daemon not started, status should report stopped")
	}
}

func TestAPIClientRoundTrip(t *testing.T) {
	d, server := newTestDaemon(t, "secret")
	client := api.NewClient(server.URL, "secret")

	if _, err := d.store.Enqueue(context.Background(), queue.NewJob{
		Type:        queue.TypeExtract,
		EntityType:  "version",
		EntityID:    "v-1",
		Payload:     "{}",
		MaxAttempts: 3,
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	list, err := client.Jobs(context.Background(), queue.Filter{Status: queue.StatusQueued})
	if err != nil {
		t.Fatalf("client jobs: %v", err)
	}
	if len(list.Jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(list.Jobs))
	}
	job, err := client.Job(context.Background(), list.Jobs[0].ID)
	if err != nil {
		t.Fatalf("client job: %v", err)
	}
	if job.Type != string(queue.TypeExtract) {
		t.Fatalf("unexpected job %+v", job)
	}
}
