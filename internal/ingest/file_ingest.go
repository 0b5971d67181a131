package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"curator/internal/queue"
	"curator/internal/services"
	"curator/internal/stage"
)

// FileIngestHandler registers a single already-transferred local file as a
// document.
type FileIngestHandler struct {
	controller *Controller
}

// NewFileIngestHandler builds the ingest job handler.
func NewFileIngestHandler(controller *Controller) *FileIngestHandler {
	return &FileIngestHandler{controller: controller}
}

type fileIngestPayload struct {
	Path string `json:"path"`
}

// FileIngestPayload builds the payload for an ingest job.
func FileIngestPayload(path string) (string, error) {
	return stage.EncodePayload(fileIngestPayload{Path: path})
}

func (h *FileIngestHandler) Prepare(ctx context.Context, job *queue.Job) error {
	var payload fileIngestPayload
	if err := stage.DecodePayload(job, &payload); err != nil {
		return err
	}
	info, err := os.Stat(payload.Path)
	if err != nil || info.IsDir() {
		return services.Wrap(
			services.ErrValidation, "ingest", "prepare",
			fmt.Sprintf("source %q is not a readable file", payload.Path), err)
	}
	if resolveContentType("", payload.Path) == "" {
		return services.Wrap(
			services.ErrValidation, "ingest", "prepare",
			fmt.Sprintf("%s: %s", ErrUnsupportedType.Error(), filepath.Base(payload.Path)), ErrUnsupportedType)
	}
	return nil
}

func (h *FileIngestHandler) Execute(ctx context.Context, job *queue.Job) error {
	var payload fileIngestPayload
	if err := stage.DecodePayload(job, &payload); err != nil {
		return err
	}
	if err := ingestLocalFile(ctx, h.controller, payload.Path); err != nil {
		if services.Permanent(err) {
			return err
		}
		return services.Wrap(services.ErrTransient, "ingest", "ingest file", "file ingest failed", err)
	}
	return nil
}

func (h *FileIngestHandler) HealthCheck(ctx context.Context) stage.Health {
	return stage.Healthy("ingest")
}

// ingestLocalFile presigns, copies, and confirms one local file.
func ingestLocalFile(ctx context.Context, c *Controller, path string) error {
	contentType := resolveContentType("", path)
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	result, err := c.Presign(ctx, PresignRequest{
		Filename:    filepath.Base(path),
		ContentType: contentType,
		SizeBytes:   info.Size(),
	})
	if err != nil {
		return err
	}
	version, err := c.catalog.GetVersion(ctx, result.VersionID)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := c.artifacts.Put(ctx, version.StorageKey, f, contentType); err != nil {
		return err
	}
	_, err = c.Confirm(ctx, result.DocumentID, result.VersionID)
	return err
}

var _ stage.Handler = (*FileIngestHandler)(nil)
