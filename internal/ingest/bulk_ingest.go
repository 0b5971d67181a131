package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"curator/internal/logging"
	"curator/internal/queue"
	"curator/internal/services"
	"curator/internal/stage"
)

// BulkIngestHandler walks a source directory of already-transferred files and
// registers every supported one as a document, as a single job.
type BulkIngestHandler struct {
	controller *Controller
	logger     *slog.Logger
}

// NewBulkIngestHandler builds the bulk_ingest job handler. The logger may be
// nil.
func NewBulkIngestHandler(controller *Controller, logger *slog.Logger) *BulkIngestHandler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &BulkIngestHandler{
		controller: controller,
		logger:     logging.NewComponentLogger(logger, "bulk_ingest"),
	}
}

type bulkIngestPayload struct {
	SourceDir string `json:"source_dir"`
}

// BulkIngestPayload builds the payload for a bulk_ingest job.
func BulkIngestPayload(sourceDir string) (string, error) {
	return stage.EncodePayload(bulkIngestPayload{SourceDir: sourceDir})
}

func (h *BulkIngestHandler) Prepare(ctx context.Context, job *queue.Job) error {
	var payload bulkIngestPayload
	if err := stage.DecodePayload(job, &payload); err != nil {
		return err
	}
	info, err := os.Stat(payload.SourceDir)
	if err != nil || !info.IsDir() {
		return services.Wrap(
			services.ErrValidation, "bulk_ingest", "prepare",
			fmt.Sprintf("source %q is not a readable directory", payload.SourceDir), err)
	}
	return nil
}

// Execute ingests every supported file under the source directory. Files the
// run cannot ingest are logged and skipped; the job only fails when nothing
// at all could be ingested from a non-empty candidate set.
func (h *BulkIngestHandler) Execute(ctx context.Context, job *queue.Job) error {
	var payload bulkIngestPayload
	if err := stage.DecodePayload(job, &payload); err != nil {
		return err
	}

	var candidates, ingested int
	walkErr := filepath.WalkDir(payload.SourceDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() {
			return nil
		}
		if resolveContentType("", entry.Name()) == "" {
			return nil
		}
		candidates++
		if err := ingestLocalFile(ctx, h.controller, path); err != nil {
			h.logger.Warn("skipping file",
				logging.String("path", path),
				logging.Error(err))
			return nil
		}
		ingested++
		return nil
	})
	if walkErr != nil {
		return services.Wrap(services.ErrTransient, "bulk_ingest", "walk source", "directory walk failed", walkErr)
	}
	if candidates > 0 && ingested == 0 {
		return services.Wrap(
			services.ErrTransient, "bulk_ingest", "ingest",
			fmt.Sprintf("all %d candidate files failed to ingest", candidates), nil)
	}
	h.logger.Info("bulk ingest finished",
		logging.Int("candidates", candidates),
		logging.Int("ingested", ingested))
	return nil
}

func (h *BulkIngestHandler) HealthCheck(ctx context.Context) stage.Health {
	return stage.Healthy("bulk_ingest")
}

var _ stage.Handler = (*BulkIngestHandler)(nil)
