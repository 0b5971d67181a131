// Package ingest owns the upload handshake: presign, client-side transfer,
// confirm. Bytes never pass through the daemon on the normal path; the bulk
// and URL ingest jobs are the exception and write to storage directly.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"curator/internal/catalog"
	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/pipeline"
	"curator/internal/queue"
	"curator/internal/services"
	"curator/internal/storage"
)

// Controller coordinates the three-phase upload protocol.
type Controller struct {
	cfg       *config.Config
	catalog   *catalog.Store
	jobs      *queue.Store
	artifacts storage.ArtifactStore
	logger    *slog.Logger
}

// NewController builds the upload controller. The logger may be nil.
func NewController(cfg *config.Config, catalogStore *catalog.Store, jobs *queue.Store, artifacts storage.ArtifactStore, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Controller{
		cfg:       cfg,
		catalog:   catalogStore,
		jobs:      jobs,
		artifacts: artifacts,
		logger:    logging.NewComponentLogger(logger, "ingest"),
	}
}

// PresignRequest describes an intended upload.
type PresignRequest struct {
	Filename    string
	ContentType string
	SizeBytes   int64
}

// PresignResult carries everything the client needs to transfer bytes.
type PresignResult struct {
	DocumentID string
	VersionID  string
	UploadURL  string
	ExpiresAt  time.Time
}

// Presign validates the declared upload and hands out a time-boxed grant.
// Validation happens before any rows exist, so a rejected request leaves no
// trace.
func (c *Controller) Presign(ctx context.Context, req PresignRequest) (*PresignResult, error) {
	if req.Filename == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrUnsupportedType)
	}
	contentType := resolveContentType(req.ContentType, req.Filename)
	if contentType == "" {
		return nil, fmt.Errorf("%w: %q is not a supported document type", ErrUnsupportedType, req.ContentType)
	}
	if req.SizeBytes <= 0 {
		return nil, fmt.Errorf("%w: declared size must be positive", ErrFileTooLarge)
	}
	if limit := c.cfg.MaxFileSizeBytes(); req.SizeBytes > limit {
		return nil, fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrFileTooLarge, req.SizeBytes, limit)
	}

	doc := &catalog.Document{
		ID:          uuid.NewString(),
		Filename:    filepath.Base(req.Filename),
		ContentType: contentType,
	}
	if err := c.catalog.CreateDocument(ctx, doc); err != nil {
		return nil, services.Wrap(services.ErrTransient, "ingest", "presign", "unable to create document", err)
	}

	expiresAt := time.Now().Add(c.cfg.GrantTTL())
	versionID := uuid.NewString()
	version := &catalog.Version{
		ID:             versionID,
		DocumentID:     doc.ID,
		StorageKey:     storage.ObjectKey(c.cfg.Storage.KeyPrefix, doc.ID, versionID, doc.Filename),
		GrantExpiresAt: &expiresAt,
	}
	if err := c.catalog.CreateVersion(ctx, version); err != nil {
		return nil, services.Wrap(services.ErrTransient, "ingest", "presign", "unable to create version", err)
	}

	grantURL, err := c.artifacts.IssueUploadGrant(ctx, version.StorageKey, contentType, c.cfg.GrantTTL())
	if err != nil {
		return nil, err
	}

	c.logger.Info("upload grant issued",
		logging.String(logging.FieldDocumentID, doc.ID),
		logging.String(logging.FieldVersionID, version.ID))
	return &PresignResult{
		DocumentID: doc.ID,
		VersionID:  version.ID,
		UploadURL:  grantURL,
		ExpiresAt:  expiresAt,
	}, nil
}

// Confirm completes the handshake: verifies the object landed, records its
// metadata, and enqueues the first pipeline job. Confirming twice returns
// the job that is already queued.
func (c *Controller) Confirm(ctx context.Context, documentID, versionID string) (*queue.Job, error) {
	version, err := c.catalog.GetVersion(ctx, versionID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown version %s", ErrUploadNotFound, versionID)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "ingest", "confirm", "catalog read failed", err)
	}
	if version.DocumentID != documentID {
		return nil, fmt.Errorf("%w: version %s does not belong to document %s", ErrUploadNotFound, versionID, documentID)
	}

	switch version.UploadStatus {
	case catalog.UploadUploaded:
		return c.enqueueFirstStage(ctx, version, 0)
	case catalog.UploadFailed:
		return nil, fmt.Errorf("%w: upload grant expired before the transfer completed", ErrUploadNotFound)
	}

	meta, err := c.artifacts.StatObject(ctx, version.StorageKey)
	if errors.Is(err, services.ErrNotFound) {
		return nil, fmt.Errorf("%w: no object at %s", ErrUploadNotFound, version.StorageKey)
	}
	if err != nil {
		return nil, err
	}

	if err := c.catalog.ConfirmUpload(ctx, version.ID, meta.Size, meta.Hash); err != nil {
		// A concurrent confirm won the race; the version is uploaded either way.
		if !errors.Is(err, catalog.ErrStageConflict) {
			return nil, services.Wrap(services.ErrTransient, "ingest", "confirm", "catalog write failed", err)
		}
	}

	c.logger.Info("upload confirmed",
		logging.String(logging.FieldDocumentID, documentID),
		logging.String(logging.FieldVersionID, version.ID),
		logging.Int64("size", meta.Size))
	return c.enqueueFirstStage(ctx, version, 0)
}

func (c *Controller) enqueueFirstStage(ctx context.Context, version *catalog.Version, priority int) (*queue.Job, error) {
	payload, err := pipeline.PayloadFor(version.DocumentID, version.ID)
	if err != nil {
		return nil, err
	}
	job, err := c.jobs.Enqueue(ctx, queue.NewJob{
		Type:        pipeline.FirstStage,
		Priority:    priority,
		EntityType:  "version",
		EntityID:    version.ID,
		Payload:     payload,
		MaxAttempts: c.cfg.Jobs.DefaultMaxAttempts,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "ingest", "confirm", "unable to enqueue pipeline job", err)
	}
	return job, nil
}

// ExpirePendingUploads fails versions whose grant lapsed without a confirm.
// Called by the sweep loop.
func (c *Controller) ExpirePendingUploads(ctx context.Context) (int64, error) {
	expired, err := c.catalog.ExpirePendingUploads(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		c.logger.Info("expired stale upload grants", logging.Int64("count", expired))
	}
	return expired, nil
}
