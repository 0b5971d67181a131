package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"curator/internal/catalog"
	"curator/internal/config"
	"curator/internal/daemon"
	"curator/internal/deletion"
	"curator/internal/ingest"
	"curator/internal/pipeline"
	"curator/internal/queue"
	"curator/internal/services/embedding"
	"curator/internal/services/extraction"
	"curator/internal/storage"
	"curator/internal/workflow"
)

// bootstrap wires the stores, collaborator clients, and job handlers into a
// ready-to-start daemon.
func bootstrap(ctx context.Context, cfg *config.Config, store *queue.Store, logger *slog.Logger) (*daemon.Daemon, error) {
	catalogStore, err := catalog.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open catalog store: %w", err)
	}

	artifacts, err := newArtifactStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init artifact store: %w", err)
	}

	extractor := extraction.NewClient(cfg.Extraction.BaseURL, cfg.Extraction.APIKey,
		extraction.WithTimeout(time.Duration(cfg.Extraction.TimeoutSeconds)*time.Second))
	embedder := embedding.NewClient(cfg.Embedding.BaseURL, cfg.Embedding.APIKey, cfg.Embedding.Model,
		embedding.WithTimeout(time.Duration(cfg.Embedding.TimeoutSeconds)*time.Second),
		embedding.WithBatchSize(cfg.Embedding.BatchSize))

	manager := workflow.NewManager(cfg, store, logger)

	coordinator := pipeline.New(catalogStore, store, extractor, embedder, logger)
	for jobType, handler := range coordinator.Handlers() {
		manager.Register(jobType, handler)
	}

	uploads := ingest.NewController(cfg, catalogStore, store, artifacts, logger)
	manager.Register(queue.TypeIngest, ingest.NewFileIngestHandler(uploads))
	manager.Register(queue.TypeURLIngest, ingest.NewURLIngestHandler(uploads))
	manager.Register(queue.TypeBulkIngest, ingest.NewBulkIngestHandler(uploads, logger))
	manager.RegisterSweep(func(ctx context.Context) error {
		_, err := uploads.ExpirePendingUploads(ctx)
		return err
	})

	deletes := deletion.New(cfg, catalogStore, store, artifacts, logger)
	manager.Register(queue.TypeDeletionTask, deletion.NewTaskHandler(deletes))

	return daemon.New(cfg, store, logger, manager, uploads, deletes)
}

func newArtifactStore(ctx context.Context, cfg *config.Config) (storage.ArtifactStore, error) {
	switch cfg.Storage.Backend {
	case "s3":
		return storage.NewS3Store(ctx, cfg.Storage)
	default:
		return storage.NewLocalStore(cfg.Storage.LocalDir)
	}
}
