// Package pipeline advances document versions through the processing stages:
// extract, build spans, embed, extract facts, quality check. Each stage runs
// as one queue job and moves the version forward exactly one processing
// status, then enqueues the next stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"curator/internal/catalog"
	"curator/internal/logging"
	"curator/internal/queue"
	"curator/internal/services"
	"curator/internal/services/embedding"
	"curator/internal/services/extraction"
	"curator/internal/stage"
)

// jobPayload is the payload every pipeline job carries.
type jobPayload struct {
	DocumentID string `json:"document_id"`
	VersionID  string `json:"version_id"`
}

// PayloadFor builds the payload for a pipeline job on a version.
func PayloadFor(documentID, versionID string) (string, error) {
	return stage.EncodePayload(jobPayload{DocumentID: documentID, VersionID: versionID})
}

// FirstStage is the job type enqueued once an upload is confirmed.
const FirstStage = queue.TypeExtract

type stageSpec struct {
	jobType queue.Type
	name    string
	from    catalog.ProcessingStatus
	to      catalog.ProcessingStatus
	next    queue.Type
}

var stageTable = []stageSpec{
	{queue.TypeExtract, "extract", catalog.ProcessingUploaded, catalog.ProcessingExtracted, queue.TypeBuildSpans},
	{queue.TypeBuildSpans, "build_spans", catalog.ProcessingExtracted, catalog.ProcessingSpansBuilt, queue.TypeEmbed},
	{queue.TypeEmbed, "embed", catalog.ProcessingSpansBuilt, catalog.ProcessingEmbedded, queue.TypeExtractFacts},
	{queue.TypeExtractFacts, "extract_facts", catalog.ProcessingEmbedded, catalog.ProcessingFactsExtracted, queue.TypeQualityCheck},
	{queue.TypeQualityCheck, "quality_check", catalog.ProcessingFactsExtracted, catalog.ProcessingQualityChecked, ""},
}

// Coordinator owns the stage handlers and their collaborators.
type Coordinator struct {
	store     *catalog.Store
	jobs      *queue.Store
	extractor *extraction.Client
	embedder  *embedding.Client
	logger    *slog.Logger
}

// New builds a coordinator. The logger may be nil.
func New(store *catalog.Store, jobs *queue.Store, extractor *extraction.Client, embedder *embedding.Client, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Coordinator{
		store:     store,
		jobs:      jobs,
		extractor: extractor,
		embedder:  embedder,
		logger:    logger,
	}
}

// Handlers returns the stage handlers keyed by job type, for registration
// with the workflow manager.
func (c *Coordinator) Handlers() map[queue.Type]stage.Handler {
	runs := map[queue.Type]func(context.Context, *catalog.Version) error{
		queue.TypeExtract:      c.runExtract,
		queue.TypeBuildSpans:   c.runBuildSpans,
		queue.TypeEmbed:        c.runEmbed,
		queue.TypeExtractFacts: c.runExtractFacts,
		queue.TypeQualityCheck: c.runQualityCheck,
	}
	handlers := make(map[queue.Type]stage.Handler, len(stageTable))
	for _, spec := range stageTable {
		handlers[spec.jobType] = &stageHandler{coord: c, spec: spec, run: runs[spec.jobType]}
	}
	return handlers
}

type stageHandler struct {
	coord *Coordinator
	spec  stageSpec
	run   func(context.Context, *catalog.Version) error
}

func (h *stageHandler) Prepare(ctx context.Context, job *queue.Job) error {
	var payload jobPayload
	if err := stage.DecodePayload(job, &payload); err != nil {
		return err
	}
	if payload.VersionID == "" {
		return services.Wrap(
			services.ErrValidation, h.spec.name, "prepare",
			"job payload is missing version_id", nil)
	}
	return nil
}

// Execute advances the version one stage. A version already past this stage
// is treated as done and only re-chains the follow-up job; a version that has
// not reached the predecessor stage is an ordering violation and never
// retried.
func (h *stageHandler) Execute(ctx context.Context, job *queue.Job) error {
	var payload jobPayload
	if err := stage.DecodePayload(job, &payload); err != nil {
		return err
	}
	ctx = services.WithStage(ctx, h.spec.name)
	log := logging.WithContext(ctx, h.coord.logger)

	version, err := h.coord.store.GetVersion(ctx, payload.VersionID)
	if errors.Is(err, catalog.ErrNotFound) {
		return services.Wrap(
			services.ErrValidation, h.spec.name, "load version",
			"version no longer exists", err)
	}
	if err != nil {
		return services.Wrap(services.ErrTransient, h.spec.name, "load version", "catalog read failed", err)
	}

	switch {
	case version.ProcessingStatus == h.spec.from:
	case version.ProcessingStatus.Rank() >= h.spec.to.Rank():
		log.Info("stage already applied, chaining follow-up",
			logging.String(logging.FieldVersionID, version.ID),
			logging.String(logging.FieldStage, h.spec.name))
		return h.chainNext(ctx, job, payload)
	default:
		return services.Wrap(
			services.ErrOutOfOrder, h.spec.name, "advance",
			fmt.Sprintf("version is at %s but this stage requires %s", version.ProcessingStatus, h.spec.from), nil)
	}

	if err := h.run(ctx, version); err != nil {
		terminal := services.Permanent(err) || job.Attempts >= job.MaxAttempts
		if recErr := h.coord.store.SetStageError(ctx, version.ID, err.Error(), terminal); recErr != nil {
			log.Error("unable to record stage error",
				logging.String(logging.FieldVersionID, version.ID),
				logging.Error(recErr))
		}
		return err
	}

	if err := h.coord.store.AdvanceProcessingStatus(ctx, version.ID, h.spec.from, h.spec.to); err != nil {
		if errors.Is(err, catalog.ErrStageConflict) {
			return services.Wrap(
				services.ErrOutOfOrder, h.spec.name, "advance",
				"version moved while the stage was running", err)
		}
		return err
	}
	log.Info("stage complete",
		logging.String(logging.FieldVersionID, version.ID),
		logging.String(logging.FieldStage, h.spec.name))
	// The status write and the enqueue hit separate stores. A crash between
	// them is recovered when lease reclamation re-runs this job and the
	// already-advanced branch above re-chains the follow-up.
	return h.chainNext(ctx, job, payload)
}

func (h *stageHandler) chainNext(ctx context.Context, job *queue.Job, payload jobPayload) error {
	if h.spec.next == "" {
		return nil
	}
	// Enqueue dedups on (entity_id, type), so re-chaining is harmless.
	_, err := h.coord.jobs.Enqueue(ctx, queue.NewJob{
		Type:        h.spec.next,
		Priority:    job.Priority,
		EntityType:  "version",
		EntityID:    payload.VersionID,
		Payload:     job.Payload,
		MaxAttempts: job.MaxAttempts,
	})
	if err != nil {
		return services.Wrap(services.ErrTransient, h.spec.name, "chain next stage", "enqueue failed", err)
	}
	return nil
}

func (h *stageHandler) HealthCheck(ctx context.Context) stage.Health {
	switch h.spec.jobType {
	case queue.TypeExtract, queue.TypeExtractFacts:
		if err := h.coord.extractor.Healthy(ctx); err != nil {
			return stage.Unhealthy(h.spec.name, err.Error())
		}
	}
	return stage.Healthy(h.spec.name)
}
