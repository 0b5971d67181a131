package pipeline

import (
	"context"
	"encoding/json"

	"curator/internal/catalog"
	"curator/internal/services"
)

// runEmbed embeds the span texts and stores one vector row per span, aligned
// by sequence so re-running replaces rather than duplicates.
func (c *Coordinator) runEmbed(ctx context.Context, version *catalog.Version) error {
	spans, err := c.store.ListStageOutputs(ctx, version.ID, catalog.StageSpans)
	if err != nil {
		return services.Wrap(services.ErrTransient, "embed", "load spans", "catalog read failed", err)
	}
	if len(spans) == 0 {
		return services.Wrap(
			services.ErrValidation, "embed", "load spans",
			"version has no spans to embed", nil)
	}

	inputs := make([]string, len(spans))
	for i, span := range spans {
		inputs[i] = span.Content
	}
	vectors, err := c.embedder.Embed(ctx, inputs)
	if err != nil {
		return err
	}

	outputs := make([]catalog.StageOutput, len(spans))
	for i, span := range spans {
		encoded, encErr := json.Marshal(vectors[i])
		if encErr != nil {
			return services.Wrap(services.ErrValidation, "embed", "encode vector", "vector could not be serialized", encErr)
		}
		outputs[i] = catalog.StageOutput{
			Content:   span.Content,
			Vector:    string(encoded),
			CharStart: span.CharStart,
			CharEnd:   span.CharEnd,
		}
	}
	if err := c.store.UpsertStageOutputs(ctx, version.ID, catalog.StageEmbed, outputs); err != nil {
		return services.Wrap(services.ErrTransient, "embed", "store vectors", "catalog write failed", err)
	}
	return nil
}
