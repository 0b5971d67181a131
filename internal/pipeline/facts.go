package pipeline

import (
	"context"
	"encoding/json"

	"curator/internal/catalog"
	"curator/internal/services"
)

// runExtractFacts asks the extraction service for key/value findings over the
// span texts and stores one row per fact. A document with no extractable
// facts is valid; the stage stores nothing and still advances.
func (c *Coordinator) runExtractFacts(ctx context.Context, version *catalog.Version) error {
	spans, err := c.store.ListStageOutputs(ctx, version.ID, catalog.StageSpans)
	if err != nil {
		return services.Wrap(services.ErrTransient, "extract_facts", "load spans", "catalog read failed", err)
	}
	if len(spans) == 0 {
		return services.Wrap(
			services.ErrValidation, "extract_facts", "load spans",
			"version has no spans", nil)
	}

	inputs := make([]string, len(spans))
	for i, span := range spans {
		inputs[i] = span.Content
	}
	facts, err := c.extractor.Facts(ctx, inputs)
	if err != nil {
		return err
	}

	outputs := make([]catalog.StageOutput, 0, len(facts))
	for _, fact := range facts {
		if fact.SpanIndex < 0 || fact.SpanIndex >= len(spans) {
			return services.Wrap(
				services.ErrExternalService, "extract_facts", "align facts",
				"fact references a span that does not exist", nil)
		}
		encoded, encErr := json.Marshal(map[string]string{"name": fact.Name, "value": fact.Value})
		if encErr != nil {
			return services.Wrap(services.ErrValidation, "extract_facts", "encode fact", "fact could not be serialized", encErr)
		}
		span := spans[fact.SpanIndex]
		outputs = append(outputs, catalog.StageOutput{
			Content:   string(encoded),
			CharStart: span.CharStart,
			CharEnd:   span.CharEnd,
		})
	}
	if err := c.store.UpsertStageOutputs(ctx, version.ID, catalog.StageFacts, outputs); err != nil {
		return services.Wrap(services.ErrTransient, "extract_facts", "store facts", "catalog write failed", err)
	}
	return nil
}
