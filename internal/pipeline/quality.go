package pipeline

import (
	"context"
	"encoding/json"
	"strings"

	"curator/internal/catalog"
	"curator/internal/services"
)

// qualityReport is the single quality-check finding stored per version.
type qualityReport struct {
	SpanCount      int      `json:"span_count"`
	EmbeddingCount int      `json:"embedding_count"`
	FactCount      int      `json:"fact_count"`
	Coverage       float64  `json:"coverage"`
	Issues         []string `json:"issues,omitempty"`
}

// runQualityCheck verifies the earlier stages line up and stores a report.
// Issues are recorded, not fatal: a low-coverage document still finishes the
// pipeline so callers can inspect the findings.
func (c *Coordinator) runQualityCheck(ctx context.Context, version *catalog.Version) error {
	spans, err := c.store.ListStageOutputs(ctx, version.ID, catalog.StageSpans)
	if err != nil {
		return services.Wrap(services.ErrTransient, "quality_check", "load spans", "catalog read failed", err)
	}
	embeddings, err := c.store.CountStageOutputs(ctx, version.ID, catalog.StageEmbed)
	if err != nil {
		return services.Wrap(services.ErrTransient, "quality_check", "count embeddings", "catalog read failed", err)
	}
	facts, err := c.store.CountStageOutputs(ctx, version.ID, catalog.StageFacts)
	if err != nil {
		return services.Wrap(services.ErrTransient, "quality_check", "count facts", "catalog read failed", err)
	}

	report := qualityReport{
		SpanCount:      len(spans),
		EmbeddingCount: embeddings,
		FactCount:      facts,
	}
	if len(spans) == 0 {
		report.Issues = append(report.Issues, "no spans")
	}
	if embeddings != len(spans) {
		report.Issues = append(report.Issues, "embedding count does not match span count")
	}
	textLen := len([]rune(version.ExtractedText))
	if textLen > 0 {
		covered := 0
		for _, span := range spans {
			covered += span.CharEnd - span.CharStart
		}
		report.Coverage = float64(covered) / float64(textLen)
	}
	if report.Coverage < 0.5 && textLen > 0 {
		report.Issues = append(report.Issues, "spans cover less than half of the extracted text")
	}
	if strings.TrimSpace(version.ExtractedText) == "" {
		report.Issues = append(report.Issues, "no extracted text")
	}

	encoded, err := json.Marshal(report)
	if err != nil {
		return services.Wrap(services.ErrValidation, "quality_check", "encode report", "report could not be serialized", err)
	}
	outputs := []catalog.StageOutput{{Content: string(encoded)}}
	if err := c.store.UpsertStageOutputs(ctx, version.ID, catalog.StageQuality, outputs); err != nil {
		return services.Wrap(services.ErrTransient, "quality_check", "store report", "catalog write failed", err)
	}
	return nil
}
