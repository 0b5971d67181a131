package pipeline

import (
	"context"
	"errors"
	"strings"

	"curator/internal/catalog"
	"curator/internal/services"
)

// runExtract sends the stored object to the extraction service and records
// the text on the version.
func (c *Coordinator) runExtract(ctx context.Context, version *catalog.Version) error {
	doc, err := c.store.GetDocument(ctx, version.DocumentID)
	if errors.Is(err, catalog.ErrNotFound) {
		return services.Wrap(
			services.ErrValidation, "extract", "load document",
			"document no longer exists", err)
	}
	if err != nil {
		return services.Wrap(services.ErrTransient, "extract", "load document", "catalog read failed", err)
	}

	if err := c.store.SetExtractionStatus(ctx, version.ID, catalog.ExtractionProcessing); err != nil {
		return services.Wrap(services.ErrTransient, "extract", "mark processing", "catalog write failed", err)
	}

	result, err := c.extractor.Extract(ctx, version.StorageKey, doc.ContentType)
	if err != nil {
		return err
	}
	if strings.TrimSpace(result.Text) == "" {
		return services.Wrap(
			services.ErrValidation, "extract", "extract",
			"extraction produced no text", nil)
	}

	if err := c.store.SetExtractionResult(ctx, version.ID, result.Text, result.PageCount); err != nil {
		return services.Wrap(services.ErrTransient, "extract", "store result", "catalog write failed", err)
	}
	return nil
}
