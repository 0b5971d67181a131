package pipeline

import (
	"context"
	"strings"

	"curator/internal/catalog"
	"curator/internal/services"
)

// maxSpanChars bounds how much text one span carries so the embedding
// service never sees an oversized input. Paragraphs beyond the bound are
// split on rune boundaries.
const maxSpanChars = 2000

// runBuildSpans segments the extracted text into spans with character
// offsets. Segmentation is deterministic, so a re-run over the same text
// produces identical rows and the upsert is a no-op.
func (c *Coordinator) runBuildSpans(ctx context.Context, version *catalog.Version) error {
	if strings.TrimSpace(version.ExtractedText) == "" {
		return services.Wrap(
			services.ErrValidation, "build_spans", "segment",
			"version has no extracted text", nil)
	}
	spans := buildSpans(version.ExtractedText)
	if len(spans) == 0 {
		return services.Wrap(
			services.ErrValidation, "build_spans", "segment",
			"segmentation produced no spans", nil)
	}
	if err := c.store.UpsertStageOutputs(ctx, version.ID, catalog.StageSpans, spans); err != nil {
		return services.Wrap(services.ErrTransient, "build_spans", "store spans", "catalog write failed", err)
	}
	return nil
}

// buildSpans splits text into paragraph spans. Paragraphs are runs of
// non-blank lines; blank-only paragraphs are dropped. Offsets index into the
// original text so spans can be traced back to their source bytes.
func buildSpans(text string) []catalog.StageOutput {
	var spans []catalog.StageOutput
	runes := []rune(text)

	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		spans = append(spans, splitSpan(runes, start, end)...)
		start = -1
	}

	line := 0
	for i := 0; i <= len(runes); i++ {
		atEnd := i == len(runes)
		if atEnd || runes[i] == '\n' {
			if strings.TrimSpace(string(runes[line:i])) == "" {
				flush(line)
			} else if start < 0 {
				start = line
			}
			line = i + 1
		}
		if atEnd {
			flush(len(runes))
		}
	}
	return spans
}

// splitSpan trims a paragraph and slices it into maxSpanChars windows.
func splitSpan(runes []rune, start, end int) []catalog.StageOutput {
	for start < end && isSpace(runes[start]) {
		start++
	}
	for end > start && isSpace(runes[end-1]) {
		end--
	}
	if start >= end {
		return nil
	}
	var pieces []catalog.StageOutput
	for begin := start; begin < end; begin += maxSpanChars {
		stop := begin + maxSpanChars
		if stop > end {
			stop = end
		}
		pieces = append(pieces, catalog.StageOutput{
			Content:   string(runes[begin:stop]),
			CharStart: begin,
			CharEnd:   stop,
		})
	}
	return pieces
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r':
		return true
	default:
		return false
	}
}
