package ingest

import (
	"path/filepath"
	"strings"
)

// supportedTypes is the closed set of content types the pipeline can extract.
var supportedTypes = map[string]struct{}{
	"application/pdf":      {},
	"text/plain":           {},
	"text/markdown":        {},
	"text/html":            {},
	"text/csv":             {},
	"application/json":     {},
	"application/msword":   {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
}

var extensionTypes = map[string]string{
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".html": "text/html",
	".htm":  "text/html",
	".csv":  "text/csv",
	".json": "application/json",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// resolveContentType normalizes a declared content type, falling back to the
// filename extension. Returns "" when neither identifies a supported type.
func resolveContentType(contentType, filename string) string {
	normalized := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.IndexByte(normalized, ';'); idx >= 0 {
		normalized = strings.TrimSpace(normalized[:idx])
	}
	if _, ok := supportedTypes[normalized]; ok {
		return normalized
	}
	if byExt, ok := extensionTypes[strings.ToLower(filepath.Ext(filename))]; ok && normalized == "" {
		return byExt
	}
	return ""
}
