// Package extract turns source documents into ordered pages for ingestion.
package extract

import (
	"path/filepath"
	"strings"

	"bookrag/internal/indexer"
)

// Supported document formats.
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
)

// FormatFromPath infers the document format from a file extension.
func FormatFromPath(path string) (string, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".text":
		return FormatText, true
	case ".md", ".markdown":
		return FormatMarkdown, true
	default:
		return "", false
	}
}

// PipelineOptions registers every extractor with an ingestion pipeline.
func PipelineOptions() []indexer.PipelineOption {
	return []indexer.PipelineOption{
		indexer.WithExtractor(FormatText, NewPlainText()),
		indexer.WithExtractor(FormatMarkdown, NewMarkdown()),
	}
}
