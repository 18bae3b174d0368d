package extract

import (
	"strings"

	"bookrag/internal/indexer"
)

const defaultLinesPerPage = 40

// PlainText extracts pages from UTF-8 text. Form feeds separate pages; a
// document without any form feed is paged every LinesPerPage lines.
type PlainText struct {
	LinesPerPage int
}

// NewPlainText creates a PlainText extractor with 40 lines per synthetic page.
func NewPlainText() *PlainText {
	return &PlainText{LinesPerPage: defaultLinesPerPage}
}

// Extract implements indexer.Extractor.
func (p *PlainText) Extract(doc []byte) ([]indexer.RawPage, error) {
	text := string(doc)

	var parts []string
	if strings.Contains(text, "\f") {
		parts = strings.Split(text, "\f")
	} else {
		parts = p.splitLines(text)
	}

	pages := make([]indexer.RawPage, 0, len(parts))
	for i, part := range parts {
		pages = append(pages, indexer.RawPage{PageNumber: i + 1, Text: part})
	}
	return pages, nil
}

func (p *PlainText) splitLines(text string) []string {
	n := p.LinesPerPage
	if n <= 0 {
		n = defaultLinesPerPage
	}
	lines := strings.SplitAfter(text, "\n")

	var parts []string
	for start := 0; start < len(lines); start += n {
		end := min(start+n, len(lines))
		parts = append(parts, strings.Join(lines[start:end], ""))
	}
	return parts
}
