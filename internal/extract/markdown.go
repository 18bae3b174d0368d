package extract

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"bookrag/internal/indexer"
)

// Markdown extracts plain text from Markdown using goldmark. Every level-1
// heading starts a new page; blocks are separated by blank lines so that
// paragraph boundaries survive into chunking.
type Markdown struct {
	parser goldmark.Markdown
}

// NewMarkdown creates a Markdown extractor with table support.
func NewMarkdown() *Markdown {
	return &Markdown{
		parser: goldmark.New(
			goldmark.WithExtensions(extension.Table),
		),
	}
}

// Extract implements indexer.Extractor.
func (m *Markdown) Extract(doc []byte) ([]indexer.RawPage, error) {
	root := m.parser.Parser().Parse(text.NewReader(doc))

	var (
		pages   []indexer.RawPage
		current []string
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		pages = append(pages, indexer.RawPage{
			PageNumber: len(pages) + 1,
			Text:       strings.Join(current, "\n\n"),
		})
		current = nil
	}

	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok && h.Level == 1 {
			flush()
		}
		if block := blockText(n, doc); block != "" {
			current = append(current, block)
		}
	}
	flush()
	return pages, nil
}

// blockText renders one top-level block as plain text.
func blockText(n ast.Node, src []byte) string {
	switch node := n.(type) {
	case *ast.CodeBlock, *ast.FencedCodeBlock:
		return strings.TrimRight(linesText(node, src), "\n")
	case *ast.HTMLBlock, *ast.ThematicBreak:
		return ""
	case *ast.List:
		var items []string
		for item := node.FirstChild(); item != nil; item = item.NextSibling() {
			if t := inlineText(item, src); t != "" {
				items = append(items, "- "+t)
			}
		}
		return strings.Join(items, "\n")
	case *extast.Table:
		var rows []string
		for row := node.FirstChild(); row != nil; row = row.NextSibling() {
			var cells []string
			for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
				cells = append(cells, inlineText(cell, src))
			}
			rows = append(rows, strings.Join(cells, " | "))
		}
		return strings.Join(rows, "\n")
	case *ast.Blockquote:
		var parts []string
		for c := node.FirstChild(); c != nil; c = c.NextSibling() {
			if t := blockText(c, src); t != "" {
				parts = append(parts, t)
			}
		}
		return strings.Join(parts, "\n\n")
	default:
		return inlineText(n, src)
	}
}

// inlineText concatenates the text content under n, keeping hard line breaks.
func inlineText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := node.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(src))
			switch {
			case v.HardLineBreak():
				b.WriteString("\n")
			case v.SoftLineBreak():
				b.WriteString(" ")
			}
		case *ast.String:
			b.Write(v.Value)
		case *ast.AutoLink:
			b.Write(v.URL(src))
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			b.WriteString(linesText(v, src))
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

func linesText(n ast.Node, src []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		b.Write(line.Value(src))
	}
	return b.String()
}
