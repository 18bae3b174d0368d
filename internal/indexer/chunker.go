package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	targetChunkTokens  = 512
	minChunkTokens     = 50
	overlapTokens      = 100
	maxSectionTitleLen = 80 // Runes
)

var (
	manyNewlines = regexp.MustCompile(`\n{3,}`)
	spaceRuns    = regexp.MustCompile(`[ \t]+`)
	paragraphSep = regexp.MustCompile(`\n{2,}`)
	// A sentence ends in terminal punctuation plus an optional closing quote, or at a bare newline.
	sentencePattern = regexp.MustCompile(`[^.!?\n]*[.!?]+["'”’»]?|[^.!?\n]*\n|[^.!?\n]+`)
)

// Chunker splits cleaned page text into overlapping, token-bounded chunks.
type Chunker struct {
	tok           Tokenizer
	targetTokens  int
	minTokens     int
	overlapTokens int
}

// ChunkerOption configures a Chunker.
type ChunkerOption func(*Chunker)

// WithTargetTokens sets the token ceiling of a chunk's original text.
func WithTargetTokens(n int) ChunkerOption {
	return func(c *Chunker) {
		if n > 0 {
			c.targetTokens = n
		}
	}
}

// WithMinTokens sets the size below which raw chunks are dropped.
func WithMinTokens(n int) ChunkerOption {
	return func(c *Chunker) {
		if n >= 0 {
			c.minTokens = n
		}
	}
}

// WithOverlapTokens sets the maximum size of the tail carried into the next chunk.
func WithOverlapTokens(n int) ChunkerOption {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlapTokens = n
		}
	}
}

// NewChunker creates a chunker with 512/50/100 token defaults.
func NewChunker(tok Tokenizer, opts ...ChunkerOption) *Chunker {
	c := &Chunker{
		tok:           tok,
		targetTokens:  targetChunkTokens,
		minTokens:     minChunkTokens,
		overlapTokens: overlapTokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// rawChunk is a packed chunk before the minimum filter and overlap are applied.
type rawChunk struct {
	text string
	page int
}

type paragraph struct {
	text string
	page int
}

// CleanText normalizes page text into the canonical form used for hashing and display.
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, text)
	text = spaceRuns.ReplaceAllString(text, " ")
	text = manyNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Chunk converts ordered pages into the final chunk sequence for one book.
func (c *Chunker) Chunk(pages []RawPage) []TextChunk {
	var paragraphs []paragraph
	for _, page := range pages {
		for _, p := range splitParagraphs(CleanText(page.Text)) {
			paragraphs = append(paragraphs, paragraph{text: p, page: page.PageNumber})
		}
	}

	raw := c.pack(paragraphs)

	// Drop undersized chunks, keeping order
	kept := raw[:0]
	for _, rc := range raw {
		if c.tok.Count(rc.text) >= c.minTokens {
			kept = append(kept, rc)
		}
	}

	chunks := make([]TextChunk, 0, len(kept))
	section := ""
	for i, rc := range kept {
		content := rc.text
		if i > 0 {
			if tail := c.overlapTail(kept[i-1].text); tail != "" {
				content = tail + "\n\n" + rc.text
			}
		}
		if title, ok := detectSectionTitle(rc.text); ok {
			section = title
		}

		chunks = append(chunks, TextChunk{
			Index:        i,
			PageNumber:   rc.page,
			SectionTitle: section,
			Content:      content,
			TokenCount:   c.tok.Count(content),
			Hash:         HashContent(content),
		})
	}
	return chunks
}

// HashContent returns the hex SHA-256 digest of chunk content.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range paragraphSep.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// pack accumulates paragraphs into chunks of at most targetTokens tokens.
func (c *Chunker) pack(paragraphs []paragraph) []rawChunk {
	var (
		out     []rawChunk
		buf     []string
		bufPage int
	)
	flush := func() {
		if len(buf) > 0 {
			out = append(out, rawChunk{text: strings.Join(buf, "\n\n"), page: bufPage})
			buf = nil
		}
	}

	for _, p := range paragraphs {
		if c.tok.Count(p.text) > c.targetTokens {
			flush()
			for _, piece := range c.splitOversized(p.text) {
				out = append(out, rawChunk{text: piece, page: p.page})
			}
			continue
		}

		if len(buf) == 0 {
			buf = []string{p.text}
			bufPage = p.page
			continue
		}

		candidate := strings.Join(buf, "\n\n") + "\n\n" + p.text
		if c.tok.Count(candidate) > c.targetTokens {
			flush()
			buf = []string{p.text}
			bufPage = p.page
			continue
		}
		buf = append(buf, p.text)
	}
	flush()
	return out
}

// splitOversized splits a paragraph at sentence boundaries, hard-splitting any
// sentence that alone exceeds the ceiling.
func (c *Chunker) splitOversized(text string) []string {
	var sentences []string
	for _, s := range sentencePattern.FindAllString(text, -1) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if c.tok.Count(s) > c.targetTokens {
			sentences = append(sentences, c.splitWords(s)...)
			continue
		}
		sentences = append(sentences, s)
	}
	return c.accumulate(sentences, " ")
}

// splitWords splits text on whitespace into pieces within the ceiling.
func (c *Chunker) splitWords(text string) []string {
	var words []string
	for _, w := range strings.Fields(text) {
		for c.tok.Count(w) > c.targetTokens {
			head := c.tok.Truncate(w, c.targetTokens)
			if head == "" {
				break
			}
			words = append(words, head)
			w = w[len(head):]
		}
		if w != "" {
			words = append(words, w)
		}
	}
	return c.accumulate(words, " ")
}

// accumulate greedily joins pieces with sep, flushing whenever the ceiling would be exceeded.
func (c *Chunker) accumulate(pieces []string, sep string) []string {
	var (
		out []string
		cur string
	)
	for _, piece := range pieces {
		if cur == "" {
			cur = piece
			continue
		}
		candidate := cur + sep + piece
		if c.tok.Count(candidate) > c.targetTokens {
			out = append(out, cur)
			cur = piece
			continue
		}
		cur = candidate
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

// overlapTail returns the longest run of trailing words of text, joined by
// single spaces, that fits in overlapTokens.
func (c *Chunker) overlapTail(text string) string {
	if c.overlapTokens == 0 {
		return ""
	}
	words := strings.Fields(text)
	start := len(words)
	for start > 0 {
		candidate := strings.Join(words[start-1:], " ")
		if c.tok.Count(candidate) > c.overlapTokens {
			break
		}
		start--
	}
	return strings.Join(words[start:], " ")
}

// detectSectionTitle treats a short first line not ending in a period as a heading.
func detectSectionTitle(text string) (string, bool) {
	line, _, _ := strings.Cut(text, "\n")
	line = strings.TrimSpace(line)
	if line == "" || utf8.RuneCountInString(line) >= maxSectionTitleLen {
		return "", false
	}
	if strings.HasSuffix(line, ".") {
		return "", false
	}
	return line, true
}
