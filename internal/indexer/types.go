package indexer

// RawPage is the extracted text of one physical page of a source document.
type RawPage struct {
	PageNumber int    // 1-based page number
	Text       string // Extracted page text, uncleaned
}

// TextChunk is a token-bounded, content-addressed unit of book text.
type TextChunk struct {
	Index        int    // 0-based position within the book
	PageNumber   int    // Page of the chunk's primary content
	SectionTitle string // Detected or inherited section heading, empty if none
	Content      string // Overlap tail + "\n\n" + original text (first chunk has no tail)
	TokenCount   int    // Token count of Content
	Hash         string // Hex SHA-256 of Content
}

// Tokenizer counts and truncates text in model tokens.
type Tokenizer interface {
	Count(text string) int
	Truncate(text string, maxTokens int) string
}
