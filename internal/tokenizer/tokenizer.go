// Package tokenizer counts and truncates text in the sub-word token units used by
// the embedding and completion models.
package tokenizer

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// Encoding is the BPE encoding shared by text-embedding-3-* and the chat models.
// It is fixed: chunk-size guarantees only hold when every component counts the same way.
const Encoding = "cl100k_base"

// Tokenizer counts and truncates text by cl100k_base tokens.
// It is safe for concurrent use.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

var (
	loaderOnce sync.Once

	defaultOnce sync.Once
	defaultTok  *Tokenizer
	defaultErr  error
)

// New loads the cl100k_base encoding from the embedded offline table.
func New() (*Tokenizer, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	enc, err := tiktoken.GetEncoding(Encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s encoding: %w", Encoding, err)
	}
	return &Tokenizer{enc: enc}, nil
}

// Default returns a process-wide tokenizer, loading it on first use.
// It panics if the embedded encoding cannot be loaded.
func Default() *Tokenizer {
	defaultOnce.Do(func() {
		defaultTok, defaultErr = New()
	})
	if defaultErr != nil {
		panic(defaultErr)
	}
	return defaultTok
}

// Count returns the number of tokens in text.
func (t *Tokenizer) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.encode(text))
}

// Truncate returns the longest prefix of text that ends on a token boundary and
// holds at most maxTokens tokens. A token that would split a UTF-8 sequence is
// dropped rather than decoded partially, and the result is re-counted because BPE
// merges can differ at the cut point.
func (t *Tokenizer) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 || text == "" {
		return ""
	}

	tokens := t.encode(text)
	if len(tokens) <= maxTokens {
		return text
	}

	for n := maxTokens; n > 0; n-- {
		prefix := t.enc.Decode(tokens[:n])
		if utf8.ValidString(prefix) && len(t.encode(prefix)) <= maxTokens {
			return prefix
		}
	}
	return ""
}

func (t *Tokenizer) encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}
