package rag

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"bookrag/internal/storage"
)

const (
	lexicalLengthScale = float32(10.0)
	maxLexicalScore    = float32(0.4)
	headingMatchBonus  = float32(0.1)

	minKeywordRunes = 4
	maxKeywords     = 6
)

// English and French function words; books in either language share one index.
var lexicalStopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "but": {}, "by": {},
	"for": {}, "from": {}, "has": {}, "have": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {},
	"or": {}, "the": {}, "to": {}, "was": {}, "were": {}, "with": {},
	"about": {}, "after": {}, "also": {}, "been": {}, "before": {}, "being": {}, "does": {},
	"doing": {}, "during": {}, "each": {}, "explain": {}, "into": {}, "more": {}, "most": {},
	"other": {}, "over": {}, "some": {}, "such": {}, "tell": {}, "than": {}, "that": {},
	"their": {}, "them": {}, "then": {}, "there": {}, "these": {}, "they": {}, "this": {},
	"those": {}, "through": {}, "what": {}, "when": {}, "where": {}, "which": {}, "while": {},
	"whom": {}, "whose": {}, "will": {}, "would": {}, "could": {}, "should": {}, "your": {},
	"book": {}, "books": {}, "chapter": {}, "page": {},
	"alors": {}, "aussi": {}, "autre": {}, "avec": {}, "avoir": {}, "cette": {}, "comme": {},
	"comment": {}, "dans": {}, "depuis": {}, "donc": {}, "elle": {}, "elles": {}, "entre": {},
	"être": {}, "leur": {}, "leurs": {}, "livre": {}, "mais": {}, "même": {},
	"nous": {}, "pour": {}, "pourquoi": {}, "quand": {}, "quel": {}, "quelle": {}, "quelles": {},
	"quels": {}, "sans": {}, "selon": {}, "sont": {}, "sous": {}, "tous": {}, "tout": {},
	"toute": {}, "toutes": {}, "très": {}, "vous": {},
}

// ExtractKeywords returns up to six distinct lowercase query terms of at least
// four letters that are not stop words, in query order.
func ExtractKeywords(query string) []string {
	var terms []string
	seen := make(map[string]struct{})
	for _, token := range filterStopwords(tokenize(query)) {
		if utf8.RuneCountInString(token) < minKeywordRunes {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		terms = append(terms, token)
		if len(terms) == maxKeywords {
			break
		}
	}
	return terms
}

// rankByLexicalScore orders keyword rows by lexical relevance to the query,
// keeping store order among equal scores.
func rankByLexicalScore(query string, rows []storage.SearchResult) {
	scores := make(map[string]float32, len(rows))
	for _, r := range rows {
		scores[r.ID] = lexicalScore(query, r.Content, r.SectionTitle)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return scores[rows[i].ID] > scores[rows[j].ID]
	})
}

// lexicalScore computes a lightweight lexical relevance score for a chunk relative to a query.
// The score is normalized to remain in a predictable range.
func lexicalScore(query, chunkText, sectionTitle string) float32 {
	queryTokens := filterStopwords(tokenize(query))
	if len(queryTokens) == 0 {
		return 0
	}

	chunkTokens := tokenize(chunkText)
	if len(chunkTokens) == 0 {
		return 0
	}

	chunkFreq := make(map[string]int, len(chunkTokens))
	for _, token := range chunkTokens {
		chunkFreq[token]++
	}

	var rawMatches int
	for _, token := range queryTokens {
		rawMatches += chunkFreq[token]
	}

	score := (float32(rawMatches) / (1 + float32(len(chunkTokens)))) * lexicalLengthScale

	if sectionTitle != "" {
		titleSet := make(map[string]struct{})
		for _, token := range tokenize(sectionTitle) {
			titleSet[token] = struct{}{}
		}
		var titleMatches int
		for _, token := range queryTokens {
			if _, ok := titleSet[token]; ok {
				titleMatches++
			}
		}
		score += float32(titleMatches) * headingMatchBonus
	}

	return min(score, maxLexicalScore)
}

// tokenize lowercases text and splits it on anything that is not a letter or digit.
func tokenize(text string) []string {
	if text == "" {
		return nil
	}

	var builder strings.Builder
	builder.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			builder.WriteRune(r)
		} else {
			builder.WriteRune(' ')
		}
	}
	tokens := strings.Fields(builder.String())
	if len(tokens) == 0 {
		return nil
	}
	return tokens
}

func filterStopwords(tokens []string) []string {
	if len(tokens) == 0 {
		return nil
	}

	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStop := lexicalStopwords[token]; isStop {
			continue
		}
		result = append(result, token)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
