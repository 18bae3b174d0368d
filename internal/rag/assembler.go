package rag

import (
	"fmt"
	"sort"
	"strings"

	"bookrag/internal/metrics"
	"bookrag/internal/storage"
)

const (
	// DefaultContextBudget is the token budget for passage content.
	DefaultContextBudget = 3000
	// duplicateJaccard is the word-set overlap at which a passage counts as a near duplicate.
	duplicateJaccard = 0.8
	passageSeparator = "\n\n---\n\n"
)

// TokenCounter counts model tokens.
type TokenCounter interface {
	Count(text string) int
}

// Assembler packs retrieval results into a token-bounded context.
type Assembler struct {
	tok     TokenCounter
	budget  int
	metrics *metrics.Metrics
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithBudget overrides DefaultContextBudget.
func WithBudget(tokens int) AssemblerOption {
	return func(a *Assembler) {
		if tokens > 0 {
			a.budget = tokens
		}
	}
}

// WithAssemblerMetrics sets the Prometheus collectors.
func WithAssemblerMetrics(m *metrics.Metrics) AssemblerOption {
	return func(a *Assembler) {
		a.metrics = m
	}
}

// NewAssembler creates an Assembler.
func NewAssembler(tok TokenCounter, opts ...AssemblerOption) *Assembler {
	a := &Assembler{tok: tok, budget: DefaultContextBudget}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type passage struct {
	result storage.SearchResult
	tokens int
	words  map[string]struct{}
}

// Assemble orders results by book and page, drops near duplicates and fits the
// rest into the token budget. When a passage does not fit, lower-similarity
// passages already accepted are evicted for it only if every evicted passage
// scores strictly lower and the evictions free enough room.
func (a *Assembler) Assemble(results []storage.SearchResult) Assembly {
	ordered := make([]storage.SearchResult, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].BookSlug != ordered[j].BookSlug {
			return ordered[i].BookSlug < ordered[j].BookSlug
		}
		return ordered[i].PageNumber < ordered[j].PageNumber
	})

	var accepted []passage
	used := 0
	for _, res := range ordered {
		words := wordSet(res.Content)
		if isDuplicate(words, accepted) {
			continue
		}
		p := passage{result: res, tokens: a.tok.Count(res.Content), words: words}
		if p.tokens > a.budget {
			continue
		}

		if used+p.tokens <= a.budget {
			accepted = append(accepted, p)
			used += p.tokens
			continue
		}

		evict, freed := a.evictionsFor(accepted, p, used)
		if evict == nil {
			continue
		}
		kept := accepted[:0]
		for i, q := range accepted {
			if _, drop := evict[i]; !drop {
				kept = append(kept, q)
			}
		}
		accepted = append(kept, p)
		used = used - freed + p.tokens
	}

	return a.render(accepted, used)
}

// evictionsFor picks the lowest-similarity accepted passages, all scoring strictly
// below p, whose removal makes p fit. It returns nil if no such set exists.
func (a *Assembler) evictionsFor(accepted []passage, p passage, used int) (map[int]struct{}, int) {
	order := make([]int, len(accepted))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return accepted[order[i]].result.Similarity < accepted[order[j]].result.Similarity
	})

	evict := make(map[int]struct{})
	freed := 0
	for _, idx := range order {
		if used-freed+p.tokens <= a.budget {
			break
		}
		if accepted[idx].result.Similarity >= p.result.Similarity {
			return nil, 0
		}
		evict[idx] = struct{}{}
		freed += accepted[idx].tokens
	}
	if used-freed+p.tokens > a.budget {
		return nil, 0
	}
	return evict, freed
}

func (a *Assembler) render(accepted []passage, used int) Assembly {
	out := Assembly{
		UsedChunks:  make([]storage.SearchResult, 0, len(accepted)),
		Citations:   []Citation{},
		TotalTokens: used,
	}

	type pageKey struct {
		slug string
		page int
	}
	cited := make(map[pageKey]struct{})
	blocks := make([]string, 0, len(accepted))
	for _, p := range accepted {
		r := p.result
		out.UsedChunks = append(out.UsedChunks, r)
		blocks = append(blocks, fmt.Sprintf("[Source: %s, page %d]\n%s", r.BookTitle, r.PageNumber, r.Content))

		key := pageKey{r.BookSlug, r.PageNumber}
		if _, ok := cited[key]; ok {
			continue
		}
		cited[key] = struct{}{}
		out.Citations = append(out.Citations, Citation{
			BookSlug:   r.BookSlug,
			BookTitle:  r.BookTitle,
			PageNumber: r.PageNumber,
			Similarity: r.Similarity,
		})
	}
	out.ContextText = strings.Join(blocks, passageSeparator)

	a.metrics.ObserveContextTokens(used)
	return out
}

func isDuplicate(words map[string]struct{}, accepted []passage) bool {
	for _, p := range accepted {
		if jaccard(words, p.words) >= duplicateJaccard {
			return true
		}
	}
	return false
}

func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[w] = struct{}{}
	}
	return set
}

// jaccard returns |a ∩ b| / |a ∪ b|, or 0 when both sets are empty.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
