package eval

import (
	"slices"
	"strings"
	"unicode"

	"github.com/brunobiangulo/labelgraph/store"
)

// RetrievalKValues are the cut-offs at which hit@k is reported.
var RetrievalKValues = []int{1, 3, 5, 10}

// normalizeText lower-cases s and folds Unicode spaces and hyphens to
// ASCII so substring matching works on extracted label text.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		case r >= '\u2010' && r <= '\u2014':
			b.WriteByte('-')
		case r == '\u200b' || r == '\u200c' || r == '\u200d' || r == '\ufeff':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// containsTerm reports whether text contains any pipe-separated
// alternative of term.
func containsTerm(text, term string) bool {
	norm := normalizeText(text)
	for _, alt := range strings.Split(term, "|") {
		if alt = normalizeText(strings.TrimSpace(alt)); alt != "" && strings.Contains(norm, alt) {
			return true
		}
	}
	return false
}

// isRelevant checks a retrieved chunk against the case's expectations.
func isRelevant(r store.SearchResult, c Case) bool {
	if len(c.ExpectedChunkTypes) > 0 && !slices.Contains(c.ExpectedChunkTypes, r.ChunkType) {
		return false
	}
	if len(c.ExpectedProducts) > 0 && !slices.Contains(c.ExpectedProducts, r.ProductNumber) {
		return false
	}
	if len(c.ExpectedTerms) == 0 {
		return true
	}
	for _, t := range c.ExpectedTerms {
		if containsTerm(r.Text, t) {
			return true
		}
	}
	return false
}

// hitAtK is 1 when any of the first k results is relevant.
func hitAtK(relevant []bool, k int) float64 {
	for _, ok := range relevant[:min(k, len(relevant))] {
		if ok {
			return 1
		}
	}
	return 0
}

// reciprocalRank is 1/rank of the first relevant result, or 0.
func reciprocalRank(relevant []bool) float64 {
	for i, ok := range relevant {
		if ok {
			return 1 / float64(i+1)
		}
	}
	return 0
}

// termRecall is the fraction of expected terms found in any result.
// A case without terms scores 1.
func termRecall(results []store.SearchResult, terms []string) float64 {
	if len(terms) == 0 {
		return 1
	}
	found := 0
	for _, t := range terms {
		for _, r := range results {
			if containsTerm(r.Text, t) {
				found++
				break
			}
		}
	}
	return float64(found) / float64(len(terms))
}
