package pipeline

import (
	"regexp"

	"github.com/julianshen/snipvet/internal/corpus"
)

var tokenRe = regexp.MustCompile(`[A-Za-z_][A-Za-z_0-9]*|\d+|\S`)

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range tokenRe.FindAllString(text, -1) {
		set[tok] = true
	}
	return set
}

// Jaccard returns intersection over union for two token sets. Two empty
// sets count as identical.
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	inter := 0
	for tok := range a {
		if b[tok] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// DedupSnippets suppresses near-duplicate snippets: a snippet whose token
// Jaccard similarity with any earlier kept snippet meets the threshold is
// dropped. Input order decides the winner, so callers sort first.
func DedupSnippets(snippets []corpus.VerifiedSnippet, threshold float64) ([]corpus.VerifiedSnippet, int) {
	var kept []corpus.VerifiedSnippet
	var sigs []map[string]bool
	dropped := 0

	for _, s := range snippets {
		toks := tokenSet(s.Text)
		dup := false
		for _, sig := range sigs {
			if Jaccard(toks, sig) >= threshold {
				dup = true
				break
			}
		}
		if dup {
			dropped++
			continue
		}
		kept = append(kept, s)
		sigs = append(sigs, toks)
	}
	return kept, dropped
}
