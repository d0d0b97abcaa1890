package prototype

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/julianshen/snipvet/internal/corpus"
)

// ErrBelowThreshold is the recoverable drop reason for candidates whose best
// margin does not clear the keep threshold.
var ErrBelowThreshold = errors.New("prototype: margin below threshold")

// Scorer ranks trimmed candidates by embedding margin against the prototype
// set. Safe for concurrent use; candidate embeddings are cached per text.
type Scorer struct {
	set       *Set
	embedder  Embedder
	threshold float64

	mu    sync.Mutex
	cache map[string][]float32
}

// NewScorer creates a Scorer over the given set and embedding backend.
// Candidates with margin below threshold are dropped.
func NewScorer(set *Set, embedder Embedder, threshold float64) *Scorer {
	return &Scorer{
		set:       set,
		embedder:  embedder,
		threshold: threshold,
		cache:     make(map[string][]float32),
	}
}

// Score embeds the candidate text and computes its margin. When the CWE hint
// names categories the set knows, only those are scored; otherwise margin is
// computed against every category independently. The best-margin category
// becomes the candidate motif and the assignment is final.
func (s *Scorer) Score(ctx context.Context, cand corpus.Candidate) (corpus.ScoredCandidate, error) {
	vec, err := s.embed(ctx, cand.Text)
	if err != nil {
		return corpus.ScoredCandidate{}, err
	}

	categories := s.hintedCategories(cand.CWEHints)
	if len(categories) == 0 {
		return corpus.ScoredCandidate{}, fmt.Errorf("prototype: set has no categories")
	}

	best := corpus.ScoredCandidate{Candidate: cand}
	found := false
	for _, cwe := range categories {
		pos, neg := s.set.margin(cwe, vec)
		margin := pos - neg
		if !found || margin > best.Margin {
			found = true
			best.PosSim = pos
			best.NegSim = neg
			best.Margin = margin
			best.MotifCWE = cwe
		}
	}

	if best.Margin < s.threshold {
		return corpus.ScoredCandidate{}, fmt.Errorf("%w: %.4f < %.4f (motif %s)",
			ErrBelowThreshold, best.Margin, s.threshold, best.MotifCWE)
	}
	return best, nil
}

// hintedCategories resolves the candidate's CWE hints against the set. An
// absent or fully unknown hint widens scoring to all categories.
func (s *Scorer) hintedCategories(hints []string) []string {
	var known []string
	for _, h := range hints {
		if s.set.Has(h) {
			known = append(known, h)
		}
	}
	if len(known) == 0 {
		return s.set.Categories()
	}
	sort.Strings(known)
	return known
}

func (s *Scorer) embed(ctx context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	if vec, ok := s.cache[text]; ok {
		s.mu.Unlock()
		return vec, nil
	}
	s.mu.Unlock()

	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding candidate: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding candidate: got %d vectors", len(vecs))
	}

	s.mu.Lock()
	s.cache[text] = vecs[0]
	s.mu.Unlock()
	return vecs[0], nil
}

// SortScored orders candidates by margin, descending; ties prefer the
// shorter (denser) window.
func SortScored(scored []corpus.ScoredCandidate) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Margin != scored[j].Margin {
			return scored[i].Margin > scored[j].Margin
		}
		return scored[i].Window.Len() < scored[j].Window.Len()
	})
}
