package prototype

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/julianshen/snipvet/internal/corpus"
)

// ErrEmptyBank is a policy error: a category without positive exemplars
// cannot be scored and the run must not guess.
var ErrEmptyBank = errors.New("prototype: category has no positive exemplars")

// Exemplar is one prototype bank entry as stored on disk.
type Exemplar struct {
	Code string `json:"code"`
	CWE  string `json:"cwe"`
}

// bank holds the embedded exemplars of one polarity for one category.
type bank struct {
	vectors [][]float32
}

// category holds both banks for one CWE.
type category struct {
	positives bank
	negatives bank
}

// Set is a per-CWE collection of positive and hard-negative exemplar
// embeddings. Built once at startup and read-only thereafter.
type Set struct {
	categories map[string]*category
}

// LoadExemplars reads one NDJSON bank file of {code, cwe} entries.
func LoadExemplars(path string) ([]Exemplar, error) {
	exemplars, failures, err := corpus.ReadNDJSONFile[Exemplar](path)
	if err != nil {
		return nil, err
	}
	if len(failures) > 0 {
		return nil, fmt.Errorf("prototype bank %s: %w", path, failures[0])
	}
	return exemplars, nil
}

// BuildSet embeds both exemplar banks and groups them by CWE. Every category
// that appears (in either bank) must have at least one positive exemplar;
// otherwise BuildSet fails with ErrEmptyBank rather than producing a set that
// silently cannot score.
func BuildSet(ctx context.Context, embedder Embedder, positives, negatives []Exemplar) (*Set, error) {
	set := &Set{categories: make(map[string]*category)}

	if err := set.addBank(ctx, embedder, positives, true); err != nil {
		return nil, err
	}
	if err := set.addBank(ctx, embedder, negatives, false); err != nil {
		return nil, err
	}

	for cwe, cat := range set.categories {
		if len(cat.positives.vectors) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrEmptyBank, cwe)
		}
	}
	return set, nil
}

func (s *Set) addBank(ctx context.Context, embedder Embedder, exemplars []Exemplar, positive bool) error {
	if len(exemplars) == 0 {
		return nil
	}
	texts := make([]string, len(exemplars))
	for i, ex := range exemplars {
		texts[i] = ex.Code
	}
	vectors, err := embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding prototype bank: %w", err)
	}

	for i, ex := range exemplars {
		cat, ok := s.categories[ex.CWE]
		if !ok {
			cat = &category{}
			s.categories[ex.CWE] = cat
		}
		if positive {
			cat.positives.vectors = append(cat.positives.vectors, vectors[i])
		} else {
			cat.negatives.vectors = append(cat.negatives.vectors, vectors[i])
		}
	}
	return nil
}

// Categories returns all category names, sorted.
func (s *Set) Categories() []string {
	out := make([]string, 0, len(s.categories))
	for cwe := range s.categories {
		out = append(out, cwe)
	}
	sort.Strings(out)
	return out
}

// Has reports whether the set contains the given category.
func (s *Set) Has(cwe string) bool {
	_, ok := s.categories[cwe]
	return ok
}

// margin computes max positive similarity and max negative similarity for an
// embedded candidate against one category's banks. An empty bank contributes
// zero, so categories without hard negatives still rank by positive pull.
func (s *Set) margin(cwe string, vec []float32) (pos, neg float64) {
	cat := s.categories[cwe]
	if cat == nil {
		return 0, 0
	}
	return maxSim(vec, cat.positives.vectors), maxSim(vec, cat.negatives.vectors)
}

func maxSim(vec []float32, bank [][]float32) float64 {
	if len(bank) == 0 {
		return 0
	}
	best := math.Inf(-1)
	for _, b := range bank {
		if sim := Cosine(vec, b); sim > best {
			best = sim
		}
	}
	return best
}
