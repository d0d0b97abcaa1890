package cluster

import (
	"fmt"
	"sort"

	"github.com/julianshen/snipvet/internal/corpus"
)

// SnippetGroup is one cluster of verified snippets with its descriptive
// statistics.
type SnippetGroup struct {
	Label       string   `json:"label"`
	Count       int      `json:"count"`
	DominantCWE string   `json:"dominant_cwe"`
	MeanMargin  float64  `json:"mean_margin"`
	SnippetIDs  []string `json:"snippet_ids"`
}

// GroupSnippets clusters snippet embeddings and summarizes each group.
// Labels are assigned by each group's first member in input order, so a
// fixed input and seed always produce the same report.
func GroupSnippets(c Clusterer, snippets []corpus.VerifiedSnippet, vectors [][]float32, k int, seed int64) ([]SnippetGroup, error) {
	if len(snippets) != len(vectors) {
		return nil, fmt.Errorf("%d snippets but %d vectors", len(snippets), len(vectors))
	}
	if len(snippets) == 0 {
		return nil, nil
	}

	raw, err := c.Cluster(vectors, k, seed)
	if err != nil {
		return nil, err
	}
	labels := relabel(raw)

	groups := make(map[int]*SnippetGroup)
	cweCounts := make(map[int]map[string]int)
	for i, s := range snippets {
		g, ok := groups[labels[i]]
		if !ok {
			g = &SnippetGroup{Label: fmt.Sprintf("G%02d", labels[i])}
			groups[labels[i]] = g
			cweCounts[labels[i]] = make(map[string]int)
		}
		g.Count++
		g.MeanMargin += s.Margin
		g.SnippetIDs = append(g.SnippetIDs, s.ID)
		if s.MotifCWE != "" {
			cweCounts[labels[i]][s.MotifCWE]++
		}
	}

	out := make([]SnippetGroup, 0, len(groups))
	for id, g := range groups {
		g.MeanMargin /= float64(g.Count)
		g.DominantCWE = dominant(cweCounts[id])
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

// Assignments converts group output back to flat per-snippet records for
// NDJSON emission.
func Assignments(groups []SnippetGroup) []corpus.ClusterAssignment {
	var out []corpus.ClusterAssignment
	for gi, g := range groups {
		for _, id := range g.SnippetIDs {
			out = append(out, corpus.ClusterAssignment{SnippetID: id, Cluster: gi})
		}
	}
	return out
}

// relabel renumbers cluster ids by order of first appearance, detaching the
// report from whatever internal numbering the clusterer picked.
func relabel(raw []int) []int {
	next := 0
	seen := make(map[int]int)
	out := make([]int, len(raw))
	for i, id := range raw {
		stable, ok := seen[id]
		if !ok {
			stable = next
			seen[id] = stable
			next++
		}
		out[i] = stable
	}
	return out
}

// dominant returns the most frequent CWE, breaking count ties by identifier
// order so the result never depends on map iteration.
func dominant(counts map[string]int) string {
	best, bestCount := "", -1
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if counts[k] > bestCount {
			best, bestCount = k, counts[k]
		}
	}
	return best
}

// ConsensusRow is one cell of the combination-key by pair-verdict matrix.
type ConsensusRow struct {
	Combo     string  `json:"combo"`
	Verdict   string  `json:"verdict"`
	Count     int     `json:"count"`
	MeanTrust float64 `json:"mean_trust"`
}

// ConsensusMatrix groups aggregated pair records by (combination key,
// pair verdict) and reports count and mean trust per cell, sorted by combo
// then verdict.
func ConsensusMatrix(records []corpus.PairRecord) []ConsensusRow {
	type cell struct {
		count int
		trust float64
	}
	cells := make(map[[2]string]*cell)
	for _, r := range records {
		key := [2]string{r.Combo, r.LLM.Judge.PairVerdict}
		c, ok := cells[key]
		if !ok {
			c = &cell{}
			cells[key] = c
		}
		c.count++
		c.trust += r.TrustScore
	}

	rows := make([]ConsensusRow, 0, len(cells))
	for key, c := range cells {
		rows = append(rows, ConsensusRow{
			Combo:     key[0],
			Verdict:   key[1],
			Count:     c.count,
			MeanTrust: c.trust / float64(c.count),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Combo != rows[j].Combo {
			return rows[i].Combo < rows[j].Combo
		}
		return rows[i].Verdict < rows[j].Verdict
	})
	return rows
}
