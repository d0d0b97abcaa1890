package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianshen/snipvet/internal/corpus"
)

func blobVectors() [][]float32 {
	// Two well-separated blobs in 2D.
	return [][]float32{
		{0.1, 0.0}, {0.0, 0.2}, {0.15, 0.1},
		{5.0, 5.1}, {5.2, 4.9}, {4.8, 5.0},
	}
}

func TestKMeansSeparatesBlobs(t *testing.T) {
	labels, err := KMeans{}.Cluster(blobVectors(), 2, 42)
	require.NoError(t, err)
	require.Len(t, labels, 6)

	assert.Equal(t, labels[0], labels[1])
	assert.Equal(t, labels[0], labels[2])
	assert.Equal(t, labels[3], labels[4])
	assert.Equal(t, labels[3], labels[5])
	assert.NotEqual(t, labels[0], labels[3])
}

func TestKMeansDeterministicForSeed(t *testing.T) {
	first, err := KMeans{}.Cluster(blobVectors(), 2, 7)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := KMeans{}.Cluster(blobVectors(), 2, 7)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestKMeansTooFewVectors(t *testing.T) {
	_, err := KMeans{}.Cluster([][]float32{{1, 2}}, 3, 1)
	assert.ErrorIs(t, err, ErrNotEnoughVectors)
}

func TestKMeansDimensionMismatch(t *testing.T) {
	_, err := KMeans{}.Cluster([][]float32{{1, 2}, {1}}, 1, 1)
	assert.Error(t, err)
}

func snippet(id, cwe string, margin float64) corpus.VerifiedSnippet {
	s := corpus.VerifiedSnippet{Verified: true}
	s.ID = id
	s.MotifCWE = cwe
	s.Margin = margin
	return s
}

func TestGroupSnippetsStableLabels(t *testing.T) {
	snips := []corpus.VerifiedSnippet{
		snippet("a", "CWE-78", 0.4),
		snippet("b", "CWE-78", 0.6),
		snippet("c", "CWE-89", 0.2),
	}
	vecs := [][]float32{{0, 0}, {0.1, 0}, {9, 9}}

	groups, err := GroupSnippets(KMeans{}, snips, vecs, 2, 3)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	// The first input snippet always lands in G00 regardless of the
	// clusterer's internal numbering.
	assert.Equal(t, "G00", groups[0].Label)
	assert.Contains(t, groups[0].SnippetIDs, "a")
	assert.Equal(t, "CWE-78", groups[0].DominantCWE)
	assert.InDelta(t, 0.5, groups[0].MeanMargin, 1e-9)

	assert.Equal(t, "G01", groups[1].Label)
	assert.Equal(t, []string{"c"}, groups[1].SnippetIDs)
}

func TestGroupSnippetsLengthMismatch(t *testing.T) {
	_, err := GroupSnippets(SingleGroup{}, []corpus.VerifiedSnippet{snippet("a", "", 0)}, nil, 1, 0)
	assert.Error(t, err)
}

func TestGroupSnippetsEmpty(t *testing.T) {
	groups, err := GroupSnippets(SingleGroup{}, nil, nil, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestRelabelFirstAppearanceOrder(t *testing.T) {
	assert.Equal(t, []int{0, 1, 0, 2, 1}, relabel([]int{5, 2, 5, 9, 2}))
}

func TestDominantTieBreaksByIdentifier(t *testing.T) {
	counts := map[string]int{"CWE-89": 2, "CWE-78": 2}
	assert.Equal(t, "CWE-78", dominant(counts))
}

func pairRec(combo, verdict string, trust float64) corpus.PairRecord {
	return corpus.PairRecord{
		Combo:      combo,
		TrustScore: trust,
		LLM:        corpus.LLMRecord{Judge: corpus.LLMJudgment{PairVerdict: verdict}},
	}
}

func TestConsensusMatrix(t *testing.T) {
	rows := ConsensusMatrix([]corpus.PairRecord{
		pairRec("bandit+llm", "mitigated", 0.6),
		pairRec("bandit+llm", "mitigated", 0.6),
		pairRec("bandit+llm", "unchanged", 0.6),
		pairRec("none", "unchanged", 0.0),
	})

	require.Len(t, rows, 3)
	assert.Equal(t, ConsensusRow{Combo: "bandit+llm", Verdict: "mitigated", Count: 2, MeanTrust: 0.6}, rows[0])
	assert.Equal(t, ConsensusRow{Combo: "bandit+llm", Verdict: "unchanged", Count: 1, MeanTrust: 0.6}, rows[1])
	assert.Equal(t, ConsensusRow{Combo: "none", Verdict: "unchanged", Count: 1, MeanTrust: 0.0}, rows[2])
}

func TestAssignments(t *testing.T) {
	groups := []SnippetGroup{
		{Label: "G00", SnippetIDs: []string{"a", "b"}},
		{Label: "G01", SnippetIDs: []string{"c"}},
	}
	got := Assignments(groups)
	require.Len(t, got, 3)
	assert.Equal(t, corpus.ClusterAssignment{SnippetID: "c", Cluster: 1}, got[2])
}
