package prototype

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianshen/snipvet/internal/corpus"
)

var (
	shellPositives = []Exemplar{
		{Code: "cmd = request.args['cmd']\nsubprocess.run(cmd, shell=True)", CWE: "CWE-78"},
		{Code: "os.system(user_input)", CWE: "CWE-78"},
	}
	shellNegatives = []Exemplar{
		{Code: "subprocess.run(['ls', '-la'], shell=False)", CWE: "CWE-78"},
	}
	sqlPositives = []Exemplar{
		{Code: "cursor.execute('SELECT * FROM users WHERE id = ' + user_id)", CWE: "CWE-89"},
	}
)

func buildTestSet(t *testing.T) *Set {
	t.Helper()
	set, err := BuildSet(context.Background(), NewHashEmbedder(128),
		append(shellPositives, sqlPositives...), shellNegatives)
	require.NoError(t, err)
	return set
}

func TestBuildSetRejectsEmptyPositives(t *testing.T) {
	// A category seen only in the negative bank has zero positives.
	_, err := BuildSet(context.Background(), NewHashEmbedder(64),
		sqlPositives, shellNegatives)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyBank)
	assert.Contains(t, err.Error(), "CWE-78")
}

func TestScoreAssignsBestMarginMotif(t *testing.T) {
	set := buildTestSet(t)
	scorer := NewScorer(set, NewHashEmbedder(128), -1)

	cand := corpus.Candidate{
		Text:     "cmd = request.args['cmd']\nsubprocess.run(cmd, shell=True)",
		CWEHints: []string{"CWE-78", "CWE-89"},
	}
	scored, err := scorer.Score(context.Background(), cand)
	require.NoError(t, err)

	assert.Equal(t, "CWE-78", scored.MotifCWE)
	assert.Greater(t, scored.Margin, 0.0)
	assert.InDelta(t, scored.PosSim-scored.NegSim, scored.Margin, 1e-9)
}

func TestScoreUnknownHintFallsBackToAllCategories(t *testing.T) {
	set := buildTestSet(t)
	scorer := NewScorer(set, NewHashEmbedder(128), -1)

	cand := corpus.Candidate{
		Text:     "cursor.execute('SELECT * FROM users WHERE id = ' + user_id)",
		CWEHints: []string{"CWE-9999"},
	}
	scored, err := scorer.Score(context.Background(), cand)
	require.NoError(t, err)
	assert.Equal(t, "CWE-89", scored.MotifCWE)
}

func TestScoreDropsBelowThreshold(t *testing.T) {
	set := buildTestSet(t)
	scorer := NewScorer(set, NewHashEmbedder(128), 0.99)

	cand := corpus.Candidate{
		Text:     "completely unrelated text about gardening",
		CWEHints: []string{"CWE-78"},
	}
	_, err := scorer.Score(context.Background(), cand)
	assert.ErrorIs(t, err, ErrBelowThreshold)
}

func TestMarginSymmetricUnderBankSwap(t *testing.T) {
	ctx := context.Background()
	emb := NewHashEmbedder(128)

	pos := []Exemplar{{Code: "os.system(cmd)", CWE: "CWE-78"}}
	neg := []Exemplar{{Code: "subprocess.run(['ls'])", CWE: "CWE-78"}}

	forward, err := BuildSet(ctx, emb, pos, neg)
	require.NoError(t, err)
	backward, err := BuildSet(ctx, emb, neg, pos)
	require.NoError(t, err)

	vecs, err := emb.Embed(ctx, []string{"cmd = input()\nos.system(cmd)"})
	require.NoError(t, err)

	p1, n1 := forward.margin("CWE-78", vecs[0])
	p2, n2 := backward.margin("CWE-78", vecs[0])
	assert.InDelta(t, p1-n1, -(p2 - n2), 1e-9)
}

func TestSortScoredMarginThenWindowLength(t *testing.T) {
	scored := []corpus.ScoredCandidate{
		{Candidate: corpus.Candidate{ID: "long", Window: corpus.Window{StartLine: 1, EndLine: 10}}, Margin: 0.5},
		{Candidate: corpus.Candidate{ID: "high", Window: corpus.Window{StartLine: 1, EndLine: 5}}, Margin: 0.9},
		{Candidate: corpus.Candidate{ID: "short", Window: corpus.Window{StartLine: 1, EndLine: 3}}, Margin: 0.5},
	}
	SortScored(scored)

	assert.Equal(t, "high", scored[0].ID)
	assert.Equal(t, "short", scored[1].ID)
	assert.Equal(t, "long", scored[2].ID)
}

func TestHashEmbedderDeterministic(t *testing.T) {
	emb := NewHashEmbedder(64)
	a, err := emb.Embed(context.Background(), []string{"os.system(cmd)", "os.system(cmd)"})
	require.NoError(t, err)
	assert.Equal(t, a[0], a[1])
	assert.InDelta(t, 1.0, Cosine(a[0], a[1]), 1e-9)
}

func TestCosineEdgeCases(t *testing.T) {
	assert.Equal(t, 0.0, Cosine(nil, nil))
	assert.Equal(t, 0.0, Cosine([]float32{1, 0}, []float32{1, 0, 0}))
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
}
