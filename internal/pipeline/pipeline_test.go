package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianshen/snipvet/internal/corpus"
	"github.com/julianshen/snipvet/internal/detector"
	"github.com/julianshen/snipvet/internal/guardrail"
	"github.com/julianshen/snipvet/internal/judge"
	"github.com/julianshen/snipvet/internal/prototype"
	"github.com/julianshen/snipvet/internal/sink"
	"github.com/julianshen/snipvet/internal/trim"
)

func testScorer(t *testing.T) *prototype.Scorer {
	t.Helper()
	embedder := prototype.NewHashEmbedder(64)
	set, err := prototype.BuildSet(context.Background(), embedder,
		[]prototype.Exemplar{
			{Code: "cmd = input()\nos.system(cmd)", CWE: "CWE-78"},
			{Code: "cursor.execute(\"SELECT * FROM t WHERE id=\" + uid)", CWE: "CWE-89"},
		},
		[]prototype.Exemplar{
			{Code: "subprocess.run(argv, shell=False)", CWE: "CWE-78"},
		})
	require.NoError(t, err)
	// Negative threshold keeps every scored candidate; drops are exercised
	// separately.
	return prototype.NewScorer(set, embedder, -10)
}

func testReducer(t *testing.T, opts ReducerOptions) *Reducer {
	t.Helper()
	return NewReducer(
		sink.NewDetector(sink.DefaultRegistry(), 6),
		trim.NewTrimmer(trim.DefaultConfig()),
		testScorer(t),
		guardrail.NewVerifier(),
		opts,
	)
}

func taintedFile(path string) *corpus.SourceFile {
	return &corpus.SourceFile{
		Ref:      corpus.SourceRef{Path: path},
		Language: "python",
		Text: `def job(request):
    raw = request.args["cmd"]

    cmd = raw.strip()
    os.system(cmd)
`,
	}
}

func TestReducerEndToEnd(t *testing.T) {
	r := testReducer(t, ReducerOptions{Concurrency: 4})
	res := r.Run(context.Background(), []*corpus.SourceFile{
		taintedFile("a.py"),
		taintedFile("b.py"),
	})

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 2, res.Stats.Files)
	assert.Equal(t, 2, res.Stats.Candidates)
	assert.Equal(t, 2, res.Stats.Verified)
	assert.Empty(t, res.Errors)

	require.Len(t, res.Snippets, 2)
	for _, s := range res.Snippets {
		assert.True(t, s.Verified)
		assert.Contains(t, s.Text, "os.system(cmd)")
		assert.Equal(t, "CWE-78", s.MotifCWE)
	}
}

func TestReducerDeterministicOrder(t *testing.T) {
	files := []*corpus.SourceFile{
		taintedFile("z.py"), taintedFile("a.py"), taintedFile("m.py"),
	}

	r := testReducer(t, ReducerOptions{Concurrency: 8})
	first := r.Run(context.Background(), files)
	for i := 0; i < 5; i++ {
		again := r.Run(context.Background(), files)
		require.Len(t, again.Snippets, len(first.Snippets))
		for j := range first.Snippets {
			assert.Equal(t, first.Snippets[j].ID, again.Snippets[j].ID)
			assert.Equal(t, first.Snippets[j].Source.Path, again.Snippets[j].Source.Path)
		}
	}
	assert.Equal(t, "a.py", first.Snippets[0].Source.Path)
}

func TestReducerCountsTrimDrops(t *testing.T) {
	// A sink with no input path: no chain, no untrusted source.
	file := &corpus.SourceFile{
		Ref:      corpus.SourceRef{Path: "static.py"},
		Language: "python",
		Text:     "def boot():\n    os.system(\"ls\")\n",
	}

	r := testReducer(t, ReducerOptions{})
	res := r.Run(context.Background(), []*corpus.SourceFile{file})

	assert.Equal(t, 1, res.Stats.Candidates)
	assert.Equal(t, 1, res.Stats.TrimDropped)
	assert.Empty(t, res.Snippets)
	assert.Empty(t, res.Errors)
}

func TestDedupSnippets(t *testing.T) {
	mk := func(id, text string) corpus.VerifiedSnippet {
		s := corpus.VerifiedSnippet{Verified: true}
		s.ID = id
		s.Text = text
		return s
	}
	snips := []corpus.VerifiedSnippet{
		mk("a", "cmd = input()\nos.system(cmd)"),
		mk("b", "cmd = input()\nos.system(cmd)"),
		mk("c", "rows = cursor.execute(query)"),
	}

	kept, dropped := DedupSnippets(snips, 0.9)
	assert.Equal(t, 1, dropped)
	require.Len(t, kept, 2)
	assert.Equal(t, "a", kept[0].ID, "first in sorted order wins")
	assert.Equal(t, "c", kept[1].ID)
}

func TestJaccard(t *testing.T) {
	a := tokenSet("x = input()")
	b := tokenSet("x = input()")
	assert.Equal(t, 1.0, Jaccard(a, b))
	assert.Equal(t, 1.0, Jaccard(nil, nil))
	assert.Less(t, Jaccard(a, tokenSet("totally different tokens")), 0.2)
}

func pairFixture(file string) corpus.PairRecord {
	return corpus.PairRecord{
		Key: corpus.PairKey{Owner: "acme", Repo: "svc", File: file},
		LLM: corpus.LLMRecord{
			VulnerableCode: "import os\ncmd = input()\nos.system(cmd)\n",
			SecureCode:     "import subprocess\nsubprocess.run(argv)\n",
		},
	}
}

func TestVerifierJudgeAndAggregate(t *testing.T) {
	v := NewVerifier(VerifierOptions{
		Judge:       judge.StubJudge{},
		Rules:       judge.RulePack(),
		Aggregator:  detector.NewAggregator(),
		Concurrency: 4,
	})

	res := v.Run(context.Background(), []corpus.PairRecord{
		pairFixture("b.py"), pairFixture("a.py"),
	})

	assert.Equal(t, 2, res.Stats.Pairs)
	assert.Equal(t, 2, res.Stats.Judged)
	assert.Equal(t, 2, res.Stats.Aggregated)
	assert.Empty(t, res.Errors)

	require.Len(t, res.Records, 2)
	assert.Equal(t, "a.py", res.Records[0].Key.File, "output sorted by key")
	for _, rec := range res.Records {
		assert.True(t, rec.Key.Complete(), "hashes filled from code bodies")
		assert.Equal(t, "llm", rec.Combo, "only the judge fired")
		assert.Equal(t, 0.3, rec.TrustScore)
		assert.Equal(t, detector.VerdictMitigated, rec.LLM.Judge.PairVerdict)
	}
}

func TestVerifierIncompleteKeyIsPolicyError(t *testing.T) {
	v := NewVerifier(VerifierOptions{Aggregator: detector.NewAggregator()})

	res := v.Run(context.Background(), []corpus.PairRecord{
		{LLM: corpus.LLMRecord{VulnerableCode: "a", SecureCode: "b"}},
	})

	assert.Empty(t, res.Records, "pair without identity is excluded")
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "aggregate", res.Errors[0].Stage)
}

func TestVerifierStagesAreOptional(t *testing.T) {
	v := NewVerifier(VerifierOptions{Judge: judge.StubJudge{}})

	rec := pairFixture("x.py")
	res := v.Run(context.Background(), []corpus.PairRecord{rec})

	require.Len(t, res.Records, 1)
	assert.Equal(t, 0, res.Stats.Aggregated)
	assert.NotNil(t, res.Records[0].LLM.Judge.Before)
	assert.Empty(t, res.Records[0].Combo, "no aggregation without the stage")
}
