package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianshen/snipvet/internal/corpus"
)

func TestNewStoreInMemory(t *testing.T) {
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	require.NotNil(t, s)

	err = s.Close()
	assert.NoError(t, err)
}

func testSnippet(id, path string, start int) corpus.VerifiedSnippet {
	s := corpus.VerifiedSnippet{Verified: true, Evidence: "source reaches sink"}
	s.ID = id
	s.Source = corpus.SourceRef{Path: path}
	s.Window = corpus.Window{StartLine: start, EndLine: start + 3}
	s.MotifCWE = "CWE-78"
	s.Text = "cmd = input()\nos.system(cmd)"
	s.Margin = 0.42
	return s
}

func TestSaveAndGetSnippet(t *testing.T) {
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	// Missing snippet is nil, not an error.
	got, err := s.GetSnippet("nope")
	require.NoError(t, err)
	assert.Nil(t, got)

	want := testSnippet("s1", "a.py", 4)
	require.NoError(t, s.SaveSnippet(want))

	got, err = s.GetSnippet("s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, *got)
}

func TestSaveSnippetReplaces(t *testing.T) {
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	first := testSnippet("s1", "a.py", 4)
	require.NoError(t, s.SaveSnippet(first))

	second := first
	second.Margin = 0.9
	require.NoError(t, s.SaveSnippet(second))

	got, err := s.GetSnippet("s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 0.9, got.Margin)
}

func TestListSnippetsOrderAndFilter(t *testing.T) {
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	rejected := testSnippet("s3", "a.py", 1)
	rejected.Verified = false
	rejected.RejectReason = "no_taint_path"

	require.NoError(t, s.SaveSnippets([]corpus.VerifiedSnippet{
		testSnippet("s1", "b.py", 10),
		testSnippet("s2", "a.py", 20),
		rejected,
	}))

	all, err := s.ListSnippets(false)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "s3", all[0].ID)
	assert.Equal(t, "s2", all[1].ID)
	assert.Equal(t, "s1", all[2].ID)

	verified, err := s.ListSnippets(true)
	require.NoError(t, err)
	require.Len(t, verified, 2)
	for _, v := range verified {
		assert.True(t, v.Verified)
	}
}

func testPair(file string) corpus.PairRecord {
	rec := corpus.PairRecord{
		Key: corpus.PairKey{Owner: "acme", Repo: "svc", File: file},
		LLM: corpus.LLMRecord{
			VulnerableCode: "os.system(cmd)",
			SecureCode:     "subprocess.run(argv)",
		},
		Combo:      "bandit+llm",
		TrustScore: 0.6,
	}
	rec.FillKey()
	return rec
}

func TestSaveAndGetPair(t *testing.T) {
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	want := testPair("app.py")
	require.NoError(t, s.SavePair(want))

	got, err := s.GetPair(want.Key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, *got)

	missing, err := s.GetPair(corpus.PairKey{
		Owner: "acme", Repo: "svc", File: "other.py",
		BeforeSHA1: "x", AfterSHA1: "y",
	})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSavePairRejectsIncompleteKey(t *testing.T) {
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	err = s.SavePair(corpus.PairRecord{Key: corpus.PairKey{Owner: "acme"}})
	assert.Error(t, err)
}

func TestHasPairForResume(t *testing.T) {
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	rec := testPair("app.py")
	ok, err := s.HasPair(rec.Key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SavePair(rec))

	ok, err = s.HasPair(rec.Key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListPairsSorted(t *testing.T) {
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	for _, file := range []string{"c.py", "a.py", "b.py"} {
		require.NoError(t, s.SavePair(testPair(file)))
	}

	records, err := s.ListPairs()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "a.py", records[0].Key.File)
	assert.Equal(t, "b.py", records[1].Key.File)
	assert.Equal(t, "c.py", records[2].Key.File)
}

func TestSaveAndGetRun(t *testing.T) {
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	stats := map[string]int{"files": 3, "verified": 2}
	require.NoError(t, s.SaveRun("run-1", "reduce", stats))

	got, err := s.GetRun("run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "reduce", got.Kind)
	assert.JSONEq(t, `{"files":3,"verified":2}`, got.Stats)

	missing, err := s.GetRun("run-2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestManyPairsRoundTrip(t *testing.T) {
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 25; i++ {
		require.NoError(t, s.SavePair(testPair(fmt.Sprintf("f%02d.py", i))))
	}
	records, err := s.ListPairs()
	require.NoError(t, err)
	assert.Len(t, records, 25)
}
