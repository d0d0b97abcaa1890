package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianshen/snipvet/internal/corpus"
)

func finding(name string, vulnerable bool) corpus.DetectorFinding {
	return corpus.DetectorFinding{Detector: name, Available: true, IsVulnerable: vulnerable}
}

func TestTrustTableExhaustive(t *testing.T) {
	tests := []struct {
		fired []string
		want  float64
	}{
		{nil, 0.0},
		{[]string{"bandit"}, 0.2},
		{[]string{"semgrep"}, 0.2},
		{[]string{"codeql"}, 0.2},
		{[]string{"llm"}, 0.3},
		{[]string{"bandit", "semgrep"}, 0.5},
		{[]string{"bandit", "codeql"}, 0.5},
		{[]string{"semgrep", "codeql"}, 0.5},
		{[]string{"bandit", "llm"}, 0.6},
		{[]string{"semgrep", "llm"}, 0.6},
		{[]string{"codeql", "llm"}, 0.6},
		{[]string{"bandit", "semgrep", "codeql"}, 0.5},
		{[]string{"bandit", "semgrep", "llm"}, 0.8},
		{[]string{"bandit", "codeql", "llm"}, 0.8},
		{[]string{"semgrep", "codeql", "llm"}, 0.8},
		{[]string{"bandit", "semgrep", "codeql", "llm"}, 1.0},
	}

	for _, tt := range tests {
		findings := make([]corpus.DetectorFinding, 0, 4)
		firedSet := map[string]bool{}
		for _, name := range tt.fired {
			firedSet[name] = true
		}
		for _, name := range corpus.KnownDetectors() {
			findings = append(findings, finding(name, firedSet[name]))
		}

		key, err := CombinationKey(findings)
		require.NoError(t, err)
		score, err := TrustScore(key)
		require.NoError(t, err)
		assert.Equal(t, tt.want, score, "fired=%v key=%s", tt.fired, key)
	}
}

func TestCombinationKeyDeterministicOrder(t *testing.T) {
	findings := []corpus.DetectorFinding{
		finding("semgrep", true),
		finding("bandit", true),
		finding("llm", true),
	}
	key, err := CombinationKey(findings)
	require.NoError(t, err)
	assert.Equal(t, "bandit+llm+semgrep", key)

	// Same set, different order, same key.
	reversed := []corpus.DetectorFinding{findings[2], findings[0], findings[1]}
	key2, err := CombinationKey(reversed)
	require.NoError(t, err)
	assert.Equal(t, key, key2)
}

func TestCombinationKeyUnavailableIsNotFalse(t *testing.T) {
	// codeql timed out: it is absent from the key, not a disagreement.
	findings := []corpus.DetectorFinding{
		finding("bandit", true),
		finding("semgrep", true),
		{Detector: "codeql", Available: false},
		finding("llm", true),
	}
	key, err := CombinationKey(findings)
	require.NoError(t, err)
	assert.Equal(t, "bandit+llm+semgrep", key)

	score, err := TrustScore(key)
	require.NoError(t, err)
	assert.Equal(t, 0.8, score)
}

func TestCombinationKeyUnknownDetectorFailsLoudly(t *testing.T) {
	_, err := CombinationKey([]corpus.DetectorFinding{finding("snyk", true)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownDetector)
	assert.Contains(t, err.Error(), "snyk")
}

func TestTrustScoreUnknownCombination(t *testing.T) {
	_, err := TrustScore("bandit+snyk")
	assert.ErrorIs(t, err, ErrUnknownCombination)
}

func TestPairVerdict(t *testing.T) {
	vuln := &corpus.SideJudgment{IsVulnerable: true}
	clean := &corpus.SideJudgment{IsVulnerable: false}

	assert.Equal(t, VerdictMitigated, PairVerdict(vuln, clean))
	assert.Equal(t, VerdictRegressed, PairVerdict(clean, vuln))
	assert.Equal(t, VerdictUnchanged, PairVerdict(vuln, vuln))
	assert.Equal(t, VerdictUnchanged, PairVerdict(clean, clean))
	assert.Equal(t, VerdictUnchanged, PairVerdict(nil, nil))
	assert.Equal(t, VerdictUnchanged, PairVerdict(nil, clean))
}

func newPair() *corpus.PairRecord {
	return &corpus.PairRecord{
		Key: corpus.PairKey{Owner: "acme", Repo: "app", File: "db.py"},
		Static: corpus.StaticRecord{
			Evidence: corpus.StaticEvidence{
				BanditBefore:  []corpus.ToolFinding{{RuleID: "B608", CWEs: []string{"CWE-89"}}},
				SemgrepBefore: []corpus.ToolFinding{{RuleID: "sqli", CWEs: []string{"CWE-89"}}},
			},
		},
		LLM: corpus.LLMRecord{
			VulnerableCode: `cursor.execute("SELECT * FROM t WHERE id=" + uid)`,
			SecureCode:     `cursor.execute("SELECT * FROM t WHERE id=?", (uid,))`,
			Judge: corpus.LLMJudgment{
				Before: &corpus.SideJudgment{IsVulnerable: true, CWECandidates: []string{"CWE-89"}},
				After:  &corpus.SideJudgment{IsVulnerable: false},
			},
		},
	}
}

func TestAggregateFillsDerivedFields(t *testing.T) {
	rec := newPair()
	agg := NewAggregator()
	require.NoError(t, agg.Aggregate(rec))

	assert.Equal(t, "bandit+llm+semgrep", rec.Combo)
	assert.Equal(t, 0.8, rec.TrustScore)
	assert.Equal(t, VerdictMitigated, rec.LLM.Judge.PairVerdict)
	assert.Equal(t, []string{"CWE-89"}, rec.BeforeCWEs)
	assert.True(t, rec.Static.IsVulnerable)
	assert.True(t, rec.Key.Complete())
}

func TestAggregateIdempotent(t *testing.T) {
	agg := NewAggregator()

	a := newPair()
	require.NoError(t, agg.Aggregate(a))
	b := newPair()
	require.NoError(t, agg.Aggregate(b))
	require.NoError(t, agg.Aggregate(b))

	assert.Equal(t, a, b)
}

func TestAggregateVerdictIndependentOfTrust(t *testing.T) {
	rec := &corpus.PairRecord{
		Key: corpus.PairKey{Owner: "o", Repo: "r", File: "f"},
		LLM: corpus.LLMRecord{
			VulnerableCode: "x",
			SecureCode:     "y",
			Judge: corpus.LLMJudgment{
				// Vulnerable on both sides with no static evidence: low
				// trust, and the verdict is still computed.
				Before: &corpus.SideJudgment{IsVulnerable: true},
				After:  &corpus.SideJudgment{IsVulnerable: true},
			},
		},
	}
	// Only the LLM fired; trust is 0.3, verdict unchanged.
	require.NoError(t, NewAggregator().Aggregate(rec))
	assert.Equal(t, "llm", rec.Combo)
	assert.Equal(t, 0.3, rec.TrustScore)
	assert.Equal(t, VerdictUnchanged, rec.LLM.Judge.PairVerdict)

	// No detector at all: trust 0.0 but a mitigation verdict still appears.
	rec2 := &corpus.PairRecord{
		Key: corpus.PairKey{Owner: "o", Repo: "r", File: "f"},
		LLM: corpus.LLMRecord{
			VulnerableCode: "x", SecureCode: "y",
			Judge: corpus.LLMJudgment{
				Before: &corpus.SideJudgment{IsVulnerable: false},
				After:  &corpus.SideJudgment{IsVulnerable: false},
			},
		},
	}
	require.NoError(t, NewAggregator().Aggregate(rec2))
	assert.Equal(t, "none", rec2.Combo)
	assert.Equal(t, 0.0, rec2.TrustScore)
	assert.Equal(t, VerdictUnchanged, rec2.LLM.Judge.PairVerdict)
}

func TestAggregateRejectsIncompleteKey(t *testing.T) {
	rec := &corpus.PairRecord{
		Key: corpus.PairKey{Owner: "o"}, // repo and file missing
		LLM: corpus.LLMRecord{VulnerableCode: "x", SecureCode: "y"},
	}
	err := NewAggregator().Aggregate(rec)
	assert.ErrorIs(t, err, ErrIncompleteKey)
}
