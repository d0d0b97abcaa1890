// Package detector aggregates per-detector verdicts for before/after code
// pairs into a combination key, a deterministic trust score, and a pair
// verdict. The trust table is explicit data over the full combination space:
// adding or removing a detector is a reviewable table edit, not a new branch
// in a conditional cascade.
package detector

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/julianshen/snipvet/internal/corpus"
)

// Policy errors. These abort the affected unit; the aggregator never guesses
// a default score.
var (
	// ErrUnknownDetector means a finding names a detector the trust table
	// does not enumerate.
	ErrUnknownDetector = errors.New("detector: unknown detector name")
	// ErrUnknownCombination means a combination key is missing from the
	// trust table. With the table enumerating the full power set this only
	// fires if the table itself is edited inconsistently.
	ErrUnknownCombination = errors.New("detector: combination not in trust table")
	// ErrIncompleteKey means a pair record is missing required key fields.
	ErrIncompleteKey = errors.New("detector: pair record key incomplete")
)

// Pair verdicts. Mitigation is judged from the LLM's before/after verdicts
// and is independent of detector consensus: a pair can be "mitigated" with a
// trust score of zero.
const (
	VerdictMitigated = "mitigated"
	VerdictRegressed = "regressed"
	VerdictUnchanged = "unchanged"
)

// comboNone is the combination key of the empty detector set.
const comboNone = "none"

// trustTable maps every combination of {bandit, codeql, llm, semgrep} to its
// trust score. Keys are the sorted detector names joined with "+".
var trustTable = map[string]float64{
	comboNone: 0.0,

	"bandit":  0.2,
	"codeql":  0.2,
	"semgrep": 0.2,
	"llm":     0.3,

	"bandit+codeql":  0.5,
	"bandit+semgrep": 0.5,
	"codeql+semgrep": 0.5,
	"bandit+llm":     0.6,
	"codeql+llm":     0.6,
	"llm+semgrep":    0.6,

	"bandit+codeql+semgrep": 0.5,
	"bandit+codeql+llm":     0.8,
	"bandit+llm+semgrep":    0.8,
	"codeql+llm+semgrep":    0.8,

	"bandit+codeql+llm+semgrep": 1.0,
}

// CombinationKey builds the sorted combination key from a set of findings:
// the names of detectors that are available and voted vulnerable. An
// unavailable finding is missing, not a "not vulnerable" vote, and is simply
// absent from the key. Unknown detector names are a policy error.
func CombinationKey(findings []corpus.DetectorFinding) (string, error) {
	known := make(map[string]bool, 4)
	for _, name := range corpus.KnownDetectors() {
		known[name] = true
	}

	var fired []string
	seen := make(map[string]bool, len(findings))
	for _, f := range findings {
		if !known[f.Detector] {
			return "", fmt.Errorf("%w: %q", ErrUnknownDetector, f.Detector)
		}
		if !f.Available || !f.IsVulnerable || seen[f.Detector] {
			continue
		}
		seen[f.Detector] = true
		fired = append(fired, f.Detector)
	}

	if len(fired) == 0 {
		return comboNone, nil
	}
	sort.Strings(fired)
	return strings.Join(fired, "+"), nil
}

// TrustScore looks the combination key up in the trust table.
func TrustScore(key string) (float64, error) {
	score, ok := trustTable[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCombination, key)
	}
	return score, nil
}

// PairVerdict classifies the pair's mitigation status from the LLM's
// before/after verdicts: mitigated when a vulnerable before becomes a clean
// after, regressed for the reverse, unchanged otherwise (including when a
// side judgment is missing; absence of evidence is not evidence of change).
func PairVerdict(before, after *corpus.SideJudgment) string {
	b := before != nil && before.IsVulnerable
	a := after != nil && after.IsVulnerable
	switch {
	case b && !a:
		return VerdictMitigated
	case !b && a:
		return VerdictRegressed
	default:
		return VerdictUnchanged
	}
}

// Aggregator derives the consensus fields of pair records.
type Aggregator struct{}

// NewAggregator creates an Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Aggregate fills the record's derived fields: combination key, trust score,
// pair verdict, per-side CWE unions, and the static-side summary verdict.
// Re-aggregating the same findings yields the same results.
func (a *Aggregator) Aggregate(rec *corpus.PairRecord) error {
	rec.FillKey()
	if !rec.Key.Complete() {
		return fmt.Errorf("%w: %+v", ErrIncompleteKey, rec.Key)
	}

	findings := rec.BeforeFindings()
	combo, err := CombinationKey(findings)
	if err != nil {
		return err
	}
	score, err := TrustScore(combo)
	if err != nil {
		return err
	}

	rec.Combo = combo
	rec.TrustScore = score
	rec.LLM.Judge.PairVerdict = PairVerdict(rec.LLM.Judge.Before, rec.LLM.Judge.After)
	rec.BeforeCWEs = rec.SideCWEs("before")
	rec.AfterCWEs = rec.SideCWEs("after")

	for _, f := range findings {
		if f.Detector != corpus.DetectorLLM && f.Available && f.IsVulnerable {
			rec.Static.IsVulnerable = true
			break
		}
	}
	return nil
}
