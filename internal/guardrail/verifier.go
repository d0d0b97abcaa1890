// Package guardrail re-checks trimmed candidates with a mechanism independent
// of the sink registry: a source-to-sink taint heuristic plus sanitizer
// detection. A candidate that only re-triggers the pattern that produced it
// is weak evidence; requiring a second, structurally different signal rejects
// false survivors of trimming.
package guardrail

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/julianshen/snipvet/internal/corpus"
)

// RejectReason classifies why the guardrail rejected a candidate.
type RejectReason string

const (
	// ReasonSinkRemoved: trimming lost the sink token itself.
	ReasonSinkRemoved RejectReason = "sink_removed_by_trim"
	// ReasonSanitizer: a sanitizing call survives in the trimmed window, so
	// the risk is likely neutralized.
	ReasonSanitizer RejectReason = "sanitizer_present"
	// ReasonNoTaintPath: no untrusted source reaches the window.
	ReasonNoTaintPath RejectReason = "no_taint_path"
)

// Result is the guardrail's verdict with structural evidence when confirmed.
type Result struct {
	Confirmed bool
	Evidence  string
	Reason    RejectReason
}

// untrustedSources matches typical entry points for attacker-controlled data.
var untrustedSources = regexp.MustCompile(
	`(input\s*\(|sys\.argv|os\.environ|request\.|flask\.request|django\.request|` +
		`req\.(query|params|body|args)|process\.argv|os\.Args|r\.(URL|Form|Body|Header))`)

// sanitizers lists calls and idioms that neutralize common sink classes.
var sanitizers = []string{
	"shlex.quote",
	"pipes.quote",
	"html.escape",
	"escape(",
	"re.escape",
	"quote_plus",
	"ast.literal_eval",
	"yaml.safe_load",
	"secure_filename",
	"parameterize",
	"sanitize",
	"shell=False",
	"shlex.split",
	"filepath.Clean",
	"sql.Named",
}

// Verifier confirms or rejects trimmed candidates.
type Verifier struct{}

// NewVerifier creates a Verifier with the built-in source and sanitizer sets.
func NewVerifier() *Verifier {
	return &Verifier{}
}

// Verify checks the candidate's trimmed text. The decision order matters:
// a vanished sink is a trimming defect regardless of taint, and a surviving
// sanitizer disqualifies even a tainted window.
func (v *Verifier) Verify(sc corpus.ScoredCandidate) Result {
	text := sc.Text

	if sc.SinkToken == "" || !strings.Contains(text, sc.SinkToken) {
		return Result{Reason: ReasonSinkRemoved}
	}

	for _, s := range sanitizers {
		if strings.Contains(text, s) {
			return Result{
				Reason:   ReasonSanitizer,
				Evidence: s,
			}
		}
	}

	src := untrustedSources.FindString(text)
	if src == "" {
		return Result{Reason: ReasonNoTaintPath}
	}

	return Result{
		Confirmed: true,
		Evidence:  fmt.Sprintf("source %q reaches sink %q", src, sc.SinkToken),
	}
}

// Apply runs the guardrail and folds the result into a VerifiedSnippet
// record, keeping rejected candidates observable rather than silently lost.
func (v *Verifier) Apply(sc corpus.ScoredCandidate) corpus.VerifiedSnippet {
	res := v.Verify(sc)
	return corpus.VerifiedSnippet{
		ScoredCandidate: sc,
		Verified:        res.Confirmed,
		Evidence:        res.Evidence,
		RejectReason:    string(res.Reason),
	}
}
