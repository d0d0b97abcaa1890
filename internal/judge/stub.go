package judge

import (
	"context"
	"regexp"

	"github.com/julianshen/snipvet/internal/corpus"
)

// stubPattern maps a code regex to the verdict it implies.
type stubPattern struct {
	re  *regexp.Regexp
	cwe string
	sev string
}

var stubPatterns = []stubPattern{
	{regexp.MustCompile(`os\.system\s*\(|shell\s*=\s*True`), "CWE-78", "high"},
	{regexp.MustCompile(`pickle\.loads?\s*\(`), "CWE-502", "high"},
	{regexp.MustCompile(`execute\s*\(\s*f?"[^"]*(SELECT|INSERT|UPDATE|DELETE)`), "CWE-89", "high"},
	{regexp.MustCompile(`\beval\s*\(`), "CWE-95", "medium"},
}

// StubJudge is a deterministic pattern-based judge for tests and offline
// runs. It never errs and never needs a network.
type StubJudge struct{}

func (StubJudge) JudgeSide(_ context.Context, code string) (*corpus.SideJudgment, error) {
	for _, p := range stubPatterns {
		if p.re.MatchString(code) {
			return &corpus.SideJudgment{
				IsVulnerable:  true,
				Severity:      p.sev,
				CWECandidates: []string{p.cwe},
				Rationale:     "matched " + p.re.String(),
			}, nil
		}
	}
	return &corpus.SideJudgment{Severity: "none"}, nil
}
