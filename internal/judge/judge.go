// Package judge produces per-side LLM verdicts for before/after code pairs
// and applies a post-judgment guardrail rule pack that overrides the model on
// a small set of high-signal patterns.
package judge

import (
	"context"

	"github.com/julianshen/snipvet/internal/corpus"
)

// Judge evaluates one code sample and returns its security verdict. A nil
// error with a non-nil judgment is the only success shape; callers treat a
// failed call as a missing vote, never as "not vulnerable".
type Judge interface {
	JudgeSide(ctx context.Context, code string) (*corpus.SideJudgment, error)
}

// JudgePair runs the judge on both sides of a pair and stores the results.
// A failure on one side leaves that side's judgment nil and does not abort
// the other side; the first error is returned so callers can count it.
func JudgePair(ctx context.Context, j Judge, rec *corpus.PairRecord) error {
	before, errB := j.JudgeSide(ctx, rec.LLM.VulnerableCode)
	if errB == nil {
		rec.LLM.Judge.Before = before
	}
	after, errA := j.JudgeSide(ctx, rec.LLM.SecureCode)
	if errA == nil {
		rec.LLM.Judge.After = after
	}
	if errB != nil {
		return errB
	}
	return errA
}
