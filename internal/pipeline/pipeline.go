// Package pipeline orchestrates the snippet reduction stages over a bounded
// worker pool. Files and pairs are independent units of work; a failing unit
// is recorded and skipped, never aborting the batch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/julianshen/snipvet/internal/corpus"
	"github.com/julianshen/snipvet/internal/guardrail"
	"github.com/julianshen/snipvet/internal/prototype"
	"github.com/julianshen/snipvet/internal/sink"
	"github.com/julianshen/snipvet/internal/trim"
)

// ItemError records one unit of work that failed a stage for a recoverable
// reason other than a policy drop.
type ItemError struct {
	Stage string `json:"stage"`
	Item  string `json:"item"`
	Err   error  `json:"-"`
	Cause string `json:"cause"`
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Item, e.Err)
}

// Stats counts items processed and dropped at each stage so that no data
// loss is silent.
type Stats struct {
	Files        int `json:"files"`
	Candidates   int `json:"candidates"`
	TrimDropped  int `json:"trim_dropped"`
	ScoreDropped int `json:"score_dropped"`
	Rejected     int `json:"rejected"`
	Verified     int `json:"verified"`
	Duplicates   int `json:"duplicates"`
	Errored      int `json:"errored"`
}

// Result is one reduction run: the final snippets, both verified and
// rejected, plus the batch summary.
type Result struct {
	RunID    string                   `json:"run_id"`
	Stats    Stats                    `json:"stats"`
	Snippets []corpus.VerifiedSnippet `json:"-"`
	Errors   []ItemError              `json:"errors,omitempty"`
}

// Reducer runs stages 1 through 4 (detect, trim, score, verify) over source
// files.
type Reducer struct {
	detector    *sink.Detector
	trimmer     *trim.Trimmer
	scorer      *prototype.Scorer
	verifier    *guardrail.Verifier
	concurrency int
	dedup       float64
}

// ReducerOptions configures a Reducer. Zero values fall back to one worker
// and no near-duplicate suppression.
type ReducerOptions struct {
	Concurrency int
	// DedupThreshold drops a verified snippet whose token-set Jaccard
	// similarity with an earlier kept one meets the threshold. Zero
	// disables deduplication.
	DedupThreshold float64
}

func NewReducer(d *sink.Detector, t *trim.Trimmer, s *prototype.Scorer, v *guardrail.Verifier, opts ReducerOptions) *Reducer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Reducer{
		detector:    d,
		trimmer:     t,
		scorer:      s,
		verifier:    v,
		concurrency: opts.Concurrency,
		dedup:       opts.DedupThreshold,
	}
}

// Run pushes every file through the reduction stages. The returned snippets
// are sorted by source identity so a fixed input yields a byte-identical
// report regardless of worker scheduling.
func (r *Reducer) Run(ctx context.Context, files []*corpus.SourceFile) Result {
	res := Result{RunID: uuid.NewString()}

	p := pool.New().WithMaxGoroutines(r.concurrency)
	var mu sync.Mutex

	for _, f := range files {
		f := f
		p.Go(func() {
			snippets, stats, errs := r.reduceFile(ctx, f)
			mu.Lock()
			defer mu.Unlock()
			res.Snippets = append(res.Snippets, snippets...)
			res.Errors = append(res.Errors, errs...)
			mergeStats(&res.Stats, stats)
		})
	}
	p.Wait()

	SortSnippets(res.Snippets)
	if r.dedup > 0 {
		kept, dropped := DedupSnippets(res.Snippets, r.dedup)
		res.Snippets = kept
		res.Stats.Duplicates = dropped
	}
	res.Stats.Errored = len(res.Errors)
	return res
}

func (r *Reducer) reduceFile(ctx context.Context, f *corpus.SourceFile) ([]corpus.VerifiedSnippet, Stats, []ItemError) {
	stats := Stats{Files: 1}
	var out []corpus.VerifiedSnippet
	var errs []ItemError

	for _, cand := range r.detector.Detect(f) {
		stats.Candidates++

		trimmed, err := r.trimmer.Trim(f, cand)
		if err != nil {
			if trim.IsDrop(err) {
				stats.TrimDropped++
			} else {
				errs = append(errs, itemError("trim", cand.ID, err))
			}
			continue
		}

		scored, err := r.scorer.Score(ctx, trimmed)
		if err != nil {
			if errors.Is(err, prototype.ErrBelowThreshold) {
				stats.ScoreDropped++
			} else {
				errs = append(errs, itemError("score", cand.ID, err))
			}
			continue
		}

		snippet := r.verifier.Apply(scored)
		if snippet.Verified {
			stats.Verified++
		} else {
			stats.Rejected++
		}
		out = append(out, snippet)
	}
	return out, stats, errs
}

func itemError(stage, item string, err error) ItemError {
	return ItemError{Stage: stage, Item: item, Err: err, Cause: err.Error()}
}

func mergeStats(dst *Stats, src Stats) {
	dst.Files += src.Files
	dst.Candidates += src.Candidates
	dst.TrimDropped += src.TrimDropped
	dst.ScoreDropped += src.ScoreDropped
	dst.Rejected += src.Rejected
	dst.Verified += src.Verified
}

// SortSnippets orders snippets by source identity, then window, then id.
func SortSnippets(snippets []corpus.VerifiedSnippet) {
	sort.Slice(snippets, func(i, j int) bool {
		a, b := snippets[i], snippets[j]
		if a.Source.Path != b.Source.Path {
			return a.Source.Path < b.Source.Path
		}
		if a.Window.StartLine != b.Window.StartLine {
			return a.Window.StartLine < b.Window.StartLine
		}
		if a.Window.EndLine != b.Window.EndLine {
			return a.Window.EndLine < b.Window.EndLine
		}
		return a.ID < b.ID
	})
}
