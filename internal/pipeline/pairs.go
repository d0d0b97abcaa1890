package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/julianshen/snipvet/internal/corpus"
	"github.com/julianshen/snipvet/internal/detector"
	"github.com/julianshen/snipvet/internal/judge"
	"github.com/julianshen/snipvet/internal/staticrun"
)

// PairStats counts pair records through the verification stages.
type PairStats struct {
	Pairs      int `json:"pairs"`
	Analyzed   int `json:"analyzed"`
	Judged     int `json:"judged"`
	Aggregated int `json:"aggregated"`
	Errored    int `json:"errored"`
}

// PairResult is one verification run over a pair corpus.
type PairResult struct {
	RunID   string              `json:"run_id"`
	Stats   PairStats           `json:"stats"`
	Records []corpus.PairRecord `json:"-"`
	Errors  []ItemError         `json:"errors,omitempty"`
}

// Verifier pushes pair records through static analysis, LLM judgment, the
// guardrail rule pack, and aggregation. Each stage is optional so the CLI
// can run and resume them independently.
type Verifier struct {
	runner      *staticrun.Runner
	judge       judge.Judge
	rules       []judge.Rule
	aggregator  *detector.Aggregator
	concurrency int
}

// VerifierOptions selects which stages run and how wide the pool is.
type VerifierOptions struct {
	Runner      *staticrun.Runner
	Judge       judge.Judge
	Rules       []judge.Rule
	Aggregator  *detector.Aggregator
	Concurrency int
}

func NewVerifier(opts VerifierOptions) *Verifier {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Verifier{
		runner:      opts.Runner,
		judge:       opts.Judge,
		rules:       opts.Rules,
		aggregator:  opts.Aggregator,
		concurrency: opts.Concurrency,
	}
}

// Run processes every pair independently. A pair failing a stage keeps
// whatever earlier stages produced; aggregation failures (policy errors)
// are recorded and the pair is excluded from the output.
func (v *Verifier) Run(ctx context.Context, records []corpus.PairRecord) PairResult {
	res := PairResult{RunID: uuid.NewString()}
	res.Stats.Pairs = len(records)

	p := pool.New().WithMaxGoroutines(v.concurrency)
	var mu sync.Mutex

	for i := range records {
		rec := records[i]
		p.Go(func() {
			keep, stats, errs := v.verifyPair(ctx, &rec)
			mu.Lock()
			defer mu.Unlock()
			if keep {
				res.Records = append(res.Records, rec)
			}
			res.Errors = append(res.Errors, errs...)
			res.Stats.Analyzed += stats.Analyzed
			res.Stats.Judged += stats.Judged
			res.Stats.Aggregated += stats.Aggregated
		})
	}
	p.Wait()

	SortPairs(res.Records)
	res.Stats.Errored = len(res.Errors)
	return res
}

func (v *Verifier) verifyPair(ctx context.Context, rec *corpus.PairRecord) (bool, PairStats, []ItemError) {
	var stats PairStats
	var errs []ItemError
	rec.FillKey()
	item := rec.Key.Owner + "/" + rec.Key.Repo + ":" + rec.Key.File

	if v.runner != nil {
		if err := v.runner.Analyze(ctx, rec); err != nil {
			errs = append(errs, itemError("static", item, err))
		} else {
			stats.Analyzed = 1
		}
	}

	if v.judge != nil {
		if err := judge.JudgePair(ctx, v.judge, rec); err != nil {
			errs = append(errs, itemError("judge", item, err))
		} else {
			stats.Judged = 1
		}
	}
	if len(v.rules) > 0 {
		judge.ApplyRules(rec, v.rules)
	}

	if v.aggregator != nil {
		if err := v.aggregator.Aggregate(rec); err != nil {
			errs = append(errs, itemError("aggregate", item, err))
			return false, stats, errs
		}
		stats.Aggregated = 1
	}
	return true, stats, errs
}

// SortPairs orders records by their identity key.
func SortPairs(records []corpus.PairRecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i].Key, records[j].Key
		if a.Owner != b.Owner {
			return a.Owner < b.Owner
		}
		if a.Repo != b.Repo {
			return a.Repo < b.Repo
		}
		if a.File != b.File {
			return a.File < b.File
		}
		return a.BeforeSHA1 < b.BeforeSHA1
	})
}
