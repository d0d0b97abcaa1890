package staticrun

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/julianshen/snipvet/internal/corpus"
)

// Timeouts carries per-tool deadlines. CodeQL builds a database per snippet
// and needs much more headroom than the scanners.
type Timeouts struct {
	Bandit  time.Duration
	Semgrep time.Duration
	CodeQL  time.Duration
}

// DefaultTimeouts returns the deadlines used when the config omits them.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Bandit:  2 * time.Minute,
		Semgrep: 5 * time.Minute,
		CodeQL:  20 * time.Minute,
	}
}

func (t Timeouts) forTool(name string) time.Duration {
	switch name {
	case corpus.DetectorBandit:
		return t.Bandit
	case corpus.DetectorSemgrep:
		return t.Semgrep
	case corpus.DetectorCodeQL:
		return t.CodeQL
	}
	return 2 * time.Minute
}

// Runner executes a set of static tools against both sides of a pair and
// assembles the StaticRecord. Tool errors never abort the pair; the tool is
// recorded in Unavailable and the aggregator treats its vote as missing.
type Runner struct {
	tools    []Tool
	timeouts Timeouts
}

// NewRunner builds a runner over the given tools. With no tools it runs the
// full default set.
func NewRunner(timeouts Timeouts, tools ...Tool) *Runner {
	if len(tools) == 0 {
		tools = []Tool{BanditTool{}, SemgrepTool{}, CodeQLTool{}}
	}
	return &Runner{tools: tools, timeouts: timeouts}
}

// Analyze writes the pair's code bodies to temp files, runs every tool on
// each side, and fills rec.Static. A tool failing on either side marks it
// unavailable for the whole pair so its before/after votes stay symmetric.
func (r *Runner) Analyze(ctx context.Context, rec *corpus.PairRecord) error {
	dir, err := os.MkdirTemp("", "snipvet-static-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	beforePath, err := writeSnippet(dir, "before", rec.LLM.VulnerableCode)
	if err != nil {
		return err
	}
	afterPath, err := writeSnippet(dir, "after", rec.LLM.SecureCode)
	if err != nil {
		return err
	}

	rec.Static.Unavailable = nil
	for _, tool := range r.tools {
		before, errB := r.runOne(ctx, tool, beforePath)
		after, errA := r.runOne(ctx, tool, afterPath)
		if errB != nil || errA != nil {
			rec.Static.Unavailable = append(rec.Static.Unavailable, tool.Name())
			continue
		}
		setEvidence(&rec.Static.Evidence, tool.Name(), before, after)
	}
	return ctx.Err()
}

func (r *Runner) runOne(ctx context.Context, tool Tool, path string) ([]corpus.ToolFinding, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeouts.forTool(tool.Name()))
	defer cancel()
	return tool.Run(ctx, path)
}

func setEvidence(ev *corpus.StaticEvidence, name string, before, after []corpus.ToolFinding) {
	switch name {
	case corpus.DetectorBandit:
		ev.BanditBefore, ev.BanditAfter = before, after
	case corpus.DetectorSemgrep:
		ev.SemgrepBefore, ev.SemgrepAfter = before, after
	case corpus.DetectorCodeQL:
		ev.CodeQLBefore, ev.CodeQLAfter = before, after
	}
}

// writeSnippet puts one code body in its own subdirectory so per-directory
// tools (codeql's source root) see exactly one file.
func writeSnippet(dir, label, code string) (string, error) {
	sub := filepath.Join(dir, label)
	if err := os.MkdirAll(sub, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(sub, "snippet.py")
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
