// Package staticrun invokes external static analyzers (bandit, semgrep,
// codeql) on snippet files and normalizes their JSON output. A tool that
// fails or times out is reported as unavailable, never as "not vulnerable".
package staticrun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/julianshen/snipvet/internal/corpus"
)

// Tool runs one static analyzer against a single source file.
type Tool interface {
	Name() string
	Run(ctx context.Context, path string) ([]corpus.ToolFinding, error)
}

// ErrToolMissing wraps exec.ErrNotFound with the tool's name.
var ErrToolMissing = errors.New("static tool not on PATH")

// ----- bandit -----

// BanditTool wraps the bandit CLI. Only MEDIUM/HIGH severity findings with
// MEDIUM/HIGH confidence are kept, matching the thresholds the pair corpus
// was originally filtered with.
type BanditTool struct{}

func (BanditTool) Name() string { return corpus.DetectorBandit }

type banditReport struct {
	Results []struct {
		TestID     string `json:"test_id"`
		IssueText  string `json:"issue_text"`
		Severity   string `json:"issue_severity"`
		Confidence string `json:"issue_confidence"`
		LineNumber int    `json:"line_number"`
		IssueCWE   struct {
			ID int `json:"id"`
		} `json:"issue_cwe"`
	} `json:"results"`
}

func (BanditTool) Run(ctx context.Context, path string) ([]corpus.ToolFinding, error) {
	out, err := runTool(ctx, "bandit", "-f", "json", "-q", "-r", path)
	if err != nil {
		return nil, err
	}
	return parseBandit(out)
}

func parseBandit(out []byte) ([]corpus.ToolFinding, error) {
	var report banditReport
	if err := json.Unmarshal(out, &report); err != nil {
		return nil, fmt.Errorf("bandit output: %w", err)
	}

	var findings []corpus.ToolFinding
	for _, res := range report.Results {
		sev := strings.ToUpper(res.Severity)
		conf := strings.ToUpper(res.Confidence)
		if !minLevel(sev) || !minLevel(conf) {
			continue
		}
		f := corpus.ToolFinding{
			RuleID:   res.TestID,
			Message:  res.IssueText,
			Severity: sev,
			Line:     res.LineNumber,
		}
		if res.IssueCWE.ID > 0 {
			f.CWEs = []string{fmt.Sprintf("CWE-%d", res.IssueCWE.ID)}
		}
		findings = append(findings, f)
	}
	return findings, nil
}

func minLevel(s string) bool { return s == "MEDIUM" || s == "HIGH" }

// ----- semgrep -----

// SemgrepTool wraps the semgrep CLI with a fixed set of rule packs.
// INFO-level findings are dropped.
type SemgrepTool struct {
	// Packs overrides the default rule packs when non-empty.
	Packs []string
}

var defaultSemgrepPacks = []string{"p/python", "p/security-audit", "p/owasp-top-ten"}

func (SemgrepTool) Name() string { return corpus.DetectorSemgrep }

type semgrepReport struct {
	Results []struct {
		CheckID string `json:"check_id"`
		Start   struct {
			Line int `json:"line"`
		} `json:"start"`
		Extra struct {
			Message  string `json:"message"`
			Severity string `json:"severity"`
			Metadata struct {
				CWE json.RawMessage `json:"cwe"`
			} `json:"metadata"`
		} `json:"extra"`
	} `json:"results"`
}

func (t SemgrepTool) Run(ctx context.Context, path string) ([]corpus.ToolFinding, error) {
	packs := t.Packs
	if len(packs) == 0 {
		packs = defaultSemgrepPacks
	}
	args := []string{"--json", "--quiet"}
	for _, p := range packs {
		args = append(args, "--config", p)
	}
	args = append(args, path)

	out, err := runTool(ctx, "semgrep", args...)
	if err != nil {
		return nil, err
	}
	return parseSemgrep(out)
}

func parseSemgrep(out []byte) ([]corpus.ToolFinding, error) {
	var report semgrepReport
	if err := json.Unmarshal(out, &report); err != nil {
		return nil, fmt.Errorf("semgrep output: %w", err)
	}

	var findings []corpus.ToolFinding
	for _, res := range report.Results {
		sev := strings.ToUpper(res.Extra.Severity)
		if sev != "WARNING" && sev != "ERROR" {
			continue
		}
		msg := res.Extra.Message
		if msg == "" {
			msg = res.CheckID
		}
		findings = append(findings, corpus.ToolFinding{
			RuleID:   res.CheckID,
			Message:  msg,
			Severity: sev,
			Line:     res.Start.Line,
			CWEs:     cweTags(res.Extra.Metadata.CWE),
		})
	}
	return findings, nil
}

// cweTags handles the two shapes semgrep metadata uses: a single string or a
// list of strings. Tags look like "CWE-78: OS Command Injection"; only the
// identifier prefix is kept.
func cweTags(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{cweID(one)}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		out := make([]string, 0, len(many))
		for _, tag := range many {
			out = append(out, cweID(tag))
		}
		return out
	}
	return nil
}

func cweID(tag string) string {
	if i := strings.IndexByte(tag, ':'); i >= 0 {
		return strings.TrimSpace(tag[:i])
	}
	return strings.TrimSpace(tag)
}

// ----- codeql -----

// CodeQLTool wraps the CodeQL CLI. Each run creates a throwaway database for
// the snippet's directory and analyzes it with the security suite, so it is
// far slower than the other tools and gets the longest timeout.
type CodeQLTool struct {
	// Suite overrides the default query suite when non-empty.
	Suite string
}

const defaultCodeQLSuite = "codeql/python-queries:codeql-suites/python-security-and-quality.qls"

func (CodeQLTool) Name() string { return corpus.DetectorCodeQL }

type sarifReport struct {
	Runs []struct {
		Results []struct {
			RuleID  string `json:"ruleId"`
			Level   string `json:"level"`
			Message struct {
				Text string `json:"text"`
			} `json:"message"`
			Locations []struct {
				PhysicalLocation struct {
					Region struct {
						StartLine int `json:"startLine"`
					} `json:"region"`
				} `json:"physicalLocation"`
			} `json:"locations"`
		} `json:"results"`
	} `json:"runs"`
}

func (t CodeQLTool) Run(ctx context.Context, path string) ([]corpus.ToolFinding, error) {
	suite := t.Suite
	if suite == "" {
		suite = defaultCodeQLSuite
	}

	work, err := os.MkdirTemp("", "codeql-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(work)

	db := filepath.Join(work, "db")
	if _, err := runTool(ctx, "codeql", "database", "create", db,
		"--language=python", "--source-root="+filepath.Dir(path)); err != nil {
		return nil, err
	}

	sarifPath := filepath.Join(work, "results.sarif")
	if _, err := runTool(ctx, "codeql", "database", "analyze", db, suite,
		"--format", "sarifv2.1.0", "--output", sarifPath); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(sarifPath)
	if err != nil {
		return nil, err
	}
	return parseSARIF(raw)
}

func parseSARIF(raw []byte) ([]corpus.ToolFinding, error) {
	var report sarifReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("codeql sarif: %w", err)
	}

	var findings []corpus.ToolFinding
	for _, run := range report.Runs {
		for _, res := range run.Results {
			level := strings.ToLower(res.Level)
			if level != "warning" && level != "error" {
				continue
			}
			f := corpus.ToolFinding{
				RuleID:   res.RuleID,
				Message:  res.Message.Text,
				Severity: strings.ToUpper(level),
			}
			if len(res.Locations) > 0 {
				f.Line = res.Locations[0].PhysicalLocation.Region.StartLine
			}
			findings = append(findings, f)
		}
	}
	return findings, nil
}

// runTool executes a command and returns stdout. Exit code 1 is treated as
// success because bandit and semgrep use it to signal "findings present".
func runTool(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrToolMissing, name)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return out, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%s: %w", name, ctx.Err())
	}
	if exitErr != nil {
		return nil, fmt.Errorf("%s exited %d: %s", name, exitErr.ExitCode(),
			strings.TrimSpace(string(exitErr.Stderr)))
	}
	return nil, fmt.Errorf("%s: %w", name, err)
}
