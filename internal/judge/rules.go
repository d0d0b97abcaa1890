package judge

import (
	"regexp"
	"sort"

	"github.com/julianshen/snipvet/internal/corpus"
)

// severityRank orders judge severities from none to critical so rule
// enforcement can bump but never lower a verdict.
var severityRank = map[string]int{
	"none": 0, "low": 1, "medium": 2, "high": 3, "critical": 4,
}

func bumpSeverity(current, target string) string {
	if severityRank[target] > severityRank[current] {
		return target
	}
	if _, ok := severityRank[current]; !ok {
		return target
	}
	return current
}

// Rule is one high-signal override. When its pattern matches a side's code,
// that side is forced vulnerable regardless of what the model said.
type Rule struct {
	ID       string
	Pattern  *regexp.Regexp
	CWEs     []string
	Severity string
}

// RulePack returns the default override rules. These accept some false
// positives on the HTML heuristic; the others are near-certain signals.
func RulePack() []Rule {
	return []Rule{
		{
			ID:       "TLS_VERIFY_FALSE",
			Pattern:  regexp.MustCompile(`(?i)verify\s*=\s*False`),
			CWEs:     []string{"CWE-295"},
			Severity: "high",
		},
		{
			ID:       "PLAIN_HTTP_API",
			Pattern:  regexp.MustCompile(`(?i)\bHTTPConnection\b|http://`),
			CWEs:     []string{"CWE-319"},
			Severity: "high",
		},
		{
			ID:       "SHELL_TRUE",
			Pattern:  regexp.MustCompile(`(?is)subprocess\.(?:run|Popen)\s*\([^)]*shell\s*=\s*True`),
			CWEs:     []string{"CWE-78"},
			Severity: "high",
		},
		{
			ID:       "HTML_UNESCAPED_PRINT",
			Pattern:  regexp.MustCompile(`(?s)print\s*\(\s*".*<[^>]+>.*"\s*\+\s*[a-zA-Z0-9_\[\].']+`),
			CWEs:     []string{"CWE-79", "CWE-116"},
			Severity: "medium",
		},
	}
}

const evidenceLimit = 160

// ApplyRules scans both code bodies with the rule pack, enforces matched
// rules onto the side judgments, and records the audit trail on the record.
// A side with no model judgment still gets one when a rule fires there.
func ApplyRules(rec *corpus.PairRecord, rules []Rule) {
	audit := rec.Guardrails
	if audit == nil {
		audit = &corpus.GuardrailAudit{}
	}

	for _, rule := range rules {
		if m := rule.Pattern.FindString(rec.LLM.VulnerableCode); m != "" {
			rec.LLM.Judge.Before = enforce(rec.LLM.Judge.Before, rule)
			audit.RulesTriggered = append(audit.RulesTriggered, trigger(rule, "before", m))
		}
		if m := rule.Pattern.FindString(rec.LLM.SecureCode); m != "" {
			rec.LLM.Judge.After = enforce(rec.LLM.Judge.After, rule)
			audit.RulesTriggered = append(audit.RulesTriggered, trigger(rule, "after", m))
		}
	}

	// Flag records whose pair verdict claims "unchanged" while the side
	// booleans disagree. The verdict is left alone; downstream consumers
	// decide what to do with the flag.
	b, a := rec.LLM.Judge.Before, rec.LLM.Judge.After
	if rec.LLM.Judge.PairVerdict == "unchanged" && b != nil && a != nil &&
		b.IsVulnerable != a.IsVulnerable {
		audit.Flags = append(audit.Flags, "inconsistent_verdict")
	}

	if len(audit.RulesTriggered) > 0 || len(audit.Flags) > 0 {
		rec.Guardrails = audit
	}
}

func enforce(side *corpus.SideJudgment, rule Rule) *corpus.SideJudgment {
	if side == nil {
		side = &corpus.SideJudgment{}
	}
	side.IsVulnerable = true
	side.Severity = bumpSeverity(side.Severity, rule.Severity)

	seen := make(map[string]bool, len(side.CWECandidates))
	for _, c := range side.CWECandidates {
		seen[c] = true
	}
	for _, c := range rule.CWEs {
		if !seen[c] {
			side.CWECandidates = append(side.CWECandidates, c)
			seen[c] = true
		}
	}
	sort.Strings(side.CWECandidates)
	return side
}

func trigger(rule Rule, side, match string) corpus.RuleTrigger {
	if len(match) > evidenceLimit {
		match = match[:evidenceLimit]
	}
	return corpus.RuleTrigger{ID: rule.ID, Side: side, Evidence: match}
}
