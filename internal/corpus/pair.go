package corpus

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
)

// Detector names recognized by the aggregator. Adding a detector requires an
// explicit revision of the trust table in internal/detector.
const (
	DetectorBandit  = "bandit"
	DetectorSemgrep = "semgrep"
	DetectorCodeQL  = "codeql"
	DetectorLLM     = "llm"
)

// KnownDetectors lists every detector name the trust table understands.
func KnownDetectors() []string {
	return []string{DetectorBandit, DetectorSemgrep, DetectorCodeQL, DetectorLLM}
}

// DetectorFinding is one detector's verdict for one code sample. Available is
// false when the detector could not produce a verdict (timeout, tool failure);
// an unavailable finding is missing, not a "not vulnerable" vote.
type DetectorFinding struct {
	Detector     string   `json:"detector"`
	Available    bool     `json:"available"`
	IsVulnerable bool     `json:"is_vulnerable"`
	CWEs         []string `json:"candidate_cwes,omitempty"`
	Evidence     []string `json:"evidence,omitempty"`
}

// ToolFinding is a single raw finding from a static tool run.
type ToolFinding struct {
	RuleID   string   `json:"rule_id"`
	Message  string   `json:"message,omitempty"`
	Severity string   `json:"severity,omitempty"`
	Line     int      `json:"line,omitempty"`
	CWEs     []string `json:"cwe,omitempty"`
}

// StaticEvidence holds per-tool, per-side raw findings for a pair, mirroring
// the layout the verification runners emit.
type StaticEvidence struct {
	BanditBefore  []ToolFinding `json:"bandit_before,omitempty"`
	BanditAfter   []ToolFinding `json:"bandit_after,omitempty"`
	SemgrepBefore []ToolFinding `json:"semgrep_before,omitempty"`
	SemgrepAfter  []ToolFinding `json:"semgrep_after,omitempty"`
	CodeQLBefore  []ToolFinding `json:"codeql_before,omitempty"`
	CodeQLAfter   []ToolFinding `json:"codeql_after,omitempty"`
}

// StaticRecord is the static-analysis side of a pair record. Unavailable
// names tools whose run failed or timed out on either side.
type StaticRecord struct {
	IsVulnerable  bool           `json:"is_vulnerable"`
	CandidateCWEs []string       `json:"candidate_cwes,omitempty"`
	Evidence      StaticEvidence `json:"evidence"`
	Unavailable   []string       `json:"unavailable,omitempty"`
}

// SideJudgment is the LLM judge's verdict for one side of a pair.
type SideJudgment struct {
	IsVulnerable  bool     `json:"is_vulnerable"`
	Severity      string   `json:"severity,omitempty"`
	CWECandidates []string `json:"cwe_candidates,omitempty"`
	Rationale     string   `json:"rationale,omitempty"`
}

// LLMJudgment holds both side verdicts plus the derived pair verdict. A nil
// side means the judge call was unavailable for that side.
type LLMJudgment struct {
	Before      *SideJudgment `json:"before,omitempty"`
	After       *SideJudgment `json:"after,omitempty"`
	PairVerdict string        `json:"pair_verdict,omitempty"`
}

// LLMRecord is the LLM side of a pair record.
type LLMRecord struct {
	VulnerableCode string      `json:"vulnerable_code"`
	SecureCode     string      `json:"secure_code"`
	Judge          LLMJudgment `json:"llm_judge"`
}

// PairKey is the strict 5-tuple identity of a before/after code pair.
type PairKey struct {
	Owner      string `json:"owner"`
	Repo       string `json:"repo"`
	File       string `json:"file"`
	BeforeSHA1 string `json:"before_sha1"`
	AfterSHA1  string `json:"after_sha1"`
}

// Complete reports whether every key field is populated.
func (k PairKey) Complete() bool {
	return k.Owner != "" && k.Repo != "" && k.File != "" &&
		k.BeforeSHA1 != "" && k.AfterSHA1 != ""
}

// RuleTrigger records one guardrail rule firing on one side of a pair.
type RuleTrigger struct {
	ID       string `json:"id"`
	Side     string `json:"side"`
	Evidence string `json:"evidence,omitempty"`
}

// GuardrailAudit is the trail left by the post-judgment rule pack.
type GuardrailAudit struct {
	RulesTriggered []RuleTrigger `json:"rules_triggered,omitempty"`
	Flags          []string      `json:"flags,omitempty"`
}

// PairRecord joins the static and LLM views of one before/after pair. The
// underscore fields are derived by the aggregator; the trust score is a pure
// function of the combination key and is never assigned directly.
type PairRecord struct {
	Key        PairKey         `json:"key"`
	Static     StaticRecord    `json:"static"`
	LLM        LLMRecord       `json:"llm"`
	Guardrails *GuardrailAudit `json:"guardrails,omitempty"`
	Combo      string          `json:"_insecure_combo,omitempty"`
	TrustScore float64         `json:"_trust_score"`
	BeforeCWEs []string        `json:"_before_cwes,omitempty"`
	AfterCWEs  []string        `json:"_after_cwes,omitempty"`
}

// SHA1Hex returns the hex SHA-1 of s, matching the hashing used when pair
// keys are derived from code bodies.
func SHA1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// FillKey computes missing before/after hashes from the pair's code bodies.
func (r *PairRecord) FillKey() {
	if r.Key.BeforeSHA1 == "" {
		r.Key.BeforeSHA1 = SHA1Hex(r.LLM.VulnerableCode)
	}
	if r.Key.AfterSHA1 == "" {
		r.Key.AfterSHA1 = SHA1Hex(r.LLM.SecureCode)
	}
}

// BeforeFindings derives the per-detector findings for the "before" side of
// the pair, one finding per known detector. Tools listed as unavailable and a
// missing LLM judgment surface as Available=false.
func (r *PairRecord) BeforeFindings() []DetectorFinding {
	unavailable := make(map[string]bool, len(r.Static.Unavailable))
	for _, name := range r.Static.Unavailable {
		unavailable[name] = true
	}

	ev := r.Static.Evidence
	findings := []DetectorFinding{
		toolFinding(DetectorBandit, ev.BanditBefore, unavailable[DetectorBandit]),
		toolFinding(DetectorSemgrep, ev.SemgrepBefore, unavailable[DetectorSemgrep]),
		toolFinding(DetectorCodeQL, ev.CodeQLBefore, unavailable[DetectorCodeQL]),
	}

	llm := DetectorFinding{Detector: DetectorLLM}
	if j := r.LLM.Judge.Before; j != nil {
		llm.Available = true
		llm.IsVulnerable = j.IsVulnerable
		llm.CWEs = j.CWECandidates
	}
	return append(findings, llm)
}

func toolFinding(name string, hits []ToolFinding, unavailable bool) DetectorFinding {
	f := DetectorFinding{Detector: name, Available: !unavailable}
	if unavailable {
		return f
	}
	f.IsVulnerable = len(hits) > 0
	for _, h := range hits {
		f.CWEs = append(f.CWEs, h.CWEs...)
		if h.RuleID != "" {
			f.Evidence = append(f.Evidence, h.RuleID)
		}
	}
	return f
}

// SideCWEs returns the sorted union of static evidence CWEs, static candidate
// CWEs, and LLM CWE candidates for one side of the pair.
func (r *PairRecord) SideCWEs(side string) []string {
	set := make(map[string]bool)
	ev := r.Static.Evidence

	var tools [][]ToolFinding
	if side == "before" {
		tools = [][]ToolFinding{ev.BanditBefore, ev.SemgrepBefore, ev.CodeQLBefore}
	} else {
		tools = [][]ToolFinding{ev.BanditAfter, ev.SemgrepAfter, ev.CodeQLAfter}
	}
	for _, hits := range tools {
		for _, h := range hits {
			for _, c := range h.CWEs {
				if c != "" {
					set[c] = true
				}
			}
		}
	}
	for _, c := range r.Static.CandidateCWEs {
		if c != "" {
			set[c] = true
		}
	}

	var judged *SideJudgment
	if side == "before" {
		judged = r.LLM.Judge.Before
	} else {
		judged = r.LLM.Judge.After
	}
	if judged != nil {
		for _, c := range judged.CWECandidates {
			if c != "" {
				set[c] = true
			}
		}
	}

	cwes := make([]string, 0, len(set))
	for c := range set {
		cwes = append(cwes, c)
	}
	sort.Strings(cwes)
	return cwes
}
