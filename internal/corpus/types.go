// Package corpus defines the data model shared by every stage of the snippet
// curation pipeline: source files, candidate windows, scored and verified
// snippets, detector findings, and before/after pair records.
package corpus

import "strings"

// SourceRef identifies a source file by origin and revision.
type SourceRef struct {
	Owner  string `json:"owner,omitempty"`
	Repo   string `json:"repo,omitempty"`
	Path   string `json:"path"`
	Commit string `json:"commit,omitempty"`
}

// SourceFile is an ingested source file. Immutable once created.
type SourceFile struct {
	Ref      SourceRef `json:"source_ref"`
	Text     string    `json:"text"`
	Language string    `json:"language"`
}

// Lines splits the file text into lines without trailing newline handling
// surprises: a trailing newline does not produce a phantom empty line.
func (f *SourceFile) Lines() []string {
	text := strings.TrimSuffix(f.Text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// LineCount returns the number of lines in the file.
func (f *SourceFile) LineCount() int {
	return len(f.Lines())
}

// Window is an inclusive, 1-indexed line range within a source file.
type Window struct {
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
}

// Len returns the number of lines covered by the window.
func (w Window) Len() int {
	return w.EndLine - w.StartLine + 1
}

// Valid reports whether the window is well-formed and lies within a file of
// lineCount lines.
func (w Window) Valid(lineCount int) bool {
	return w.StartLine >= 1 && w.EndLine >= w.StartLine && w.EndLine <= lineCount
}

// Overlaps reports whether two windows share or touch any line. Adjacent
// windows count as overlapping so that near-duplicate sink hits merge.
func (w Window) Overlaps(o Window) bool {
	return w.StartLine <= o.EndLine+1 && o.StartLine <= w.EndLine+1
}

// Union returns the smallest window covering both inputs.
func (w Window) Union(o Window) Window {
	u := w
	if o.StartLine < u.StartLine {
		u.StartLine = o.StartLine
	}
	if o.EndLine > u.EndLine {
		u.EndLine = o.EndLine
	}
	return u
}

// Candidate is a sink-centered window cut from a source file. Trimming
// produces a new Candidate with a narrower window; candidates are never
// mutated in place.
type Candidate struct {
	ID        string    `json:"id"`
	Source    SourceRef `json:"source_ref"`
	Window    Window    `json:"window"`
	Sink      string    `json:"sink"`
	SinkToken string    `json:"sink_token"`
	SinkLine  int       `json:"sink_line"`
	CWEHints  []string  `json:"cwe_hint"`
	Language  string    `json:"language"`
	Text      string    `json:"text"`
}

// ScoredCandidate is a Candidate plus its embedding margin against the
// prototype banks of its assigned motif category.
type ScoredCandidate struct {
	Candidate
	PosSim   float64 `json:"pos_sim"`
	NegSim   float64 `json:"neg_sim"`
	Margin   float64 `json:"margin_score"`
	MotifCWE string  `json:"motif_cwe"`
}

// VerifiedSnippet is the terminal artifact of the reduction pipeline: a
// scored candidate that passed (or failed, with a reason) the guardrail.
type VerifiedSnippet struct {
	ScoredCandidate
	Verified     bool   `json:"verified"`
	Evidence     string `json:"evidence,omitempty"`
	RejectReason string `json:"reject_reason,omitempty"`
}

// ClusterAssignment maps a verified snippet to a cluster id and a 2D
// projection. Derived data, recomputable from embeddings at any time.
type ClusterAssignment struct {
	SnippetID string  `json:"snippet_id"`
	Cluster   int     `json:"cluster"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}
