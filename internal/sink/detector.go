package sink

import (
	"fmt"
	"sort"
	"strings"

	"github.com/julianshen/snipvet/internal/corpus"
)

// Detector scans source files for sink patterns and emits candidate windows.
type Detector struct {
	registry *Registry
	radius   int
}

// NewDetector creates a Detector cutting windows of the given line radius
// around each sink hit.
func NewDetector(registry *Registry, radius int) *Detector {
	if radius < 0 {
		radius = 0
	}
	return &Detector{registry: registry, radius: radius}
}

// hit is a single sink match before windowing.
type hit struct {
	line    int // 1-indexed
	col     int // byte offset within the line, for stable ordering
	pattern Pattern
	token   string
}

// Detect scans the file and returns one candidate per sink occurrence, with
// overlapping windows merged. Output is ordered by source position, ascending;
// identical input always yields the identical candidate sequence. No sink
// found means an empty result, not an error.
func (d *Detector) Detect(file *corpus.SourceFile) []corpus.Candidate {
	patterns := d.registry.patterns(file.Language)
	if len(patterns) == 0 {
		return nil
	}

	lines := file.Lines()
	var hits []hit
	for i, line := range lines {
		for _, cp := range patterns {
			loc := cp.re.FindStringIndex(line)
			if loc == nil {
				continue
			}
			hits = append(hits, hit{
				line:    i + 1,
				col:     loc[0],
				pattern: cp.pattern,
				token:   line[loc[0]:loc[1]],
			})
		}
	}
	if len(hits) == 0 {
		return nil
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].line != hits[j].line {
			return hits[i].line < hits[j].line
		}
		return hits[i].col < hits[j].col
	})

	candidates := d.windows(file, lines, hits)
	return candidates
}

// windows converts ordered hits into clipped windows and merges overlaps.
// A merged window keeps the first hit's sink as its anchor and carries the
// union of CWE hints.
func (d *Detector) windows(file *corpus.SourceFile, lines []string, hits []hit) []corpus.Candidate {
	n := len(lines)
	var out []corpus.Candidate

	for _, h := range hits {
		w := corpus.Window{StartLine: h.line - d.radius, EndLine: h.line + d.radius}
		if w.StartLine < 1 {
			w.StartLine = 1
		}
		if w.EndLine > n {
			w.EndLine = n
		}

		if len(out) > 0 && out[len(out)-1].Window.Overlaps(w) {
			last := &out[len(out)-1]
			last.Window = last.Window.Union(w)
			last.CWEHints = appendHint(last.CWEHints, h.pattern.CWE)
			last.Text = windowText(lines, last.Window)
			continue
		}

		out = append(out, corpus.Candidate{
			ID:        candidateID(file.Ref, w, h.pattern.Name),
			Source:    file.Ref,
			Window:    w,
			Sink:      h.pattern.Name,
			SinkToken: h.token,
			SinkLine:  h.line,
			CWEHints:  []string{h.pattern.CWE},
			Language:  file.Language,
			Text:      windowText(lines, w),
		})
	}
	return out
}

// candidateID derives a stable identifier from the candidate's identity so
// that identical input yields identical output run to run.
func candidateID(ref corpus.SourceRef, w corpus.Window, sink string) string {
	key := fmt.Sprintf("%s/%s/%s@%s:%d-%d:%s",
		ref.Owner, ref.Repo, ref.Path, ref.Commit, w.StartLine, w.EndLine, sink)
	return corpus.SHA1Hex(key)[:16]
}

func windowText(lines []string, w corpus.Window) string {
	return strings.Join(lines[w.StartLine-1:w.EndLine], "\n")
}

func appendHint(hints []string, cwe string) []string {
	for _, h := range hints {
		if h == cwe {
			return hints
		}
	}
	return append(hints, cwe)
}
