// Package trim shrinks sink-centered candidate windows to minimal, dense
// exemplars: the sink statement plus the bounded-depth chain of assignments
// that feeds it, with boilerplate stripped.
//
// The backward scan is a bounded-depth heuristic over assignment statements,
// not full program slicing. That keeps trimming cheap and language-agnostic;
// candidates whose taint path the heuristic cannot see are dropped rather
// than emitted malformed.
package trim

import (
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/julianshen/snipvet/internal/corpus"
	"github.com/julianshen/snipvet/internal/parser"
)

// Drop reasons. All are recoverable per-item: the candidate is excluded and
// the batch continues.
var (
	// ErrNoInputPath means the sink consumes no distinguishable input: no
	// assignment chain feeds it and no untrusted source appears in its
	// arguments.
	ErrNoInputPath = errors.New("trim: no input path into sink")
	// ErrBelowMinimum means trimming left fewer lines than the minimum
	// viable window.
	ErrBelowMinimum = errors.New("trim: below minimum viable window")
	// ErrLowDensity means too few retained lines are on the sink's
	// dependency chain.
	ErrLowDensity = errors.New("trim: density below target")
	// ErrSinkOutsideWindow means the candidate is malformed: its recorded
	// sink line is not inside its window.
	ErrSinkOutsideWindow = errors.New("trim: sink line outside window")
)

// IsDrop reports whether err is a per-candidate drop reason rather than a
// batch-level failure.
func IsDrop(err error) bool {
	return errors.Is(err, ErrNoInputPath) || errors.Is(err, ErrBelowMinimum) ||
		errors.Is(err, ErrLowDensity) || errors.Is(err, ErrSinkOutsideWindow)
}

// Config controls trimming targets.
type Config struct {
	MaxLines   int     // hard cap on trimmed window length
	MinLines   int     // minimum viable window
	Depth      int     // backward dependency scan depth
	MinDensity float64 // required ratio of chain lines to retained lines
}

// DefaultConfig returns the trimming targets used by the standard pipeline.
func DefaultConfig() Config {
	return Config{MaxLines: 12, MinLines: 2, Depth: 3, MinDensity: 0.5}
}

// Trimmer reduces candidates to minimal windows. Safe for concurrent use;
// each call builds its own parser.
type Trimmer struct {
	cfg Config
}

// NewTrimmer creates a Trimmer with the given targets. Zero values fall back
// to defaults.
func NewTrimmer(cfg Config) *Trimmer {
	def := DefaultConfig()
	if cfg.MaxLines <= 0 {
		cfg.MaxLines = def.MaxLines
	}
	if cfg.MinLines <= 0 {
		cfg.MinLines = def.MinLines
	}
	if cfg.Depth <= 0 {
		cfg.Depth = def.Depth
	}
	if cfg.MinDensity <= 0 {
		cfg.MinDensity = def.MinDensity
	}
	return &Trimmer{cfg: cfg}
}

var (
	identRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
	// untrustedRe matches typical untrusted input sources. Mirrors the
	// guardrail's source list so the two stages agree on what "input" means.
	untrustedRe = regexp.MustCompile(`(input\(|sys\.argv|os\.environ|request\.|argv\[|req\.|flag\.|os\.Args|process\.argv)`)
)

// keywords that identifier extraction must never treat as variables.
var keywords = map[string]bool{
	"if": true, "else": true, "elif": true, "for": true, "while": true,
	"def": true, "return": true, "import": true, "from": true, "as": true,
	"in": true, "not": true, "and": true, "or": true, "is": true,
	"True": true, "False": true, "None": true, "print": true, "len": true,
	"str": true, "int": true, "float": true, "bool": true, "dict": true,
	"list": true, "range": true, "try": true, "except": true, "with": true,
	"func": true, "var": true, "const": true, "nil": true, "err": true,
	"true": true, "false": true, "shell": true,
	"let": true, "function": true, "new": true, "this": true,
}

// Trim produces a new, narrower Candidate from cand, or a typed drop error.
// The input candidate is never mutated; statements are only removed, never
// reordered; re-trimming an already-minimal candidate returns it unchanged.
func (t *Trimmer) Trim(file *corpus.SourceFile, cand corpus.Candidate) (corpus.Candidate, error) {
	lines := file.Lines()
	w := cand.Window
	if !w.Valid(len(lines)) || cand.SinkLine < w.StartLine || cand.SinkLine > w.EndLine {
		return corpus.Candidate{}, ErrSinkOutsideWindow
	}

	// Clip the window to the sink's enclosing function where the language
	// is parseable; a window spanning function boundaries mixes unrelated
	// statements into the slice.
	boiler := map[int]bool{}
	if parser.Supported(file.Language) {
		if tree, err := parser.NewParser().Parse(file.Language, []byte(file.Text)); err == nil {
			if fn := tree.EnclosingFunction(cand.SinkLine); fn != nil {
				if fn.StartLine > w.StartLine {
					w.StartLine = fn.StartLine
				}
				if fn.EndLine < w.EndLine {
					w.EndLine = fn.EndLine
				}
			}
			boiler = tree.ImportLines()
			tree.Close()
		}
	}

	chain := t.backwardChain(lines, w, cand.SinkLine)
	sinkText := lines[cand.SinkLine-1]
	if len(chain) == 0 && !untrustedRe.MatchString(sinkText) {
		return corpus.Candidate{}, ErrNoInputPath
	}

	keep := map[int]bool{cand.SinkLine: true}
	for _, ln := range chain {
		keep[ln] = true
	}

	retained := t.retain(lines, w, keep, boiler, file.Language, cand.SinkLine)
	if len(retained) < t.cfg.MinLines {
		return corpus.Candidate{}, ErrBelowMinimum
	}

	chainLines := 0
	for _, ln := range retained {
		if keep[ln] {
			chainLines++
		}
	}
	if float64(chainLines)/float64(len(retained)) < t.cfg.MinDensity {
		return corpus.Candidate{}, ErrLowDensity
	}

	texts := make([]string, 0, len(retained))
	for _, ln := range retained {
		texts = append(texts, lines[ln-1])
	}

	out := cand
	out.Window = corpus.Window{StartLine: retained[0], EndLine: retained[len(retained)-1]}
	out.Text = strings.Join(texts, "\n")
	return out, nil
}

// backwardChain walks upward from the sink line collecting assignment lines
// that define identifiers the sink (transitively) consumes, to bounded depth.
func (t *Trimmer) backwardChain(lines []string, w corpus.Window, sinkLine int) []int {
	targets := identifiers(lines[sinkLine-1])
	seen := map[int]bool{}
	var chain []int

	for depth := 0; depth < t.cfg.Depth && len(targets) > 0; depth++ {
		next := map[string]bool{}
		for ln := sinkLine - 1; ln >= w.StartLine; ln-- {
			if seen[ln] {
				continue
			}
			name, rhs := assignment(lines[ln-1])
			if name == "" || !targets[name] {
				continue
			}
			seen[ln] = true
			chain = append(chain, ln)
			for id := range identifiers(rhs) {
				if !targets[id] {
					next[id] = true
				}
			}
		}
		targets = next
	}

	sort.Ints(chain)
	return chain
}

// assignment parses a line of the form "name = rhs" (or := / +=), returning
// the assigned name and the right-hand side. Non-assignments return "".
var assignRe = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*(?::=|\+=|=)([^=].*)$`)

func assignment(line string) (string, string) {
	m := assignRe.FindStringSubmatch(line)
	if m == nil {
		return "", ""
	}
	return m[1], m[2]
}

// identifiers extracts candidate variable names from a line, skipping
// keywords and obvious call heads.
func identifiers(line string) map[string]bool {
	ids := map[string]bool{}
	for _, m := range identRe.FindAllStringIndex(line, -1) {
		id := line[m[0]:m[1]]
		if keywords[id] {
			continue
		}
		// Skip call heads: "foo(" names an API, not data. Attribute roots
		// stay; "raw.strip()" taints through raw.
		if m[1] < len(line) && line[m[1]] == '(' {
			continue
		}
		ids[id] = true
	}
	return ids
}

// retain selects the lines kept in the trimmed window: everything inside the
// chain's bounding range except blanks, imports, and comments, then cut down
// to MaxLines by dropping non-chain lines farthest from the sink.
func (t *Trimmer) retain(lines []string, w corpus.Window, keep, boiler map[int]bool, language string, sinkLine int) []int {
	lo, hi := sinkLine, sinkLine
	for ln := range keep {
		if ln < lo {
			lo = ln
		}
		if ln > hi {
			hi = ln
		}
	}
	if lo < w.StartLine {
		lo = w.StartLine
	}
	if hi > w.EndLine {
		hi = w.EndLine
	}

	var retained []int
	for ln := lo; ln <= hi; ln++ {
		if keep[ln] {
			retained = append(retained, ln)
			continue
		}
		text := strings.TrimSpace(lines[ln-1])
		if text == "" || boiler[ln] || isComment(text, language) {
			continue
		}
		retained = append(retained, ln)
	}

	for len(retained) > t.cfg.MaxLines {
		cut := -1
		dist := -1
		for i, ln := range retained {
			if keep[ln] {
				continue
			}
			d := ln - sinkLine
			if d < 0 {
				d = -d
			}
			if d > dist {
				dist = d
				cut = i
			}
		}
		if cut < 0 {
			break // everything left is on the chain
		}
		retained = append(retained[:cut], retained[cut+1:]...)
	}

	return retained
}

func isComment(trimmed, language string) bool {
	switch language {
	case "python":
		return strings.HasPrefix(trimmed, "#")
	case "go", "javascript", "typescript":
		return strings.HasPrefix(trimmed, "//")
	default:
		return strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "//")
	}
}
