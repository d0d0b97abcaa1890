package output

import (
	"fmt"
	"strings"
)

// MarkdownFormatter outputs a Report as human-readable Markdown.
type MarkdownFormatter struct{}

// NewMarkdownFormatter creates a new MarkdownFormatter.
func NewMarkdownFormatter() *MarkdownFormatter {
	return &MarkdownFormatter{}
}

// Format renders the Report as Markdown.
func (f *MarkdownFormatter) Format(report *Report) ([]byte, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s run %s\n\n", report.Kind, report.RunID)

	if report.Reduce != nil {
		s := report.Reduce
		b.WriteString("## Reduction\n\n")
		b.WriteString("| stage | count |\n|---|---|\n")
		fmt.Fprintf(&b, "| files | %d |\n", s.Files)
		fmt.Fprintf(&b, "| candidates | %d |\n", s.Candidates)
		fmt.Fprintf(&b, "| dropped at trim | %d |\n", s.TrimDropped)
		fmt.Fprintf(&b, "| dropped at score | %d |\n", s.ScoreDropped)
		fmt.Fprintf(&b, "| rejected by guardrail | %d |\n", s.Rejected)
		fmt.Fprintf(&b, "| near-duplicates | %d |\n", s.Duplicates)
		fmt.Fprintf(&b, "| verified | %d |\n", s.Verified)
		fmt.Fprintf(&b, "| errored | %d |\n\n", s.Errored)
	}

	if report.Pairs != nil {
		s := report.Pairs
		b.WriteString("## Pair verification\n\n")
		b.WriteString("| stage | count |\n|---|---|\n")
		fmt.Fprintf(&b, "| pairs | %d |\n", s.Pairs)
		fmt.Fprintf(&b, "| analyzed | %d |\n", s.Analyzed)
		fmt.Fprintf(&b, "| judged | %d |\n", s.Judged)
		fmt.Fprintf(&b, "| aggregated | %d |\n", s.Aggregated)
		fmt.Fprintf(&b, "| errored | %d |\n\n", s.Errored)
	}

	if len(report.Groups) > 0 {
		b.WriteString("## Snippet groups\n\n")
		b.WriteString("| group | count | dominant CWE | mean margin |\n|---|---|---|---|\n")
		for _, g := range report.Groups {
			fmt.Fprintf(&b, "| %s | %d | %s | %.3f |\n",
				g.Label, g.Count, g.DominantCWE, g.MeanMargin)
		}
		b.WriteString("\n")
	}

	if len(report.Consensus) > 0 {
		b.WriteString("## Detector consensus\n\n")
		b.WriteString("| combination | verdict | count | mean trust |\n|---|---|---|---|\n")
		for _, row := range report.Consensus {
			fmt.Fprintf(&b, "| %s | %s | %d | %.2f |\n",
				row.Combo, row.Verdict, row.Count, row.MeanTrust)
		}
		b.WriteString("\n")
	}

	if len(report.Errors) > 0 {
		b.WriteString("## Errors\n\n")
		for _, e := range report.Errors {
			fmt.Fprintf(&b, "- `%s` %s: %s\n", e.Stage, e.Item, e.Cause)
		}
		b.WriteString("\n")
	}

	return []byte(b.String()), nil
}
