// Package output renders batch reports in JSON and Markdown.
package output

import (
	"time"

	"github.com/julianshen/snipvet/internal/cluster"
	"github.com/julianshen/snipvet/internal/pipeline"
)

// Report is the collected outcome of one batch run: stage counters, groups,
// consensus rows, and per-item errors. Nil sections are omitted.
type Report struct {
	RunID       string                 `json:"run_id"`
	Kind        string                 `json:"kind"`
	GeneratedAt time.Time              `json:"generated_at"`
	Reduce      *pipeline.Stats        `json:"reduce,omitempty"`
	Pairs       *pipeline.PairStats    `json:"pairs,omitempty"`
	Groups      []cluster.SnippetGroup `json:"groups,omitempty"`
	Consensus   []cluster.ConsensusRow `json:"consensus,omitempty"`
	Errors      []pipeline.ItemError   `json:"errors,omitempty"`
}

// Formatter formats a Report into output bytes.
type Formatter interface {
	Format(report *Report) ([]byte, error)
}

// ForFormat returns the formatter for a format name; unknown names fall
// back to JSON.
func ForFormat(name string) Formatter {
	if name == "markdown" || name == "md" {
		return NewMarkdownFormatter()
	}
	return NewJSONFormatter()
}
