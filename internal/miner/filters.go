package miner

import (
	"regexp"
	"strings"
)

var pyFileRe = regexp.MustCompile(`(?i)\.py$`)

var ignorePathRe = regexp.MustCompile(`(?i)` +
	`(^|/)(tests?|testing|docs|examples|benchmark|perf)/|` +
	`(^|/)(\.github|\.gitlab|\.circleci|\.devcontainer|\.vscode)/|` +
	`(Dockerfile|Makefile|requirements(\.txt)?|constraints(\.txt)?|Pipfile(\.lock)?|poetry\.lock|` +
	`pyproject\.toml|setup\.(cfg|py)|environment\.ya?ml|conda[-_].*\.ya?ml)$`)

// isPythonPath reports whether path is production Python code rather than
// tests, docs, or build scaffolding.
func isPythonPath(path string) bool {
	return path != "" && pyFileRe.MatchString(path) && !ignorePathRe.MatchString(path)
}

// stripCommentsAndWS flattens Python code to its non-comment, non-blank
// content for cosmetic-change comparison.
func stripCommentsAndWS(code string) string {
	var b strings.Builder
	for _, line := range strings.Split(code, "\n") {
		s := strings.TrimSpace(line)
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		b.WriteString(s)
	}
	return b.String()
}

// cosmeticOnly reports whether a before/after change touches nothing but
// whitespace and comments. Such pairs carry no security signal.
func cosmeticOnly(before, after string) bool {
	if strings.TrimSpace(before) == strings.TrimSpace(after) {
		return true
	}
	return stripCommentsAndWS(before) == stripCommentsAndWS(after)
}
