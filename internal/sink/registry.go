// Package sink locates risky API calls in source text and cuts sink-centered
// candidate windows for downstream trimming and scoring.
package sink

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// Pattern describes one sink: a named regex tied to a language and a CWE hint.
type Pattern struct {
	Name     string `yaml:"name"`
	Language string `yaml:"language"`
	Regex    string `yaml:"pattern"`
	CWE      string `yaml:"cwe"`
}

// compiledPattern holds a pre-compiled regex alongside its metadata.
type compiledPattern struct {
	pattern Pattern
	re      *regexp.Regexp
}

// Registry is an immutable set of compiled sink patterns, indexed by language.
type Registry struct {
	byLanguage map[string][]compiledPattern
}

// NewRegistry compiles the given patterns. An invalid regex is an error, not
// a silent skip: a registry that differs from what was configured would break
// run-to-run determinism.
func NewRegistry(patterns []Pattern) (*Registry, error) {
	byLang := make(map[string][]compiledPattern)
	for _, p := range patterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("sink pattern %q: %w", p.Name, err)
		}
		byLang[p.Language] = append(byLang[p.Language], compiledPattern{pattern: p, re: re})
	}
	return &Registry{byLanguage: byLang}, nil
}

// registryFile is the YAML layout of a custom sink registry.
type registryFile struct {
	Sinks map[string][]struct {
		Name    string `yaml:"name"`
		Pattern string `yaml:"pattern"`
		CWE     string `yaml:"cwe"`
	} `yaml:"sinks"`
}

// LoadRegistry reads sink patterns from a YAML file keyed by language.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sink registry: %w", err)
	}
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse sink registry %s: %w", path, err)
	}

	var patterns []Pattern
	langs := make([]string, 0, len(file.Sinks))
	for lang := range file.Sinks {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		for _, ent := range file.Sinks[lang] {
			patterns = append(patterns, Pattern{
				Name:     ent.Name,
				Language: lang,
				Regex:    ent.Pattern,
				CWE:      ent.CWE,
			})
		}
	}
	return NewRegistry(patterns)
}

// patterns returns the compiled patterns for a language, in registration order.
func (r *Registry) patterns(language string) []compiledPattern {
	return r.byLanguage[language]
}

// Languages returns the languages the registry has patterns for, sorted.
func (r *Registry) Languages() []string {
	langs := make([]string, 0, len(r.byLanguage))
	for lang := range r.byLanguage {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// DefaultPatterns returns the built-in sink catalog.
func DefaultPatterns() []Pattern {
	return []Pattern{
		// Python
		{Name: "py-eval", Language: "python", Regex: `\b(eval|exec)\s*\(`, CWE: "CWE-94"},
		{Name: "py-shell-true", Language: "python", Regex: `subprocess\.\w+\s*\([^)]*shell\s*=\s*True`, CWE: "CWE-78"},
		{Name: "py-os-system", Language: "python", Regex: `os\.(system|popen)\s*\(`, CWE: "CWE-78"},
		{Name: "py-yaml-load", Language: "python", Regex: `yaml\.load\s*\(`, CWE: "CWE-502"},
		{Name: "py-pickle-load", Language: "python", Regex: `pickle\.loads?\s*\(`, CWE: "CWE-502"},
		{Name: "py-sql-exec", Language: "python", Regex: `\.execute\s*\([^)]*(%|\+|format)`, CWE: "CWE-89"},
		{Name: "py-verify-false", Language: "python", Regex: `verify\s*=\s*False`, CWE: "CWE-295"},
		{Name: "py-weak-hash", Language: "python", Regex: `hashlib\.(md5|sha1)\s*\(`, CWE: "CWE-327"},
		{Name: "py-tempfile-mktemp", Language: "python", Regex: `tempfile\.mktemp\s*\(`, CWE: "CWE-377"},
		// Go
		{Name: "go-sql-concat", Language: "go", Regex: `db\.(Query|Exec|QueryRow)\s*\([^)]*\+`, CWE: "CWE-89"},
		{Name: "go-exec-shell", Language: "go", Regex: `exec\.Command\s*\(\s*"(sh|bash)"\s*,\s*"-c"`, CWE: "CWE-78"},
		{Name: "go-weak-tls", Language: "go", Regex: `InsecureSkipVerify\s*:\s*true`, CWE: "CWE-295"},
		// JavaScript
		{Name: "js-eval", Language: "javascript", Regex: `\beval\s*\(`, CWE: "CWE-94"},
		{Name: "js-innerhtml", Language: "javascript", Regex: `\.innerHTML\s*=\s*[a-zA-Z_]`, CWE: "CWE-79"},
		{Name: "js-sql-concat", Language: "javascript", Regex: `\.query\s*\([^)]*\+`, CWE: "CWE-89"},
	}
}

// DefaultRegistry compiles the built-in sink catalog. The built-ins are
// known-good regexes, so compilation cannot fail.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultPatterns())
	if err != nil {
		panic(fmt.Sprintf("built-in sink patterns: %v", err))
	}
	return r
}
