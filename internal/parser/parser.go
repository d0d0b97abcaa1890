// Package parser provides tree-sitter-based source parsing for the languages
// the sink registry covers. It extracts function spans (used to clip candidate
// windows) and import line ranges (excluded from trim density).
package parser

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// FunctionSpan is a function or method definition's line range.
type FunctionSpan struct {
	Name      string
	StartLine int
	EndLine   int
}

// langInfo holds tree-sitter metadata: which node types represent functions
// and imports for a language.
type langInfo struct {
	lang            *sitter.Language
	funcNodeTypes   []string
	importNodeTypes []string
}

// registry maps language tags (as carried on SourceFile records) to language info.
var registry = map[string]langInfo{
	"go": {
		lang:            golang.GetLanguage(),
		funcNodeTypes:   []string{"function_declaration", "method_declaration"},
		importNodeTypes: []string{"import_declaration"},
	},
	"python": {
		lang:            python.GetLanguage(),
		funcNodeTypes:   []string{"function_definition"},
		importNodeTypes: []string{"import_statement", "import_from_statement"},
	},
	"javascript": {
		lang:            javascript.GetLanguage(),
		funcNodeTypes:   []string{"function_declaration", "method_definition"},
		importNodeTypes: []string{"import_statement"},
	},
	"typescript": {
		lang:            typescript.GetLanguage(),
		funcNodeTypes:   []string{"function_declaration", "method_definition"},
		importNodeTypes: []string{"import_statement"},
	},
}

// Supported reports whether the given language tag can be parsed.
func Supported(language string) bool {
	_, ok := registry[language]
	return ok
}

// Parser wraps tree-sitter with language selection by tag.
type Parser struct {
	inner *sitter.Parser
}

// NewParser creates a new Parser instance.
func NewParser() *Parser {
	return &Parser{inner: sitter.NewParser()}
}

// Parse parses source code in the given language. Returns an error for
// languages not in the registry.
func (p *Parser) Parse(language string, source []byte) (*Tree, error) {
	info, ok := registry[language]
	if !ok {
		return nil, fmt.Errorf("unsupported language %q", language)
	}

	p.inner.SetLanguage(info.lang)
	sitterTree, err := p.inner.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return nil, fmt.Errorf("parse %s source: %w", language, err)
	}

	return &Tree{tree: sitterTree, source: source, info: info}, nil
}

// Tree wraps a parsed syntax tree with extraction helpers.
type Tree struct {
	tree   *sitter.Tree
	source []byte
	info   langInfo
}

// Close releases the underlying tree-sitter tree.
func (t *Tree) Close() {
	t.tree.Close()
}

// Functions extracts all function and method definitions, 1-indexed lines.
func (t *Tree) Functions() []FunctionSpan {
	funcTypes := make(map[string]bool, len(t.info.funcNodeTypes))
	for _, ft := range t.info.funcNodeTypes {
		funcTypes[ft] = true
	}

	var funcs []FunctionSpan
	walk(t.tree.RootNode(), func(node *sitter.Node) {
		if !funcTypes[node.Type()] {
			return
		}
		name := ""
		if nameNode := node.ChildByFieldName("name"); nameNode != nil {
			name = nameNode.Content(t.source)
		}
		funcs = append(funcs, FunctionSpan{
			Name:      name,
			StartLine: int(node.StartPoint().Row) + 1,
			EndLine:   int(node.EndPoint().Row) + 1,
		})
	})
	return funcs
}

// ImportLines returns the set of 1-indexed line numbers occupied by import
// statements. The trimmer treats these as boilerplate.
func (t *Tree) ImportLines() map[int]bool {
	importTypes := make(map[string]bool, len(t.info.importNodeTypes))
	for _, it := range t.info.importNodeTypes {
		importTypes[it] = true
	}

	lines := make(map[int]bool)
	walk(t.tree.RootNode(), func(node *sitter.Node) {
		if !importTypes[node.Type()] {
			return
		}
		for row := int(node.StartPoint().Row); row <= int(node.EndPoint().Row); row++ {
			lines[row+1] = true
		}
	})
	return lines
}

// EnclosingFunction returns the innermost function span containing the given
// line, or nil when the line is at top level.
func (t *Tree) EnclosingFunction(line int) *FunctionSpan {
	var best *FunctionSpan
	for _, fn := range t.Functions() {
		if line < fn.StartLine || line > fn.EndLine {
			continue
		}
		if best == nil || fn.StartLine >= best.StartLine {
			span := fn
			best = &span
		}
	}
	return best
}

// walk performs a depth-first traversal, calling fn for each node.
func walk(node *sitter.Node, fn func(*sitter.Node)) {
	if node == nil {
		return
	}
	fn(node)
	for i := 0; i < int(node.ChildCount()); i++ {
		if child := node.Child(i); child != nil {
			walk(child, fn)
		}
	}
}
