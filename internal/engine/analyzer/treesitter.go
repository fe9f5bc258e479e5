package analyzer

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"zira/internal/core/ports"
	"zira/internal/shared/observability"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// maxDiagnostics caps the syntax errors reported for one text.
const maxDiagnostics = 50

// TreeSitterAnalyzer extracts declarations and syntax errors with a
// tree-sitter grammar.
type TreeSitterAnalyzer struct {
	profile profile
	pool    *parserPool
}

func newTreeSitterAnalyzer(p profile) *TreeSitterAnalyzer {
	return &TreeSitterAnalyzer{profile: p, pool: newParserPool(p.language())}
}

// NewTreeSitterAnalyzer builds the analyzer for a built-in grammar id.
func NewTreeSitterAnalyzer(lang string) (*TreeSitterAnalyzer, error) {
	p, err := findProfile(lang)
	if err != nil {
		return nil, err
	}
	return newTreeSitterAnalyzer(p), nil
}

func (a *TreeSitterAnalyzer) Language() string { return a.profile.id }

func (a *TreeSitterAnalyzer) Analyze(ctx context.Context, text []byte) (ports.Analysis, error) {
	if err := ctx.Err(); err != nil {
		return ports.Analysis{}, err
	}
	started := time.Now()
	defer func() {
		observability.ParsingDuration.WithLabelValues(a.profile.id).Observe(time.Since(started).Seconds())
	}()

	var out ports.Analysis
	err := a.withTree(text, func(root *sitter.Node, w *walker) {
		w.walk(root)
		if root.HasError() {
			w.collectErrors(root)
		}
		out = ports.Analysis{
			Language:     a.profile.id,
			Declarations: w.decls,
			Errors:       w.errs,
		}
	})
	return out, err
}

// withTree parses text with a pooled parser and hands the root node to fn.
// Nodes must not escape fn.
func (a *TreeSitterAnalyzer) withTree(text []byte, fn func(root *sitter.Node, w *walker)) error {
	sp := a.pool.get()
	defer a.pool.put(sp)

	tree := sp.Parse(text, nil)
	if tree == nil {
		return fmt.Errorf("%s parser returned no tree", a.profile.id)
	}
	defer tree.Close()

	fn(tree.RootNode(), &walker{profile: a.profile, source: text})
	return nil
}

type walker struct {
	profile    profile
	source     []byte
	containers []string
	decls      []ports.Declaration
	errs       []ports.Diagnostic
}

func (w *walker) walk(node *sitter.Node) {
	if node == nil || node.IsError() {
		return
	}
	pushed := false

	if field, ok := w.profile.implKinds[node.Kind()]; ok {
		if typ := node.ChildByFieldName(field); typ != nil {
			w.containers = append(w.containers, w.text(typ))
			pushed = true
		}
	} else if rule, ok := w.profile.rules[node.Kind()]; ok && w.matches(rule, node) {
		if name := w.name(rule, node); name != "" {
			w.add(rule, node, name)
			if rule.container {
				w.containers = append(w.containers, name)
				pushed = true
			}
		}
	}

	for i := uint(0); i < node.ChildCount(); i++ {
		w.walk(node.Child(i))
	}
	if pushed {
		w.containers = w.containers[:len(w.containers)-1]
	}
}

func (w *walker) matches(rule declRule, node *sitter.Node) bool {
	if len(rule.valueKinds) == 0 {
		return true
	}
	value := node.ChildByFieldName("value")
	return value != nil && slices.Contains(rule.valueKinds, value.Kind())
}

func (w *walker) name(rule declRule, node *sitter.Node) string {
	field := rule.nameField
	if field == "" {
		field = "name"
	}
	n := node.ChildByFieldName(field)
	if n == nil {
		return ""
	}
	return strings.TrimSpace(w.text(n))
}

func (w *walker) add(rule declRule, node *sitter.Node, name string) {
	kind := rule.kind
	full := name
	if len(w.containers) > 0 {
		if rule.inContainer != "" {
			kind = rule.inContainer
		}
		full = w.containers[len(w.containers)-1] + w.profile.separator + name
	}
	line, col := w.position(node)
	w.decls = append(w.decls, ports.Declaration{
		Name:     name,
		FullName: full,
		Kind:     kind,
		Line:     line,
		Column:   col,
	})
}

func (w *walker) collectErrors(node *sitter.Node) {
	if node == nil || len(w.errs) >= maxDiagnostics {
		return
	}
	if node.IsMissing() {
		line, col := w.position(node)
		w.errs = append(w.errs, ports.Diagnostic{
			Line:     line,
			Column:   col,
			Message:  fmt.Sprintf("missing %s", node.Kind()),
			Severity: "error",
			Source:   w.profile.id,
		})
		return
	}
	if node.IsError() {
		line, col := w.position(node)
		w.errs = append(w.errs, ports.Diagnostic{
			Line:     line,
			Column:   col,
			Message:  fmt.Sprintf("syntax error near %q", snippet(w.text(node))),
			Severity: "error",
			Source:   w.profile.id,
		})
		return
	}
	if !node.HasError() {
		return
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		w.collectErrors(node.Child(i))
	}
}

func (w *walker) text(node *sitter.Node) string {
	return string(w.source[node.StartByte():node.EndByte()])
}

// position returns the 1-based line and rune column of node.
func (w *walker) position(node *sitter.Node) (int, int) {
	p := node.StartPosition()
	start := int(node.StartByte()) - int(p.Column)
	if start < 0 {
		start = 0
	}
	col := utf8.RuneCount(w.source[start:node.StartByte()]) + 1
	return int(p.Row) + 1, col
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if utf8.RuneCountInString(s) > 24 {
		r := []rune(s)
		s = string(r[:24]) + "…"
	}
	return s
}
