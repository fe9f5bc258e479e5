package analyzer

import (
	"context"
	"slices"
	"time"

	"zira/internal/core/ports"
	"zira/internal/shared/observability"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// MixedAnalyzer handles markup documents that embed PHP, script and style
// blocks. PHP regions go through the PHP lexer; the remaining markup is
// parsed with the html grammar and each <script>/<style> body is handed to
// the javascript or css analyzer with its positions shifted back into the
// document.
type MixedAnalyzer struct {
	lang string
	php  PHPAnalyzer
	html *TreeSitterAnalyzer
	js   *TreeSitterAnalyzer
	css  *TreeSitterAnalyzer
}

// NewMixedAnalyzer returns an analyzer reporting lang as its language
// ("php" or "html").
func NewMixedAnalyzer(lang string) (*MixedAnalyzer, error) {
	m := &MixedAnalyzer{lang: lang}
	var err error
	if m.html, err = NewTreeSitterAnalyzer("html"); err != nil {
		return nil, err
	}
	if m.js, err = NewTreeSitterAnalyzer("javascript"); err != nil {
		return nil, err
	}
	if m.css, err = NewTreeSitterAnalyzer("css"); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MixedAnalyzer) Language() string { return m.lang }

func (m *MixedAnalyzer) Analyze(ctx context.Context, text []byte) (ports.Analysis, error) {
	if err := ctx.Err(); err != nil {
		return ports.Analysis{}, err
	}
	started := time.Now()
	defer func() {
		observability.ParsingDuration.WithLabelValues("mixed").Observe(time.Since(started).Seconds())
	}()

	lx := lexPHP(text)
	out := ports.Analysis{
		Language:     m.lang,
		Declarations: lx.declarations(),
		Errors:       slices.Clone(lx.errs),
	}

	markup := blankRegions(text, lx.regions)
	var blocks []embedded
	err := m.html.withTree(markup, func(root *sitter.Node, w *walker) {
		blocks = collectEmbedded(root, lx.regions)
	})
	if err != nil {
		return ports.Analysis{}, err
	}

	for _, b := range blocks {
		if err := ctx.Err(); err != nil {
			return ports.Analysis{}, err
		}
		target := m.js
		if b.style {
			target = m.css
		}
		sub, err := target.Analyze(ctx, markup[b.start:b.end])
		if err != nil {
			return ports.Analysis{}, err
		}
		for _, d := range sub.Declarations {
			d.Line, d.Column = b.shift(d.Line, d.Column)
			out.Declarations = append(out.Declarations, d)
		}
		// A PHP echo inside a script leaves a hole the embedded grammar
		// cannot parse; its syntax errors would be noise.
		if b.hasPHP {
			continue
		}
		for _, d := range sub.Errors {
			d.Line, d.Column = b.shift(d.Line, d.Column)
			out.Errors = append(out.Errors, d)
		}
	}

	slices.SortStableFunc(out.Declarations, func(a, b ports.Declaration) int {
		if a.Line != b.Line {
			return a.Line - b.Line
		}
		return a.Column - b.Column
	})
	slices.SortStableFunc(out.Errors, func(a, b ports.Diagnostic) int { return a.Line - b.Line })
	if len(out.Errors) > maxDiagnostics {
		out.Errors = out.Errors[:maxDiagnostics]
	}
	return out, nil
}

// embedded is the raw body of one <script> or <style> element.
type embedded struct {
	start, end int
	// row and col locate start in the document, 0-based.
	row, col int
	style    bool
	hasPHP   bool
}

// shift maps a 1-based position inside the block to the document.
func (b embedded) shift(line, col int) (int, int) {
	if line == 1 {
		col += b.col
	}
	return line + b.row, col
}

func collectEmbedded(node *sitter.Node, regions []region) []embedded {
	var out []embedded
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if n == nil {
			return
		}
		kind := n.Kind()
		if kind == "script_element" || kind == "style_element" {
			for i := uint(0); i < n.ChildCount(); i++ {
				c := n.Child(i)
				if c == nil || c.Kind() != "raw_text" {
					continue
				}
				start, end := int(c.StartByte()), int(c.EndByte())
				p := c.StartPosition()
				out = append(out, embedded{
					start:  start,
					end:    end,
					row:    int(p.Row),
					col:    int(p.Column),
					style:  kind == "style_element",
					hasPHP: overlaps(regions, start, end),
				})
			}
			return
		}
		for i := uint(0); i < n.ChildCount(); i++ {
			visit(n.Child(i))
		}
	}
	visit(node)
	return out
}

func overlaps(regions []region, start, end int) bool {
	for _, r := range regions {
		if r.start < end && start < r.end {
			return true
		}
	}
	return false
}

// blankRegions returns a copy of text with every region replaced by spaces,
// keeping line breaks so positions stay aligned.
func blankRegions(text []byte, regions []region) []byte {
	if len(regions) == 0 {
		return text
	}
	out := slices.Clone(text)
	for _, r := range regions {
		for i := r.start; i < r.end; i++ {
			if out[i] != '\n' && out[i] != '\r' {
				out[i] = ' '
			}
		}
	}
	return out
}
