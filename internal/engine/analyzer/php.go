package analyzer

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"zira/internal/core/ports"
	"zira/internal/shared/observability"

	regexp "github.com/wasilibs/go-re2"
)

// Examples matched by these regexes, after strings and comments have been
// blanked out of the text:
//
//	abstract class Repository {
//	    const TABLE = 'users';
//	    public static function &find($id) { ... }
//	}
//	function helper() { ... }
//	define('APP_DEBUG', true);
var (
	rePHPType     = regexp.MustCompile(`(?mi)^[ \t]*(?:(?:abstract|final|readonly)[ \t]+)*(class|interface|trait|enum)[ \t]+([A-Za-z_][A-Za-z0-9_]*)`)
	rePHPFunction = regexp.MustCompile(`(?mi)^[ \t]*(?:(?:public|protected|private|static|abstract|final)[ \t]+)*function[ \t]*&?[ \t]*([A-Za-z_][A-Za-z0-9_]*)[ \t]*\(`)
	rePHPConst    = regexp.MustCompile(`(?mi)^[ \t]*(?:(?:public|protected|private|final)[ \t]+)*const[ \t]+([A-Za-z_][A-Za-z0-9_]*)[ \t]*=`)
	rePHPDefine   = regexp.MustCompile(`(?i)\bdefine[ \t]*\([ \t]*['"]`)
	rePHPIdent    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*`)
)

const phpSeparator = "::"

// PHPAnalyzer extracts declarations from the PHP regions of a text and
// checks bracket, string and comment termination. Text outside <?php ?>
// is ignored.
type PHPAnalyzer struct{}

func (PHPAnalyzer) Language() string { return "php" }

func (PHPAnalyzer) Analyze(ctx context.Context, text []byte) (ports.Analysis, error) {
	if err := ctx.Err(); err != nil {
		return ports.Analysis{}, err
	}
	started := time.Now()
	defer func() {
		observability.ParsingDuration.WithLabelValues("php").Observe(time.Since(started).Seconds())
	}()

	lx := lexPHP(text)
	return ports.Analysis{
		Language:     "php",
		Declarations: lx.declarations(),
		Errors:       lx.errs,
	}, nil
}

type bracePair struct {
	open  int
	close int
}

type region struct {
	start int
	end   int
}

type openBracket struct {
	ch   byte
	off  int
	pair int
}

// phpLexer splits a mixed text into PHP code, strings and comments. mask
// keeps code bytes and blanks everything else, preserving offsets and line
// breaks, so regexes over mask never match inside strings or markup.
type phpLexer struct {
	src        []byte
	mask       []byte
	lineStarts []int
	regions    []region
	pairs      []bracePair
	errs       []ports.Diagnostic
}

func lexPHP(src []byte) *phpLexer {
	lx := &phpLexer{src: src, mask: make([]byte, len(src)), lineStarts: []int{0}}
	for i, c := range src {
		if c == '\n' {
			lx.mask[i] = '\n'
			lx.lineStarts = append(lx.lineStarts, i+1)
		} else {
			lx.mask[i] = ' '
		}
	}

	var stack []openBracket
	inCode := false
	regionStart := 0
	n := len(src)
	i := 0
	for i < n {
		if !inCode {
			j := bytes.Index(src[i:], []byte("<?"))
			if j < 0 {
				break
			}
			regionStart = i + j
			i += j + 2
			if i+3 <= n && bytes.EqualFold(src[i:i+3], []byte("php")) {
				i += 3
			} else if i < n && src[i] == '=' {
				i++
			}
			inCode = true
			continue
		}

		c := src[i]
		var next byte
		if i+1 < n {
			next = src[i+1]
		}
		switch {
		case c == '?' && next == '>':
			inCode = false
			i += 2
			lx.regions = append(lx.regions, region{start: regionStart, end: i})
		case c == '#' || (c == '/' && next == '/'):
			for i < n && src[i] != '\n' {
				if src[i] == '?' && i+1 < n && src[i+1] == '>' {
					break
				}
				i++
			}
		case c == '/' && next == '*':
			end := bytes.Index(src[i+2:], []byte("*/"))
			if end < 0 {
				lx.report(i, "unterminated comment")
				i = n
				continue
			}
			i += end + 4
		case c == '\'' || c == '"' || c == '`':
			start := i
			lx.mask[i] = c
			i++
			for i < n && src[i] != c {
				if src[i] == '\\' {
					i++
				}
				i++
			}
			if i >= n {
				lx.report(start, "unterminated string")
				continue
			}
			lx.mask[i] = c
			i++
		case c == '<' && bytes.HasPrefix(src[i:], []byte("<<<")):
			i = lx.skipHeredoc(i)
		default:
			lx.mask[i] = c
			switch c {
			case '{', '(', '[':
				pair := -1
				if c == '{' {
					lx.pairs = append(lx.pairs, bracePair{open: i, close: n})
					pair = len(lx.pairs) - 1
				}
				stack = append(stack, openBracket{ch: c, off: i, pair: pair})
			case '}', ')', ']':
				stack = lx.closeBracket(stack, c, i)
			}
			i++
		}
	}

	if inCode {
		lx.regions = append(lx.regions, region{start: regionStart, end: n})
	}
	for _, ob := range stack {
		lx.report(ob.off, fmt.Sprintf("unclosed '%c'", ob.ch))
	}
	sort.SliceStable(lx.errs, func(a, b int) bool { return lx.errs[a].Line < lx.errs[b].Line })
	if len(lx.errs) > maxDiagnostics {
		lx.errs = lx.errs[:maxDiagnostics]
	}
	return lx
}

func matching(c byte) byte {
	switch c {
	case '}':
		return '{'
	case ')':
		return '('
	}
	return '['
}

func (lx *phpLexer) closeBracket(stack []openBracket, c byte, off int) []openBracket {
	want := matching(c)
	for k := len(stack) - 1; k >= 0; k-- {
		if stack[k].ch != want {
			continue
		}
		for _, skipped := range stack[k+1:] {
			lx.report(skipped.off, fmt.Sprintf("unclosed '%c'", skipped.ch))
		}
		if stack[k].pair >= 0 {
			lx.pairs[stack[k].pair].close = off
		}
		return stack[:k]
	}
	lx.report(off, fmt.Sprintf("unexpected '%c'", c))
	return stack
}

// skipHeredoc consumes a heredoc or nowdoc starting at i and returns the
// offset after its closing identifier.
func (lx *phpLexer) skipHeredoc(i int) int {
	start := i
	j := i + 3
	for j < len(lx.src) && (lx.src[j] == ' ' || lx.src[j] == '\t') {
		j++
	}
	if j < len(lx.src) && (lx.src[j] == '\'' || lx.src[j] == '"') {
		j++
	}
	id := rePHPIdent.Find(lx.src[j:])
	if id == nil {
		lx.mask[i] = '<'
		return i + 1
	}
	body := j + len(id)
	for line := bytes.IndexByte(lx.src[body:], '\n'); line >= 0; {
		pos := body + line + 1
		rest := bytes.TrimLeft(lx.src[pos:], " \t")
		if bytes.HasPrefix(rest, id) {
			end := pos + (len(lx.src[pos:]) - len(rest)) + len(id)
			if end >= len(lx.src) || !isIdentByte(lx.src[end]) {
				return end
			}
		}
		body = pos
		line = bytes.IndexByte(lx.src[body:], '\n')
	}
	lx.report(start, "unterminated heredoc")
	return len(lx.src)
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func (lx *phpLexer) report(off int, msg string) {
	line, col := lx.position(off)
	lx.errs = append(lx.errs, ports.Diagnostic{
		Line:     line,
		Column:   col,
		Message:  msg,
		Severity: "error",
		Source:   "php",
	})
}

// position maps a byte offset to a 1-based line and rune column.
func (lx *phpLexer) position(off int) (int, int) {
	line := sort.Search(len(lx.lineStarts), func(k int) bool { return lx.lineStarts[k] > off }) - 1
	if line < 0 {
		line = 0
	}
	start := lx.lineStarts[line]
	return line + 1, utf8.RuneCount(lx.src[start:off]) + 1
}

// enclosing returns the innermost brace pair containing off, or -1.
func (lx *phpLexer) enclosing(off int) int {
	best := -1
	for k, p := range lx.pairs {
		if p.open < off && off < p.close {
			if best < 0 || p.open > lx.pairs[best].open {
				best = k
			}
		}
	}
	return best
}

type phpType struct {
	name string
	body int
}

type located struct {
	off  int
	decl ports.Declaration
}

func (lx *phpLexer) declarations() []ports.Declaration {
	var types []phpType
	var out []located

	for _, m := range rePHPType.FindAllSubmatchIndex(lx.mask, -1) {
		keyword := string(bytes.ToLower(lx.mask[m[2]:m[3]]))
		name := string(lx.mask[m[4]:m[5]])
		kind := ports.KindClass
		if keyword == "interface" {
			kind = ports.KindInterface
		}
		if body := lx.bodyAfter(m[5]); body >= 0 {
			types = append(types, phpType{name: name, body: body})
		}
		out = append(out, lx.locate(m[4], name, name, kind))
	}

	container := func(off int) string {
		pair := lx.enclosing(off)
		if pair < 0 {
			return ""
		}
		for _, t := range types {
			if t.body == pair {
				return t.name
			}
		}
		return ""
	}

	for _, m := range rePHPFunction.FindAllSubmatchIndex(lx.mask, -1) {
		name := string(lx.mask[m[2]:m[3]])
		if owner := container(m[2]); owner != "" {
			out = append(out, lx.locate(m[2], name, owner+phpSeparator+name, ports.KindMethod))
			continue
		}
		out = append(out, lx.locate(m[2], name, name, ports.KindFunction))
	}

	for _, m := range rePHPConst.FindAllSubmatchIndex(lx.mask, -1) {
		name := string(lx.mask[m[2]:m[3]])
		full := name
		if owner := container(m[2]); owner != "" {
			full = owner + phpSeparator + name
		}
		out = append(out, lx.locate(m[2], name, full, ports.KindConstant))
	}

	for _, m := range rePHPDefine.FindAllIndex(lx.mask, -1) {
		nameStart := m[1]
		if id := rePHPIdent.Find(lx.src[nameStart:]); id != nil {
			out = append(out, lx.locate(nameStart, string(id), string(id), ports.KindConstant))
		}
	}

	sort.SliceStable(out, func(a, b int) bool { return out[a].off < out[b].off })
	decls := make([]ports.Declaration, len(out))
	for k, l := range out {
		decls[k] = l.decl
	}
	return decls
}

// bodyAfter returns the brace pair opened by the first '{' after off.
func (lx *phpLexer) bodyAfter(off int) int {
	for k, p := range lx.pairs {
		if p.open >= off {
			return k
		}
	}
	return -1
}

func (lx *phpLexer) locate(off int, name, full string, kind ports.DeclarationKind) located {
	line, col := lx.position(off)
	return located{off: off, decl: ports.Declaration{
		Name:     name,
		FullName: full,
		Kind:     kind,
		Line:     line,
		Column:   col,
	}}
}
