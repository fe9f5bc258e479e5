package analyzer

import (
	"bytes"
	"fmt"
	"strings"

	"zira/internal/core/ports"

	"github.com/mattn/go-runewidth"
)

const tabWidth = 4

// StyleOptions configures CheckStyle. MaxLineWidth <= 0 disables the width
// check.
type StyleOptions struct {
	MaxLineWidth int
}

// CheckStyle runs the built-in formatting checks: trailing whitespace, line
// width in display cells, mixed tab/space indentation and a missing final
// newline.
func CheckStyle(text []byte, opts StyleOptions) []ports.Diagnostic {
	var out []ports.Diagnostic
	add := func(line, col int, msg string) {
		out = append(out, ports.Diagnostic{
			Line:     line,
			Column:   col,
			Message:  msg,
			Severity: "warning",
			Source:   "style",
		})
	}

	lines := bytes.Split(text, []byte("\n"))
	// Split yields an empty tail after a final newline.
	if n := len(lines); n > 0 && len(lines[n-1]) == 0 {
		lines = lines[:n-1]
	}

	for i, raw := range lines {
		line := string(bytes.TrimSuffix(raw, []byte("\r")))
		num := i + 1

		trimmed := strings.TrimRight(line, " \t")
		if len(trimmed) != len(line) {
			add(num, runewidth.StringWidth(trimmed)+1, "trailing whitespace")
		}

		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		if strings.Contains(indent, " ") && strings.Contains(indent, "\t") {
			add(num, 1, "mixed tabs and spaces in indentation")
		}

		if opts.MaxLineWidth > 0 {
			width := runewidth.StringWidth(strings.ReplaceAll(line, "\t", strings.Repeat(" ", tabWidth)))
			if width > opts.MaxLineWidth {
				add(num, opts.MaxLineWidth+1, fmt.Sprintf("line is %d columns wide (max %d)", width, opts.MaxLineWidth))
			}
		}
	}

	if len(text) > 0 && text[len(text)-1] != '\n' {
		add(len(lines), 1, "missing final newline")
	}
	return out
}
