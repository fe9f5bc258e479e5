package app

import (
	"strconv"
	"strings"

	"zira/internal/core/ports"

	regexp "github.com/wasilibs/go-re2"
)

var (
	// file:12:5: error - message (phpcs --report=emacs, eslint unix, gcc style)
	lineColPattern = regexp.MustCompile(`^.*?:(\d+):(\d+):\s*(?:(error|warning|notice)\s*-?\s*)?(.*)$`)
	// file:12: message
	linePattern = regexp.MustCompile(`^.*?:(\d+):\s*(.*)$`)
	// "... on line 12" (php -l) or "line 12"
	proseLinePattern = regexp.MustCompile(`(?i)\bline (\d+)`)
)

// parseToolOutput turns checker output into diagnostics. Lines without a
// line number are dropped.
func parseToolOutput(out, source, defaultSeverity string) []ports.Diagnostic {
	var diags []ports.Diagnostic
	for _, raw := range strings.Split(out, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if m := lineColPattern.FindStringSubmatch(line); m != nil {
			sev := strings.ToLower(m[3])
			if sev == "" {
				sev = defaultSeverity
			}
			diags = append(diags, ports.Diagnostic{
				Line:     atoi(m[1]),
				Column:   atoi(m[2]),
				Message:  strings.TrimSpace(m[4]),
				Severity: sev,
				Source:   source,
			})
			continue
		}
		if m := linePattern.FindStringSubmatch(line); m != nil && !proseLinePattern.MatchString(line) {
			diags = append(diags, ports.Diagnostic{
				Line:     atoi(m[1]),
				Message:  strings.TrimSpace(m[2]),
				Severity: defaultSeverity,
				Source:   source,
			})
			continue
		}
		if m := proseLinePattern.FindStringSubmatch(line); m != nil {
			diags = append(diags, ports.Diagnostic{
				Line:     atoi(m[1]),
				Message:  line,
				Severity: defaultSeverity,
				Source:   source,
			})
		}
	}
	return diags
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
