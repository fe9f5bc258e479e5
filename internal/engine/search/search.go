// Package search implements streaming cross-file text search and
// quick-find over a project index.
package search

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"zira/internal/core/errors"
	"zira/internal/shared/observability"
	"zira/internal/shared/util"

	"github.com/mattn/go-runewidth"
	regexp "github.com/wasilibs/go-re2"
)

type MatchMode string

const (
	MatchLiteral MatchMode = "literal"
	MatchWord    MatchMode = "word"
	MatchRegex   MatchMode = "regex"
)

const (
	// DefaultMaxLineWidth is the display width a match line is cut to.
	DefaultMaxLineWidth = 200
	// binarySniffBytes is how much of a file is checked for NUL bytes.
	binarySniffBytes = 8000
	ellipsis         = "…"
)

type Options struct {
	Root          string    `json:"root"`
	Pattern       string    `json:"pattern"`
	Mode          MatchMode `json:"mode"`
	CaseSensitive bool      `json:"case_sensitive"`
	// ExcludeDirs are globs matched against directory names.
	ExcludeDirs []string `json:"exclude_dirs,omitempty"`
	// Extensions limits the files searched; empty searches every file.
	Extensions   []string `json:"extensions,omitempty"`
	MaxLineWidth int      `json:"max_line_width,omitempty"`
}

// Match is one matching line. Column is the 1-based rune column of the
// first match on the line; Text may be truncated for display.
type Match struct {
	File      string `json:"file"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated,omitempty"`
}

type EventKind string

const (
	EventMatch     EventKind = "match"
	EventFinished  EventKind = "finished"
	EventCancelled EventKind = "cancelled"
)

// Summary counts what a search visited.
type Summary struct {
	Files   int `json:"files"`
	Matches int `json:"matches"`
}

// Event is one element of a search stream. Match is set for EventMatch;
// Summary is set on the terminal event.
type Event struct {
	Kind    EventKind `json:"kind"`
	Match   Match     `json:"match,omitzero"`
	Summary Summary   `json:"summary,omitzero"`
}

// Terminal reports whether e ends the stream.
func (e Event) Terminal() bool { return e.Kind != EventMatch }

// Compile builds the pattern for opts. Invalid regular expressions are
// reported as validation errors.
func Compile(opts Options) (*regexp.Regexp, error) {
	if opts.Pattern == "" {
		return nil, errors.New(errors.CodeValidationError, "search pattern is empty")
	}
	expr := opts.Pattern
	switch opts.Mode {
	case MatchLiteral, "":
		expr = regexp.QuoteMeta(expr)
	case MatchWord:
		expr = `\b` + regexp.QuoteMeta(expr) + `\b`
	case MatchRegex:
	default:
		return nil, errors.New(errors.CodeValidationError, fmt.Sprintf("unknown match mode %q", opts.Mode))
	}
	if !opts.CaseSensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeValidationError, "invalid search pattern")
	}
	return re, nil
}

// Stream returns a lazy search over opts.Root. Each range walks the tree
// again. The sequence always ends with exactly one Finished or Cancelled
// event; cancellation is checked between files.
func Stream(ctx context.Context, opts Options) (iter.Seq[Event], error) {
	re, err := Compile(opts)
	if err != nil {
		return nil, err
	}
	excludes, err := util.CompileGlobs(opts.ExcludeDirs)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeValidationError, "invalid exclude_dirs")
	}
	if opts.MaxLineWidth <= 0 {
		opts.MaxLineWidth = DefaultMaxLineWidth
	}
	s := &searcher{
		opts:     opts,
		re:       re,
		excludes: excludes,
		exts:     util.NormalizeExtensions(opts.Extensions),
	}
	return func(yield func(Event) bool) {
		s.run(ctx, yield)
	}, nil
}

type searcher struct {
	opts     Options
	re       *regexp.Regexp
	excludes util.GlobSet
	exts     map[string]bool
}

func (s *searcher) run(ctx context.Context, yield func(Event) bool) {
	var sum Summary
	files, err := s.files(ctx)
	if err != nil {
		yield(Event{Kind: EventCancelled, Summary: sum})
		return
	}
	for _, path := range files {
		if ctx.Err() != nil {
			yield(Event{Kind: EventCancelled, Summary: sum})
			return
		}
		sum.Files++
		n, ok := s.file(path, yield)
		sum.Matches += n
		if !ok {
			return
		}
	}
	yield(Event{Kind: EventFinished, Summary: sum})
}

func (s *searcher) files(ctx context.Context) ([]string, error) {
	var out []string
	err := filepath.WalkDir(s.opts.Root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if d != nil && d.IsDir() && path != s.opts.Root {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != s.opts.Root && s.excludes.MatchBase(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if len(s.exts) > 0 && !s.exts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		out = append(out, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(out)
	return out, nil
}

// file yields the matches in path and returns how many it found. ok is
// false when the consumer stopped ranging.
func (s *searcher) file(path string, yield func(Event) bool) (n int, ok bool) {
	data, err := os.ReadFile(path)
	if err != nil || isBinary(data) {
		return 0, true
	}
	rel, err := filepath.Rel(s.opts.Root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	for line, text := range lines(data) {
		loc := s.re.FindIndex(text)
		if loc == nil {
			continue
		}
		display, truncated := truncate(string(text), s.opts.MaxLineWidth)
		n++
		observability.SearchMatchesTotal.Inc()
		if !yield(Event{Kind: EventMatch, Match: Match{
			File:      rel,
			Line:      line,
			Column:    utf8.RuneCount(text[:loc[0]]) + 1,
			Text:      display,
			Truncated: truncated,
		}}) {
			return n, false
		}
	}
	return n, true
}

// lines yields every line of data with its 1-based number. The file is
// already in memory, so lines of any length are searched whole.
func lines(data []byte) iter.Seq2[int, []byte] {
	return func(yield func(int, []byte) bool) {
		for n := 1; len(data) > 0; n++ {
			text := data
			if i := bytes.IndexByte(data, '\n'); i >= 0 {
				text, data = data[:i], data[i+1:]
			} else {
				data = nil
			}
			if !yield(n, bytes.TrimSuffix(text, []byte("\r"))) {
				return
			}
		}
	}
}

func isBinary(data []byte) bool {
	if len(data) > binarySniffBytes {
		data = data[:binarySniffBytes]
	}
	return bytes.IndexByte(data, 0) >= 0
}

// truncate cuts s to width display cells, ellipsis included.
func truncate(s string, width int) (string, bool) {
	if runewidth.StringWidth(s) <= width {
		return s, false
	}
	target := width - runewidth.StringWidth(ellipsis)
	if target < 0 {
		target = 0
	}
	return runewidth.Truncate(s, target, "") + ellipsis, true
}
