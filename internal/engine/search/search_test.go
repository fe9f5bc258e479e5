package search

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"zira/internal/core/errors"
	"zira/internal/core/ports"
	"zira/internal/engine/index"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func collect(t *testing.T, ctx context.Context, opts Options) []Event {
	t.Helper()
	seq, err := Stream(ctx, opts)
	require.NoError(t, err)
	var out []Event
	for ev := range seq {
		out = append(out, ev)
	}
	return out
}

func TestStream_LiteralCaseInsensitive(t *testing.T) {
	root := tree(t, map[string]string{
		"a.txt":              "hello World\nnothing\nworld again\n",
		"sub/b.php":          "<?php echo 'WORLD';\n",
		"node_modules/x.txt": "world in vendor\n",
	})

	events := collect(t, context.Background(), Options{
		Root:        root,
		Pattern:     "world",
		ExcludeDirs: []string{"node_modules"},
	})
	require.Len(t, events, 4)
	assert.Equal(t, Match{File: "a.txt", Line: 1, Column: 7, Text: "hello World"}, events[0].Match)
	assert.Equal(t, 3, events[1].Match.Line)
	assert.Equal(t, "sub/b.php", events[2].Match.File)

	last := events[3]
	assert.Equal(t, EventFinished, last.Kind)
	assert.True(t, last.Terminal())
	assert.Equal(t, Summary{Files: 2, Matches: 3}, last.Summary)
}

func TestStream_WordAndCase(t *testing.T) {
	root := tree(t, map[string]string{"a.js": "var foo = 1;\nvar foobar = foo;\nFoo();\n"})

	word := collect(t, context.Background(), Options{Root: root, Pattern: "foo", Mode: MatchWord, CaseSensitive: true})
	require.Len(t, word, 3)
	assert.Equal(t, 1, word[0].Match.Line)
	assert.Equal(t, 2, word[1].Match.Line)
	assert.Equal(t, 14, word[1].Match.Column, "whole word skips foobar")

	regex := collect(t, context.Background(), Options{Root: root, Pattern: `^F\w+\(`, Mode: MatchRegex, CaseSensitive: true})
	require.Len(t, regex, 2)
	assert.Equal(t, 3, regex[0].Match.Line)
}

func TestStream_ExtensionsAndBinary(t *testing.T) {
	root := tree(t, map[string]string{
		"a.php": "needle\n",
		"b.js":  "needle\n",
		"c.bin": "needle\x00\x01",
	})

	events := collect(t, context.Background(), Options{Root: root, Pattern: "needle", Extensions: []string{"php", ".BIN"}})
	require.Len(t, events, 2)
	assert.Equal(t, "a.php", events[0].Match.File)
	assert.Equal(t, Summary{Files: 2, Matches: 1}, events[1].Summary)
}

func TestStream_TruncatesWideLines(t *testing.T) {
	long := strings.Repeat("x", 30) + "needle" + strings.Repeat("y", 30)
	root := tree(t, map[string]string{"a.txt": long + "\n"})

	events := collect(t, context.Background(), Options{Root: root, Pattern: "needle", MaxLineWidth: 20})
	require.Len(t, events, 2)
	m := events[0].Match
	assert.True(t, m.Truncated)
	assert.Equal(t, 31, m.Column, "column refers to the full line")
	assert.Equal(t, strings.Repeat("x", 19)+"…", m.Text)
}

func TestStream_OversizedLineDoesNotHideRest(t *testing.T) {
	huge := strings.Repeat("a", 2<<20) + "TODO"
	root := tree(t, map[string]string{"min.js": huge + "\r\nTODO after\nlast TODO"})

	events := collect(t, context.Background(), Options{Root: root, Pattern: "TODO", MaxLineWidth: 20})
	require.Len(t, events, 4)
	assert.Equal(t, 1, events[0].Match.Line)
	assert.Equal(t, 2<<20+1, events[0].Match.Column)
	assert.True(t, events[0].Match.Truncated)
	assert.Equal(t, Match{File: "min.js", Line: 2, Column: 1, Text: "TODO after"}, events[1].Match)
	assert.Equal(t, 3, events[2].Match.Line)
	assert.Equal(t, Summary{Files: 1, Matches: 3}, events[3].Summary)
}

func TestStream_CancelAfterSecondFile(t *testing.T) {
	root := tree(t, map[string]string{
		"1.txt": "hit one\n",
		"2.txt": "hit two\nhit two again\n",
		"3.txt": "hit three\n",
		"4.txt": "hit four\n",
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seq, err := Stream(ctx, Options{Root: root, Pattern: "hit"})
	require.NoError(t, err)

	var files []string
	var terminal []Event
	for ev := range seq {
		if ev.Terminal() {
			terminal = append(terminal, ev)
			continue
		}
		files = append(files, ev.Match.File)
		if ev.Match.File == "2.txt" {
			cancel()
		}
	}
	assert.Equal(t, []string{"1.txt", "2.txt", "2.txt"}, files)
	require.Len(t, terminal, 1)
	assert.Equal(t, EventCancelled, terminal[0].Kind)
	assert.Equal(t, Summary{Files: 2, Matches: 3}, terminal[0].Summary)
}

func TestStream_EarlyBreak(t *testing.T) {
	root := tree(t, map[string]string{"a.txt": "x\nx\nx\n"})
	seq, err := Stream(context.Background(), Options{Root: root, Pattern: "x"})
	require.NoError(t, err)

	n := 0
	for range seq {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestStream_InvalidPattern(t *testing.T) {
	_, err := Stream(context.Background(), Options{Root: t.TempDir(), Pattern: "(", Mode: MatchRegex})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidationError))

	_, err = Stream(context.Background(), Options{Root: t.TempDir()})
	assert.True(t, errors.IsCode(err, errors.CodeValidationError))
}

func TestQuickFind(t *testing.T) {
	x := index.New("/proj")
	x.Apply("lib/repo.php", index.FileInfo{}, []ports.Declaration{
		{Name: "Repository", FullName: "Repository", Kind: ports.KindClass, Line: 2},
		{Name: "report", FullName: "Repository::report", Kind: ports.KindMethod, Line: 5},
		{Name: "REPO_TABLE", FullName: "REPO_TABLE", Kind: ports.KindConstant, Line: 1},
	})
	x.Apply("src/util.js", index.FileInfo{}, []ports.Declaration{
		{Name: "repeat", FullName: "repeat", Kind: ports.KindFunction, Line: 9},
	})
	x.Apply("docs/reports.js", index.FileInfo{}, nil)
	snap := x.Publish()

	var streamed []Hit
	hits, err := QuickFind(context.Background(), snap, "Rep", 0, func(h Hit) { streamed = append(streamed, h) })
	require.NoError(t, err)

	var labels []string
	for _, h := range hits {
		labels = append(labels, h.Label)
	}
	assert.Equal(t, []string{
		"class: Repository",
		"method: Repository::report",
		"function: repeat",
		"docs/reports.js",
		"lib/repo.php",
	}, labels)
	assert.Equal(t, hits, streamed)

	limited, err := QuickFind(context.Background(), snap, "rep", 2, nil)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := QuickFind(context.Background(), snap, "  ", 0, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}
