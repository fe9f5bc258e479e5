package util

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizePatternPath(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "Empty", input: "", expected: ""},
		{name: "Dot", input: ".", expected: ""},
		{name: "Trim", input: "  ./foo/bar  ", expected: "foo/bar"},
		{name: "Relative", input: "foo/../bar", expected: "bar"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := normalizePatternPath(tc.input); got != tc.expected {
				t.Fatalf("expected %q, got %q", tc.expected, got)
			}
		})
	}
}

func TestHasPathPrefix(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		path     string
		prefix   string
		expected bool
	}{
		{name: "Exact", path: "src/lib", prefix: "src/lib", expected: true},
		{name: "Nested", path: "src/lib/a.php", prefix: "src/lib", expected: true},
		{name: "Neighbor", path: "src/library", prefix: "src/lib", expected: false},
		{name: "MixedSeparators", path: `src\lib\a.php`, prefix: "src/lib", expected: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := HasPathPrefix(tc.path, tc.prefix); got != tc.expected {
				t.Fatalf("expected %v, got %v", tc.expected, got)
			}
		})
	}
}

func TestSortedStringKeys(t *testing.T) {
	t.Parallel()

	keys := SortedStringKeys(map[string]int{"b": 2, "a": 1, "c": 3})
	expected := []string{"a", "b", "c"}
	for i, key := range expected {
		if keys[i] != key {
			t.Fatalf("expected %q at %d, got %q", key, i, keys[i])
		}
	}
}

func TestNormalizeExtensions(t *testing.T) {
	t.Parallel()

	got := NormalizeExtensions([]string{"PHP", ".js", " ", "css "})
	for _, ext := range []string{".php", ".js", ".css"} {
		if !got[ext] {
			t.Fatalf("expected %s in %v", ext, got)
		}
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 extensions, got %v", got)
	}
}

func TestGlobSet(t *testing.T) {
	t.Parallel()

	set, err := CompileGlobs([]string{".git", "node_modules", "vendor*"})
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if !set.MatchBase("/src/app/node_modules") {
		t.Fatal("expected node_modules to match")
	}
	if !set.MatchBase("vendor-bin") {
		t.Fatal("expected vendor* to match")
	}
	if set.MatchBase("/src/app/lib") {
		t.Fatal("expected lib not to match")
	}
	if !set.MatchAnyDir("web/node_modules/pkg/index.js") {
		t.Fatal("expected nested node_modules to match")
	}
	if set.MatchAnyDir("src/vendor.js") {
		t.Fatal("file names are not directory components")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "index.json")

	if err := WriteFileAtomic(path, func(w io.Writer) error {
		_, err := io.WriteString(w, "v1")
		return err
	}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	failing := errors.New("encoder failed")
	err := WriteFileAtomic(path, func(w io.Writer) error {
		_, _ = io.WriteString(w, "half")
		return failing
	})
	if !errors.Is(err, failing) {
		t.Fatalf("expected encoder error, got %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("expected previous content to survive a failed write, got %q", got)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be cleaned up, got %d entries", len(entries))
	}
}
