package util

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// normalizePatternPath cleans and normalizes paths for matcher/pattern usage.
func normalizePatternPath(s string) string {
	trimmed := strings.TrimSpace(strings.ReplaceAll(s, "\\", "/"))
	clean := path.Clean(trimmed)
	if clean == "." {
		return ""
	}
	return strings.TrimPrefix(clean, "./")
}

// HasPathPrefix returns true when path equals prefix or is contained within prefix.
func HasPathPrefix(path, prefix string) bool {
	path = normalizePatternPath(path)
	prefix = normalizePatternPath(prefix)
	if path == "" || prefix == "" {
		return path == prefix
	}
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}

// SortedStringKeys returns the map's keys in sorted order.
func SortedStringKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// NormalizeExtensions lowercases extensions and ensures a leading dot.
func NormalizeExtensions(exts []string) map[string]bool {
	out := make(map[string]bool, len(exts))
	for _, ext := range exts {
		e := strings.ToLower(strings.TrimSpace(ext))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out[e] = true
	}
	return out
}

// GlobSet matches a base name against compiled patterns.
type GlobSet []glob.Glob

func CompileGlobs(patterns []string) (GlobSet, error) {
	set := make(GlobSet, 0, len(patterns))
	for _, pattern := range patterns {
		p := strings.TrimSpace(pattern)
		if p == "" {
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile glob %q: %w", p, err)
		}
		set = append(set, g)
	}
	return set, nil
}

// MatchBase reports whether the base name of p matches any pattern.
func (s GlobSet) MatchBase(p string) bool {
	base := filepath.Base(p)
	for _, g := range s {
		if g.Match(base) {
			return true
		}
	}
	return false
}

// MatchAnyDir reports whether any directory component of the relative
// path rel matches a pattern. The final component is not checked.
func (s GlobSet) MatchAnyDir(rel string) bool {
	if len(s) == 0 {
		return false
	}
	parts := strings.Split(normalizePatternPath(rel), "/")
	for _, part := range parts[:len(parts)-1] {
		for _, g := range s {
			if g.Match(part) {
				return true
			}
		}
	}
	return false
}

// WriteFileAtomic streams content into a temp file beside path and renames
// it into place, so readers see the old file or the new one and never a
// partial write.
func WriteFileAtomic(path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	w := bufio.NewWriter(tmp)
	if err := write(w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		// os.Rename does not replace existing files on Windows.
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				if rmErr := os.Remove(path); rmErr != nil {
					return fmt.Errorf("remove existing %q: %w", path, rmErr)
				}
				if err2 := os.Rename(tmpPath, path); err2 != nil {
					return fmt.Errorf("rename: %w", err2)
				}
				return nil
			}
		}
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
