// Package index maintains the per-project declaration index used for
// navigation, completion and quick-find.
package index

import (
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"zira/internal/core/ports"
)

// FileEntry is the indexed state of one file. Entries are immutable once
// published.
type FileEntry struct {
	Path         string              `json:"path"`
	ModTime      time.Time           `json:"mod_time"`
	Size         int64               `json:"size"`
	Seq          uint64              `json:"seq"`
	Declarations []ports.Declaration `json:"declarations"`
}

// Location points at one declaration. Path is slash-separated and relative
// to the project root.
type Location struct {
	Path     string                `json:"path"`
	Line     int                   `json:"line"`
	Column   int                   `json:"column"`
	Kind     ports.DeclarationKind `json:"kind"`
	FullName string                `json:"full_name"`
}

// Declaration is a declaration together with the file it came from.
type Declaration struct {
	ports.Declaration
	Path string `json:"path"`
}

func (d Declaration) Location() Location {
	return Location{Path: d.Path, Line: d.Line, Column: d.Column, Kind: d.Kind, FullName: d.FullName}
}

// Snapshot is a consistent, read-only view of a project index. It is safe
// for concurrent use.
type Snapshot struct {
	root    string
	version uint64
	files   map[string]*FileEntry

	once   sync.Once
	paths  []string
	byName map[string]Location
	decls  int
}

func newSnapshot(root string, version uint64, files map[string]*FileEntry) *Snapshot {
	return &Snapshot{root: root, version: version, files: files}
}

// Root returns the absolute project root.
func (s *Snapshot) Root() string { return s.root }

// Version increases with every publish.
func (s *Snapshot) Version() uint64 { return s.version }

type ranked struct {
	seq uint64
	loc Location
}

func (s *Snapshot) build() {
	s.once.Do(func() {
		s.paths = make([]string, 0, len(s.files))
		best := make(map[string]ranked)
		for path, fe := range s.files {
			s.paths = append(s.paths, path)
			s.decls += len(fe.Declarations)
			for _, d := range fe.Declarations {
				loc := Declaration{Declaration: d, Path: path}.Location()
				rank(best, d.Name, fe.Seq, loc)
				if d.FullName != "" && d.FullName != d.Name {
					rank(best, d.FullName, fe.Seq, loc)
				}
			}
		}
		slices.Sort(s.paths)
		s.byName = make(map[string]Location, len(best))
		for name, b := range best {
			s.byName[name] = b.loc
		}
	})
}

// rank records loc under key unless a more recent declaration holds it.
// Later declarations in the same file win ties.
func rank(best map[string]ranked, key string, seq uint64, loc Location) {
	cur, ok := best[key]
	if ok && cur.seq > seq {
		return
	}
	if ok && cur.seq == seq && cur.loc.Path != loc.Path && cur.loc.Path > loc.Path {
		return
	}
	best[key] = ranked{seq: seq, loc: loc}
}

// FindDeclaration returns where name was most recently declared. Members
// are found by short name and by qualified name.
func (s *Snapshot) FindDeclaration(name string) (Location, bool) {
	s.build()
	loc, ok := s.byName[name]
	return loc, ok
}

// FindAllByPrefix yields every declaration whose short or qualified name
// starts with prefix,
// in file path order and extraction order within a file. Duplicates are
// kept. The sequence is lazy; stop ranging to end the walk.
func (s *Snapshot) FindAllByPrefix(prefix string) iter.Seq[Declaration] {
	return func(yield func(Declaration) bool) {
		s.build()
		for _, path := range s.paths {
			for _, d := range s.files[path].Declarations {
				if !strings.HasPrefix(d.Name, prefix) && !strings.HasPrefix(d.FullName, prefix) {
					continue
				}
				if !yield(Declaration{Declaration: d, Path: path}) {
					return
				}
			}
		}
	}
}

// Files returns the indexed paths in sorted order.
func (s *Snapshot) Files() []string {
	s.build()
	return slices.Clone(s.paths)
}

// File returns the entry for path.
func (s *Snapshot) File(path string) (*FileEntry, bool) {
	fe, ok := s.files[path]
	return fe, ok
}

func (s *Snapshot) FileCount() int { return len(s.files) }

func (s *Snapshot) DeclarationCount() int {
	s.build()
	return s.decls
}
