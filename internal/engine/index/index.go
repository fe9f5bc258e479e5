package index

import (
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"zira/internal/core/ports"
	"zira/internal/shared/observability"
)

// FileInfo is the on-disk state recorded with an entry; Refresh scans
// compare it to skip unchanged files.
type FileInfo struct {
	ModTime time.Time
	Size    int64
}

// Delta lists the names added and removed by one Apply.
type Delta struct {
	Added   []string
	Removed []string
}

func (d Delta) Empty() bool { return len(d.Added) == 0 && len(d.Removed) == 0 }

// LoadStatus reports how a persisted snapshot was restored.
type LoadStatus struct {
	NeedsRescan bool
	Reason      string
}

// ProjectIndex maps declaration names to locations for one project root.
//
// Mutations go to a private working copy and become visible to readers
// only through Publish. Readers call Snapshot, which never blocks on the
// writer and always returns a complete published version.
type ProjectIndex struct {
	root string

	mu      sync.Mutex
	working map[string]*FileEntry
	seq     uint64
	version uint64
	dirty   bool
	status  LoadStatus

	current atomic.Pointer[Snapshot]
}

// New returns an empty index for root.
func New(root string) *ProjectIndex {
	x := &ProjectIndex{
		root:    filepath.Clean(root),
		working: make(map[string]*FileEntry),
	}
	x.current.Store(newSnapshot(x.root, 0, map[string]*FileEntry{}))
	return x
}

func (x *ProjectIndex) Root() string { return x.root }

// Snapshot returns the latest published view.
func (x *ProjectIndex) Snapshot() *Snapshot { return x.current.Load() }

// LoadStatus returns the status recorded when the index was loaded.
func (x *ProjectIndex) LoadStatus() LoadStatus {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.status
}

// MarkComplete clears NeedsRescan after a full scan.
func (x *ProjectIndex) MarkComplete() {
	x.mu.Lock()
	x.status = LoadStatus{}
	x.mu.Unlock()
}

// Dirty reports whether the working copy has changes not yet saved.
func (x *ProjectIndex) Dirty() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.dirty
}

// Rel converts an absolute path under the root to the slash-separated key
// used by the index. Paths outside the root are returned cleaned.
func (x *ProjectIndex) Rel(path string) string {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(filepath.Clean(path))
	}
	rel, err := filepath.Rel(x.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(filepath.Clean(path))
	}
	return filepath.ToSlash(rel)
}

// Abs resolves an index key back to a filesystem path.
func (x *ProjectIndex) Abs(key string) string {
	if filepath.IsAbs(key) {
		return key
	}
	return filepath.Join(x.root, filepath.FromSlash(key))
}

// Entry returns the working-copy entry for key.
func (x *ProjectIndex) Entry(key string) (FileEntry, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	fe, ok := x.working[key]
	if !ok {
		return FileEntry{}, false
	}
	return *fe, true
}

// Keys returns every path in the working copy.
func (x *ProjectIndex) Keys() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return slices.Sorted(maps.Keys(x.working))
}

// Apply replaces the declarations of key and returns the name delta
// against the previous entry.
func (x *ProjectIndex) Apply(key string, info FileInfo, decls []ports.Declaration) Delta {
	x.mu.Lock()
	defer x.mu.Unlock()

	var before []ports.Declaration
	if old, ok := x.working[key]; ok {
		before = old.Declarations
	}
	x.seq++
	x.working[key] = &FileEntry{
		Path:         key,
		ModTime:      info.ModTime,
		Size:         info.Size,
		Seq:          x.seq,
		Declarations: slices.Clone(decls),
	}
	x.dirty = true
	return diffNames(before, decls)
}

// Remove drops key. It reports whether the key was indexed.
func (x *ProjectIndex) Remove(key string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.working[key]; !ok {
		return false
	}
	delete(x.working, key)
	x.dirty = true
	return true
}

// Rename moves the entries of oldKey to newKey without re-analysis. An
// existing newKey entry is replaced.
func (x *ProjectIndex) Rename(oldKey, newKey string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	fe, ok := x.working[oldKey]
	if !ok {
		return false
	}
	moved := *fe
	moved.Path = newKey
	x.seq++
	moved.Seq = x.seq
	delete(x.working, oldKey)
	x.working[newKey] = &moved
	x.dirty = true
	return true
}

// Clear empties the working copy.
func (x *ProjectIndex) Clear() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(x.working) > 0 {
		x.working = make(map[string]*FileEntry)
		x.dirty = true
	}
}

// Publish makes the working copy visible to readers.
func (x *ProjectIndex) Publish() *Snapshot {
	x.mu.Lock()
	x.version++
	snap := newSnapshot(x.root, x.version, maps.Clone(x.working))
	x.mu.Unlock()

	x.current.Store(snap)
	observability.IndexFiles.WithLabelValues(x.root).Set(float64(snap.FileCount()))
	observability.IndexSymbols.WithLabelValues(x.root).Set(float64(snap.DeclarationCount()))
	return snap
}

func (x *ProjectIndex) markSaved() {
	x.mu.Lock()
	x.dirty = false
	x.mu.Unlock()
}

// entries returns a stable copy of the working set for persistence.
func (x *ProjectIndex) entries() []FileEntry {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]FileEntry, 0, len(x.working))
	for _, key := range slices.Sorted(maps.Keys(x.working)) {
		out = append(out, *x.working[key])
	}
	return out
}

func diffNames(before, after []ports.Declaration) Delta {
	count := func(decls []ports.Declaration) map[string]int {
		m := make(map[string]int, len(decls))
		for _, d := range decls {
			m[d.Name]++
		}
		return m
	}
	old, cur := count(before), count(after)
	var d Delta
	for name, n := range cur {
		if old[name] < n {
			d.Added = append(d.Added, name)
		}
	}
	for name, n := range old {
		if cur[name] < n {
			d.Removed = append(d.Removed, name)
		}
	}
	slices.Sort(d.Added)
	slices.Sort(d.Removed)
	return d
}
