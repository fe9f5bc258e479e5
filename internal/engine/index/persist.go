package index

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"zira/internal/shared/util"

	json "github.com/goccy/go-json"
)

// FormatVersion is bumped whenever the snapshot layout changes. Older
// snapshots are discarded and rebuilt.
const FormatVersion = 1

type persisted struct {
	Version int         `json:"version"`
	Root    string      `json:"root"`
	SavedAt time.Time   `json:"saved_at"`
	Files   []FileEntry `json:"files"`
}

// Save writes the working copy to path atomically. A crash during Save
// leaves the previous file intact.
func (x *ProjectIndex) Save(path string) error {
	doc := persisted{
		Version: FormatVersion,
		Root:    x.root,
		SavedAt: time.Now().UTC(),
		Files:   x.entries(),
	}
	err := util.WriteFileAtomic(path, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(doc)
	})
	if err != nil {
		return fmt.Errorf("save index %s: %w", path, err)
	}
	x.markSaved()
	return nil
}

// Load restores the index for root from path. It never fails: anything
// short of a complete snapshot for the same root yields an empty, published
// index whose status asks for a rescan.
func Load(path, root string) (*ProjectIndex, LoadStatus) {
	x := New(root)
	status := x.load(path)
	x.mu.Lock()
	x.status = status
	x.mu.Unlock()
	x.Publish()
	return x, status
}

func (x *ProjectIndex) load(path string) LoadStatus {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return LoadStatus{NeedsRescan: true, Reason: "no snapshot"}
		}
		return LoadStatus{NeedsRescan: true, Reason: fmt.Sprintf("unreadable snapshot: %v", err)}
	}

	var doc persisted
	if err := json.Unmarshal(data, &doc); err != nil {
		return LoadStatus{NeedsRescan: true, Reason: fmt.Sprintf("corrupt snapshot: %v", err)}
	}
	if doc.Version != FormatVersion {
		return LoadStatus{NeedsRescan: true, Reason: fmt.Sprintf("snapshot version %d, want %d", doc.Version, FormatVersion)}
	}
	if filepath.Clean(doc.Root) != x.root {
		return LoadStatus{NeedsRescan: true, Reason: fmt.Sprintf("snapshot is for %s", doc.Root)}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	for i := range doc.Files {
		fe := doc.Files[i]
		if fe.Path == "" {
			continue
		}
		if fe.Seq > x.seq {
			x.seq = fe.Seq
		}
		x.working[fe.Path] = &fe
	}
	return LoadStatus{}
}
