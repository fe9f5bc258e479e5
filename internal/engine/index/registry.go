package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Registry owns the process-wide set of open project indexes. Indexes are
// loaded lazily on first Open and saved on Close.
type Registry struct {
	stateDir string
	logger   *slog.Logger

	mu     sync.Mutex
	open   map[string]*ProjectIndex
	closed bool
	group  singleflight.Group
}

func NewRegistry(stateDir string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		stateDir: stateDir,
		logger:   logger,
		open:     make(map[string]*ProjectIndex),
	}
}

// SnapshotPath returns where the index for root is persisted.
func (r *Registry) SnapshotPath(root string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(root)))
	return filepath.Join(r.stateDir, "index", hex.EncodeToString(sum[:])[:16]+".json")
}

// Open returns the index for root, loading its snapshot on first use.
// Concurrent opens of the same root share one load.
func (r *Registry) Open(ctx context.Context, root string) (*ProjectIndex, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("index registry is closed")
	}
	if x, ok := r.open[root]; ok {
		r.mu.Unlock()
		return x, nil
	}
	r.mu.Unlock()

	ch := r.group.DoChan(root, func() (any, error) {
		x, status := Load(r.SnapshotPath(root), root)
		if status.NeedsRescan {
			r.logger.Info("project index needs rescan", "root", root, "reason", status.Reason)
		} else {
			r.logger.Debug("project index loaded", "root", root, "files", x.Snapshot().FileCount())
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if existing, ok := r.open[root]; ok {
			return existing, nil
		}
		r.open[root] = x
		return x, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ProjectIndex), nil
	}
}

// Get returns an already open index without loading.
func (r *Registry) Get(root string) (*ProjectIndex, bool) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	x, ok := r.open[root]
	return x, ok
}

// Save persists the index for root if it is open.
func (r *Registry) Save(root string) error {
	x, ok := r.Get(root)
	if !ok {
		return nil
	}
	return x.Save(r.SnapshotPath(x.Root()))
}

// Reset forgets the in-memory index for root and deletes its snapshot, so
// the next Open starts empty.
func (r *Registry) Reset(root string) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.open, root)
	r.mu.Unlock()

	if err := os.Remove(r.SnapshotPath(root)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove index snapshot: %w", err)
	}
	return nil
}

// Roots lists the open project roots.
func (r *Registry) Roots() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.open))
	for root := range r.open {
		out = append(out, root)
	}
	return out
}

// Close saves every dirty index and rejects further opens.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	open := make([]*ProjectIndex, 0, len(r.open))
	for _, x := range r.open {
		open = append(open, x)
	}
	r.open = make(map[string]*ProjectIndex)
	r.mu.Unlock()

	var errs []error
	for _, x := range open {
		if !x.Dirty() {
			continue
		}
		if err := x.Save(r.SnapshotPath(x.Root())); err != nil {
			errs = append(errs, err)
		}
	}
	return stdErrors.Join(errs...)
}
