// Package owners tracks which documents and projects are open so that
// background results can be matched to the request that produced them.
package owners

import (
	"path/filepath"
	"sync"

	"zira/internal/core/jobs"
)

type tab struct {
	generation uint64
	path       string
}

// Registry hands out generation-tagged owner tokens. Tab slots are reused
// after close, the way editor tab indexes are, but every Open draws a new
// generation so a token from a closed tab never matches its successor.
type Registry struct {
	mu         sync.RWMutex
	generation uint64
	tabs       map[int]tab
	focused    jobs.Owner
	projects   map[string]uint64
}

func NewRegistry() *Registry {
	return &Registry{
		tabs:     make(map[int]tab),
		projects: make(map[string]uint64),
	}
}

// Open registers a document in the lowest free slot and focuses it.
func (r *Registry) Open(path string) jobs.Owner {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot := 0
	for {
		if _, used := r.tabs[slot]; !used {
			break
		}
		slot++
	}
	r.generation++
	r.tabs[slot] = tab{generation: r.generation, path: path}
	owner := jobs.Owner{Slot: slot, Generation: r.generation}
	r.focused = owner
	return owner
}

// Close releases the owner's slot. Closing a stale token is a no-op.
func (r *Registry) Close(owner jobs.Owner) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.liveLocked(owner) {
		return false
	}
	delete(r.tabs, owner.Slot)
	if r.focused == owner {
		r.focused = jobs.NoOwner
	}
	return true
}

// Focus makes owner the active document.
func (r *Registry) Focus(owner jobs.Owner) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.liveLocked(owner) {
		return false
	}
	r.focused = owner
	return true
}

func (r *Registry) Focused() jobs.Owner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.focused
}

// Path returns the document path recorded at Open.
func (r *Registry) Path(owner jobs.Owner) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.liveLocked(owner) {
		return "", false
	}
	return r.tabs[owner.Slot].path, true
}

// OpenProject returns the owner for root, creating it on first use.
func (r *Registry) OpenProject(root string) jobs.Owner {
	key := filepath.Clean(root)
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen, ok := r.projects[key]; ok {
		return jobs.Owner{Slot: jobs.ProjectSlot, Generation: gen}
	}
	r.generation++
	r.projects[key] = r.generation
	return jobs.Owner{Slot: jobs.ProjectSlot, Generation: r.generation}
}

func (r *Registry) CloseProject(root string) bool {
	key := filepath.Clean(root)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[key]; !ok {
		return false
	}
	delete(r.projects, key)
	return true
}

// IsLive reports whether owner still refers to an open tab or project.
func (r *Registry) IsLive(owner jobs.Owner) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.liveLocked(owner)
}

// IsCurrent reports whether a result for owner may still be applied: the
// project is open, or the tab is open and focused.
func (r *Registry) IsCurrent(owner jobs.Owner) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if owner.IsProject() {
		return r.liveLocked(owner)
	}
	return r.liveLocked(owner) && r.focused == owner
}

func (r *Registry) liveLocked(owner jobs.Owner) bool {
	if owner.IsZero() {
		return false
	}
	if owner.Slot == jobs.ProjectSlot {
		for _, gen := range r.projects {
			if gen == owner.Generation {
				return true
			}
		}
		return false
	}
	t, ok := r.tabs[owner.Slot]
	return ok && t.generation == owner.Generation
}
