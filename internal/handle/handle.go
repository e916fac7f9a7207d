// Package handle implements the open-file-handle registry: an opaque-id
// table binding a kernel file handle to the branch, host descriptor,
// and flags it was opened with, independent of later branch-sequence
// replacement.
//
// The registry is a sync.RWMutex-protected map keyed by an
// atomically-incremented id counter.
package handle

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/mergerfs-go/mergerfs/internal/branch"
)

// Handle binds one kernel-visible file handle to its backing host state.
type Handle struct {
	ID         uint64
	LogicalPath string
	Branch     *branch.Branch
	File       *os.File
	Flags      int
	DirectIO   bool
}

// Registry is the concurrency-safe open-handle table.
type Registry struct {
	mu      sync.RWMutex
	byID    map[uint64]*Handle
	nextID  atomic.Uint64
	perRoot map[string]int // live count by branch root, for lno/eplno
}

func NewRegistry() *Registry {
	return &Registry{
		byID:    make(map[uint64]*Handle),
		perRoot: make(map[string]int),
	}
}

// Open registers a new handle and returns it with a freshly assigned id.
func (r *Registry) Open(logicalPath string, b *branch.Branch, f *os.File, flags int, directIO bool) *Handle {
	id := r.nextID.Add(1)
	h := &Handle{
		ID:          id,
		LogicalPath: logicalPath,
		Branch:      b,
		File:        f,
		Flags:       flags,
		DirectIO:    directIO,
	}
	r.mu.Lock()
	r.byID[id] = h
	r.perRoot[b.Root()]++
	r.mu.Unlock()
	return h
}

// Lookup returns the handle for id, if still open.
func (r *Registry) Lookup(id uint64) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byID[id]
	return h, ok
}

// Close removes id from the registry and closes its host descriptor.
// Closing an id twice is a no-op on the second call ("a
// release on an unknown id is a no-op").
func (r *Registry) Close(id uint64) error {
	r.mu.Lock()
	h, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
		r.perRoot[h.Branch.Root()]--
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return h.File.Close()
}

// OpenCount reports how many handles are currently open against branch
// root (satisfies the policy package's openCounter interface for
// lno/eplno).
func (r *Registry) OpenCount(root string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.perRoot[root]
}

// Len reports the number of currently open handles, for diagnostics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
