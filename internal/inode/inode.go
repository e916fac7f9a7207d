// Package inode computes the logical inode numbers exposed to the kernel
// and maintains the reverse map from an
// assigned inode back to the logical path that last claimed it.
//
// The registry shape (a guarded map plus explicit "claim" and "release"
// operations) follows the bookkeeping style of the gcsfuse inode
// registry (fs/inode/inode.go). The dispatcher claims an inode on every
// getattr, overwriting any earlier claim; nothing in this module calls
// Release, so entries stay until overwritten.
package inode

import (
	"hash/fnv"
	"os"
	"sync"
	"syscall"

	"github.com/mergerfs-go/mergerfs/internal/branch"
)

// hostIno extracts the host inode number from a stat result, falling
// back to a path hash of the file's name if the platform stat_t shape is
// unavailable (should not happen on the unix targets this module ships
// for).
func hostIno(st os.FileInfo) uint64 {
	if st == nil {
		return 0
	}
	if sys, ok := st.Sys().(*syscall.Stat_t); ok {
		return uint64(sys.Ino)
	}
	return hashString(st.Name())
}

// Mode selects how logical inode numbers are derived (control key
// "inodecalc").
type Mode int

const (
	// Passthrough reuses the backing file's host inode number unmodified.
	// Two branches can then legitimately expose the same logical path
	// under different inode numbers if their host inodes differ, and a
	// rename across branches can change a file's inode number.
	Passthrough Mode = iota
	// PathHash derives the inode from a hash of the logical path alone,
	// so a given path always maps to the same number regardless of which
	// branch currently backs it.
	PathHash
	// DevinoHash derives the inode from a hash of (branch identity, host
	// inode), so hard links within a branch keep the same logical inode
	// but renames across branches change it.
	DevinoHash
	// HybridHash uses PathHash for directories (whose identity should
	// survive content moving between branches) and DevinoHash for
	// non-directories.
	HybridHash
)

func ParseMode(s string) (Mode, error) {
	switch s {
	case "passthrough":
		return Passthrough, nil
	case "path-hash":
		return PathHash, nil
	case "devino-hash":
		return DevinoHash, nil
	case "hybrid-hash", "":
		return HybridHash, nil
	default:
		return 0, os.ErrInvalid
	}
}

func (m Mode) String() string {
	switch m {
	case Passthrough:
		return "passthrough"
	case PathHash:
		return "path-hash"
	case DevinoHash:
		return "devino-hash"
	case HybridHash:
		return "hybrid-hash"
	default:
		return "unknown"
	}
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// Calc computes the logical inode number for path p backed by branch b,
// whose host stat is st, under mode. The result is always non-zero:
// FUSE reserves 0 to mean "unset".
func Calc(mode Mode, b *branch.Branch, p string, st os.FileInfo, isDir bool) uint64 {
	effective := mode
	if mode == HybridHash {
		if isDir {
			effective = PathHash
		} else {
			effective = DevinoHash
		}
	}
	switch effective {
	case Passthrough:
		if ino := hostIno(st); ino != 0 {
			return ino
		}
		return hashString(p) | 1
	case PathHash:
		return hashString(p) | 1
	case DevinoHash:
		return (hashString(b.Root())^hostIno(st))&^1 | 1
	default:
		return hashString(p) | 1
	}
}

// Registry is the reverse map from a logical inode number back to the
// canonical logical path currently holding it. Multiple host hard links
// sharing one inode number under passthrough/devino-hash modes are a
// known aliasing limitation: Registry keeps only the most recently
// claimed path, and a stale claim is silently overwritten rather than
// tracked as a set, resolving to "last write wins".
type Registry struct {
	mu      sync.RWMutex
	byInode map[uint64]string
}

func NewRegistry() *Registry {
	return &Registry{byInode: make(map[uint64]string)}
}

// Claim records that ino now canonically refers to path p, returning the
// previously claimed path (if any) so callers can log an aliasing event.
func (r *Registry) Claim(ino uint64, p string) (previous string, hadPrevious bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous, hadPrevious = r.byInode[ino]
	r.byInode[ino] = p
	return previous, hadPrevious
}

// Lookup returns the path currently claiming ino.
func (r *Registry) Lookup(ino uint64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byInode[ino]
	return p, ok
}

// Release drops any claim on ino.
func (r *Registry) Release(ino uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byInode, ino)
}
