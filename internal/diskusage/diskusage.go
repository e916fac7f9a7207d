// Package diskusage queries free/available/total space for a host path
// using golang.org/x/sys/unix's statfs binding directly.
package diskusage

import (
	"errors"

	"golang.org/x/sys/unix"
)

// ErrUnsupported is returned on platforms or filesystems where usage
// information cannot be determined.
var ErrUnsupported = errors.New("diskusage: not supported")

// Info mirrors the fields the policy catalog needs. Available is the
// unprivileged-available figure (statfs.Bavail), which space-aware
// policies compare against a branch's reserve, not Free (Bfree, which
// includes root-reserved blocks).
type Info struct {
	Total     uint64
	Free      uint64
	Available uint64
}

// New statfs(2)s path and returns its space usage.
func New(path string) (Info, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Info{}, ErrUnsupported
	}
	bsize := uint64(st.Bsize)
	return Info{
		Total:     st.Blocks * bsize,
		Free:      st.Bfree * bsize,
		Available: st.Bavail * bsize,
	}, nil
}

// ReadOnly reports whether the filesystem backing path is itself mounted
// read-only at the host level (distinct from a branch's configured access
// mode).
func ReadOnly(path string) (bool, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return false, ErrUnsupported
	}
	return st.Flags&unix.ST_RDONLY != 0, nil
}
