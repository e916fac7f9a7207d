package branch

import (
	"fmt"
	"sync/atomic"
)

// Set is the ordered, atomically-replaceable branch sequence. Branches
// are never mutated in place; reconfiguration publishes a whole new
// sequence (copy-on-write).
type Set struct {
	branches atomic.Pointer[[]*Branch]
}

// NewSet builds a Set from an already-ordered branch slice.
func NewSet(bs []*Branch) (*Set, error) {
	s := &Set{}
	if err := Validate(bs); err != nil {
		return nil, err
	}
	cp := append([]*Branch(nil), bs...)
	s.branches.Store(&cp)
	return s, nil
}

// Validate enforces the branch-set invariant: at least one branch, with
// an all-ReadOnly set permitted (a fully read-only mount).
func Validate(bs []*Branch) error {
	if len(bs) == 0 {
		return fmt.Errorf("branch: branch set must contain at least one branch")
	}
	allReadOnly := true
	for _, b := range bs {
		if b.Mode() != ReadOnly {
			allReadOnly = false
			break
		}
	}
	_ = allReadOnly // an all-ReadOnly set is legal: a fully read-only mount
	return nil
}

// List returns the current ordered branch sequence. The returned slice is
// a snapshot: later Replace calls do not mutate it.
func (s *Set) List() []*Branch {
	p := s.branches.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Replace atomically swaps in a new branch sequence (copy-on-write).
// Handles referencing branches removed from the sequence keep those
// Branch objects alive simply because Go's GC won't collect an object a
// live FileHandle still points to.
func (s *Set) Replace(bs []*Branch) error {
	if err := Validate(bs); err != nil {
		return err
	}
	cp := append([]*Branch(nil), bs...)
	s.branches.Store(&cp)
	return nil
}

// StatfsMode selects how Set.Statfs aggregates across branches (control
// key user.mergerfs.statfs).
type StatfsMode int

const (
	StatfsBase StatfsMode = iota
	StatfsFull
	StatfsFF
)

func ParseStatfsMode(s string) (StatfsMode, error) {
	switch s {
	case "base":
		return StatfsBase, nil
	case "full":
		return StatfsFull, nil
	case "ff":
		return StatfsFF, nil
	default:
		return 0, fmt.Errorf("branch: unknown statfs mode %q", s)
	}
}

func (m StatfsMode) String() string {
	switch m {
	case StatfsBase:
		return "base"
	case StatfsFull:
		return "full"
	case StatfsFF:
		return "ff"
	default:
		return "unknown"
	}
}

// Aggregate is the result of a Set.Statfs call: block counts expressed
// in a fixed 4096-byte block size, derived from each branch's byte
// totals. Files is not filled in.
type Aggregate struct {
	BlockSize uint32
	Blocks    uint64
	BlocksFree uint64
	Files     uint64
}

// Statfs aggregates branch space according to mode. base reflects only
// the first branch; full sums every branch (the union's exposed
// capacity); ff mirrors base but is kept distinct so the control-file
// round-trip can tell the two apart even though their numeric results
// coincide today.
func (s *Set) Statfs(mode StatfsMode) (Aggregate, error) {
	bs := s.List()
	if len(bs) == 0 {
		return Aggregate{}, fmt.Errorf("branch: no branches")
	}
	const blockSize = 4096
	switch mode {
	case StatfsBase, StatfsFF:
		snap, err := bs[0].Space()
		if err != nil {
			return Aggregate{}, err
		}
		return Aggregate{
			BlockSize:  blockSize,
			Blocks:     snap.Total / blockSize,
			BlocksFree: snap.Available / blockSize,
		}, nil
	case StatfsFull:
		var agg Aggregate
		agg.BlockSize = blockSize
		for _, b := range bs {
			snap, err := b.Space()
			if err != nil {
				continue
			}
			agg.Blocks += snap.Total / blockSize
			agg.BlocksFree += snap.Available / blockSize
		}
		return agg, nil
	default:
		return Aggregate{}, fmt.Errorf("branch: unknown statfs mode %d", mode)
	}
}
