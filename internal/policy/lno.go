package policy

import (
	"sync"

	"github.com/mergerfs-go/mergerfs/internal/branch"
)

// openCounter is satisfied by internal/handle's registry; kept as a small
// interface here so policy stays independent of the handle package.
type openCounter interface {
	OpenCount(root string) int
}

var (
	countersMu sync.RWMutex
	counters   openCounter
)

// SetOpenCounter wires the live handle registry into the lno/eplno
// policies (called once during startup wiring, internal/unionfs). Without
// a registered counter, lno/eplno degrade to ff.
func SetOpenCounter(c openCounter) {
	countersMu.Lock()
	counters = c
	countersMu.Unlock()
}

func openCountOf(b *branch.Branch) int {
	countersMu.RLock()
	c := counters
	countersMu.RUnlock()
	if c == nil {
		return 0
	}
	return c.OpenCount(b.Root())
}

// leastNumberOfOpenFiles ("lno"): create on the qualifying branch with
// the fewest currently-open file handles.
type leastNumberOfOpenFiles struct{}

func init() { register("lno", leastNumberOfOpenFiles{}) }

func pickByOpenCount(branches []*branch.Branch) *branch.Branch {
	var best *branch.Branch
	bestCount := -1
	for _, b := range branches {
		c := openCountOf(b)
		if best == nil || c < bestCount {
			best, bestCount = b, c
		}
	}
	return best
}

func (leastNumberOfOpenFiles) Create(branches []*branch.Branch, p string) (*branch.Branch, error) {
	qualifying := filterQualifying(branches)
	if len(qualifying) == 0 {
		return nil, noBranches()
	}
	return pickByOpenCount(qualifying), nil
}

func (leastNumberOfOpenFiles) Search(branches []*branch.Branch, p string) ([]*branch.Branch, error) {
	return firstFound{}.Search(branches, p)
}

func (leastNumberOfOpenFiles) Action(branches []*branch.Branch, p string) ([]*branch.Branch, error) {
	return firstFound{}.Action(branches, p)
}
