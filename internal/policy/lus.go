package policy

import "github.com/mergerfs-go/mergerfs/internal/branch"

// leastUsedSpace ("lus"): create on the qualifying branch with the least
// used space, distinct from lfs (which compares available, not used).
type leastUsedSpace struct{}

func init() { register("lus", leastUsedSpace{}) }

func pickByUsed(branches []*branch.Branch, least bool) *branch.Branch {
	var best *branch.Branch
	var bestUsed uint64
	for _, b := range branches {
		used := b.Used()
		if best == nil || (least && used < bestUsed) || (!least && used > bestUsed) {
			best, bestUsed = b, used
		}
	}
	return best
}

func (leastUsedSpace) Create(branches []*branch.Branch, p string) (*branch.Branch, error) {
	qualifying := filterQualifying(branches)
	if len(qualifying) == 0 {
		return nil, noBranches()
	}
	return pickByUsed(qualifying, true), nil
}

func (leastUsedSpace) Search(branches []*branch.Branch, p string) ([]*branch.Branch, error) {
	return firstFound{}.Search(branches, p)
}

func (leastUsedSpace) Action(branches []*branch.Branch, p string) ([]*branch.Branch, error) {
	return firstFound{}.Action(branches, p)
}
