package policy

import "github.com/mergerfs-go/mergerfs/internal/branch"

// leastFreeSpace ("lfs"): create on the qualifying branch with the least
// available space (still satisfying the reserve), packing branches tight
// before moving to the next.
type leastFreeSpace struct{}

func init() { register("lfs", leastFreeSpace{}) }

func (leastFreeSpace) Create(branches []*branch.Branch, p string) (*branch.Branch, error) {
	qualifying := filterQualifying(branches)
	if len(qualifying) == 0 {
		return nil, noBranches()
	}
	return pickByAvailable(qualifying, false), nil
}

func (leastFreeSpace) Search(branches []*branch.Branch, p string) ([]*branch.Branch, error) {
	return firstFound{}.Search(branches, p)
}

func (leastFreeSpace) Action(branches []*branch.Branch, p string) ([]*branch.Branch, error) {
	return firstFound{}.Action(branches, p)
}
