package policy

import "github.com/mergerfs-go/mergerfs/internal/branch"

// mostFreeSpace ("mfs"): create on the qualifying branch with the most
// available space.
type mostFreeSpace struct{}

func init() { register("mfs", mostFreeSpace{}) }

func pickByAvailable(branches []*branch.Branch, most bool) *branch.Branch {
	var best *branch.Branch
	var bestAvail uint64
	for _, b := range branches {
		avail := b.Available()
		if best == nil || (most && avail > bestAvail) || (!most && avail < bestAvail) {
			best, bestAvail = b, avail
		}
	}
	return best
}

func (mostFreeSpace) Create(branches []*branch.Branch, p string) (*branch.Branch, error) {
	qualifying := filterQualifying(branches)
	if len(qualifying) == 0 {
		return nil, noBranches()
	}
	return pickByAvailable(qualifying, true), nil
}

func (mostFreeSpace) Search(branches []*branch.Branch, p string) ([]*branch.Branch, error) {
	return firstFound{}.Search(branches, p)
}

func (mostFreeSpace) Action(branches []*branch.Branch, p string) ([]*branch.Branch, error) {
	return firstFound{}.Action(branches, p)
}
