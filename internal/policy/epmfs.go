package policy

import "github.com/mergerfs-go/mergerfs/internal/branch"

// existingPathMostFreeSpace ("epmfs"): among branches where the parent
// path already exists, pick the one with the most available space.
type existingPathMostFreeSpace struct{}

func init() { register("epmfs", existingPathMostFreeSpace{}) }

func (existingPathMostFreeSpace) Create(branches []*branch.Branch, p string) (*branch.Branch, error) {
	candidates := existingPathOnly(branches, p)
	if len(candidates) == 0 {
		return nil, permissionDenied()
	}
	return pickByAvailable(candidates, true), nil
}

func (existingPathMostFreeSpace) Search(branches []*branch.Branch, p string) ([]*branch.Branch, error) {
	return firstFound{}.Search(branches, p)
}

func (existingPathMostFreeSpace) Action(branches []*branch.Branch, p string) ([]*branch.Branch, error) {
	return firstFound{}.Action(branches, p)
}
