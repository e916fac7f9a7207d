package policy

import "github.com/mergerfs-go/mergerfs/internal/branch"

// existingPathLeastFreeSpace ("eplfs"): among branches where the parent
// path already exists, pick the one with the least available space.
type existingPathLeastFreeSpace struct{}

func init() { register("eplfs", existingPathLeastFreeSpace{}) }

func (existingPathLeastFreeSpace) Create(branches []*branch.Branch, p string) (*branch.Branch, error) {
	candidates := existingPathOnly(branches, p)
	if len(candidates) == 0 {
		return nil, permissionDenied()
	}
	return pickByAvailable(candidates, false), nil
}

func (existingPathLeastFreeSpace) Search(branches []*branch.Branch, p string) ([]*branch.Branch, error) {
	return firstFound{}.Search(branches, p)
}

func (existingPathLeastFreeSpace) Action(branches []*branch.Branch, p string) ([]*branch.Branch, error) {
	return firstFound{}.Action(branches, p)
}
