package policy

import "github.com/mergerfs-go/mergerfs/internal/branch"

// existingPathLeastNumberOfOpenFiles ("eplno"): like lno, but restricted
// to branches where the parent path already exists.
type existingPathLeastNumberOfOpenFiles struct{}

func init() { register("eplno", existingPathLeastNumberOfOpenFiles{}) }

func (existingPathLeastNumberOfOpenFiles) Create(branches []*branch.Branch, p string) (*branch.Branch, error) {
	candidates := existingPathOnly(branches, p)
	if len(candidates) == 0 {
		return nil, permissionDenied()
	}
	return pickByOpenCount(candidates), nil
}

func (existingPathLeastNumberOfOpenFiles) Search(branches []*branch.Branch, p string) ([]*branch.Branch, error) {
	return firstFound{}.Search(branches, p)
}

func (existingPathLeastNumberOfOpenFiles) Action(branches []*branch.Branch, p string) ([]*branch.Branch, error) {
	return firstFound{}.Action(branches, p)
}
