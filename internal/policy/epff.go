package policy

import "github.com/mergerfs-go/mergerfs/internal/branch"

// existingPathFirstFound ("epff"): create on the first qualifying branch
// where the parent path already exists; search/action behave like ff but
// restricted to where the path already exists ("path-preserving
// policy").
type existingPathFirstFound struct{}

func init() { register("epff", existingPathFirstFound{}) }

func (existingPathFirstFound) Create(branches []*branch.Branch, p string) (*branch.Branch, error) {
	candidates := existingPathOnly(branches, p)
	if len(candidates) == 0 {
		return nil, permissionDenied()
	}
	return candidates[0], nil
}

func (existingPathFirstFound) Search(branches []*branch.Branch, p string) ([]*branch.Branch, error) {
	return firstFound{}.Search(branches, p)
}

func (existingPathFirstFound) Action(branches []*branch.Branch, p string) ([]*branch.Branch, error) {
	return firstFound{}.Action(branches, p)
}
