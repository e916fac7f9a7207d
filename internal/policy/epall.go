package policy

import "github.com/mergerfs-go/mergerfs/internal/branch"

// existingPathAll ("epall"): create on every qualifying branch whose
// parent path already exists; action fans out the same way as "all".
// There is no meaningful Search distinction from "all" since search
// never creates anything, so it is an alias.
type existingPathAll struct{}

func init() { register("epall", existingPathAll{}) }

// Create for epall is exceptional among create policies: "create on
// every qualifying branch" has no single-branch equivalent, but the
// Policy.Create contract requires one branch, so the dispatcher
// (internal/unionfs) special-cases epall by calling CreateAll instead of
// Create for multi-target creation (e.g. mkdir replicated everywhere the
// parent exists). Create here returns the first such candidate so epall
// still satisfies the Policy interface for callers that only need one.
func (existingPathAll) Create(branches []*branch.Branch, p string) (*branch.Branch, error) {
	candidates := existingPathOnly(branches, p)
	if len(candidates) == 0 {
		return nil, permissionDenied()
	}
	return candidates[0], nil
}

// CreateAll returns every qualifying branch whose parent path exists,
// for dispatcher operations that replicate a create across all of them.
func (existingPathAll) CreateAll(branches []*branch.Branch, p string) ([]*branch.Branch, error) {
	candidates := existingPathOnly(branches, p)
	if len(candidates) == 0 {
		return nil, permissionDenied()
	}
	return candidates, nil
}

func (existingPathAll) Search(branches []*branch.Branch, p string) ([]*branch.Branch, error) {
	return all{}.Search(branches, p)
}

func (existingPathAll) Action(branches []*branch.Branch, p string) ([]*branch.Branch, error) {
	return all{}.Action(branches, p)
}
