package policy

import "github.com/mergerfs-go/mergerfs/internal/branch"

// all: search targets every branch where p exists and action every
// writable branch where p exists; create is undefined for "all" since a
// create policy must pick exactly one host, so it delegates to ff.
type all struct{}

func init() { register("all", all{}) }

func (all) Create(branches []*branch.Branch, p string) (*branch.Branch, error) {
	return firstFound{}.Create(branches, p)
}

func (all) Search(branches []*branch.Branch, p string) ([]*branch.Branch, error) {
	hits := existingPath(branches, p)
	if len(hits) == 0 {
		return nil, notFound()
	}
	return hits, nil
}

// Action targets every writable branch where p exists: a mutation never
// fabricates the path on a branch that never had it.
func (all) Action(branches []*branch.Branch, p string) ([]*branch.Branch, error) {
	hits := existingPathAction(branches, p)
	if len(hits) == 0 {
		return nil, notFound()
	}
	return hits, nil
}
