package policy

import "github.com/mergerfs-go/mergerfs/internal/branch"

// firstFound is the "ff" policy: the first qualifying/existing branch in
// configured order wins. It is the simplest policy and
// the usual illustration of the three-method shape.
type firstFound struct{}

func init() { register("ff", firstFound{}) }

func (firstFound) Create(branches []*branch.Branch, p string) (*branch.Branch, error) {
	for _, b := range branches {
		if b.Qualifies() {
			return b, nil
		}
	}
	return nil, noBranches()
}

func (firstFound) Search(branches []*branch.Branch, p string) ([]*branch.Branch, error) {
	hits := existingPath(branches, p)
	if len(hits) == 0 {
		return nil, notFound()
	}
	return hits[:1], nil
}

func (firstFound) Action(branches []*branch.Branch, p string) ([]*branch.Branch, error) {
	hits := existingPathAction(branches, p)
	if len(hits) == 0 {
		return nil, notFound()
	}
	return hits[:1], nil
}
