package policy

import (
	"math/rand"

	"github.com/mergerfs-go/mergerfs/internal/branch"
)

// random ("rand"): create on a uniformly random qualifying branch.
type random struct{}

func init() { register("rand", random{}) }

func (random) Create(branches []*branch.Branch, p string) (*branch.Branch, error) {
	qualifying := filterQualifying(branches)
	if len(qualifying) == 0 {
		return nil, noBranches()
	}
	return qualifying[rand.Intn(len(qualifying))], nil
}

func (random) Search(branches []*branch.Branch, p string) ([]*branch.Branch, error) {
	return firstFound{}.Search(branches, p)
}

func (random) Action(branches []*branch.Branch, p string) ([]*branch.Branch, error) {
	return firstFound{}.Action(branches, p)
}
