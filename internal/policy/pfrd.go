package policy

import (
	"math/rand"

	"github.com/mergerfs-go/mergerfs/internal/branch"
)

// proportionalFreeRandomDistribution ("pfrd"): create on a qualifying
// branch chosen at random, weighted by each branch's available space —
// the supplemented weighted variant of "rand" (a branch with twice the
// free space of another is twice as likely to be picked).
type proportionalFreeRandomDistribution struct{}

func init() { register("pfrd", proportionalFreeRandomDistribution{}) }

func (proportionalFreeRandomDistribution) Create(branches []*branch.Branch, p string) (*branch.Branch, error) {
	qualifying := filterQualifying(branches)
	if len(qualifying) == 0 {
		return nil, noBranches()
	}
	weights := make([]uint64, len(qualifying))
	var total uint64
	for i, b := range qualifying {
		weights[i] = b.Available()
		total += weights[i]
	}
	if total == 0 {
		return qualifying[rand.Intn(len(qualifying))], nil
	}
	r := uint64(rand.Int63n(int64(total)))
	var cum uint64
	for i, w := range weights {
		cum += w
		if r < cum {
			return qualifying[i], nil
		}
	}
	return qualifying[len(qualifying)-1], nil
}

func (proportionalFreeRandomDistribution) Search(branches []*branch.Branch, p string) ([]*branch.Branch, error) {
	return firstFound{}.Search(branches, p)
}

func (proportionalFreeRandomDistribution) Action(branches []*branch.Branch, p string) ([]*branch.Branch, error) {
	return firstFound{}.Action(branches, p)
}
