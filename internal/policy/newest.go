package policy

import (
	"github.com/mergerfs-go/mergerfs/internal/branch"
	"github.com/mergerfs-go/mergerfs/internal/resolver"
)

// newest: search/action select the branch holding the most recently
// modified copy of p; create has nothing to compare against yet, so it
// falls back to first-qualifying.
type newest struct{}

func init() { register("newest", newest{}) }

func (newest) Create(branches []*branch.Branch, p string) (*branch.Branch, error) {
	return firstFound{}.Create(branches, p)
}

func pickNewest(branches []*branch.Branch, p string) *branch.Branch {
	var best *branch.Branch
	var bestMTime int64
	for _, b := range branches {
		fi, ok := resolver.Exists(b, p)
		if !ok {
			continue
		}
		mt := fi.ModTime().UnixNano()
		if best == nil || mt > bestMTime {
			best, bestMTime = b, mt
		}
	}
	return best
}

func (newest) Search(branches []*branch.Branch, p string) ([]*branch.Branch, error) {
	best := pickNewest(branches, p)
	if best == nil {
		return nil, notFound()
	}
	return []*branch.Branch{best}, nil
}

func (newest) Action(branches []*branch.Branch, p string) ([]*branch.Branch, error) {
	writable := filterWritable(branches)
	best := pickNewest(writable, p)
	if best == nil {
		return nil, notFound()
	}
	return []*branch.Branch{best}, nil
}
