// Package policy implements the policy catalog: named pluggable
// strategies that select branch(es) for an operation. Each policy id
// lives in its own file, with package-level register/Get tying the
// catalog together.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mergerfs-go/mergerfs/internal/branch"
	"github.com/mergerfs-go/mergerfs/internal/errs"
	"github.com/mergerfs-go/mergerfs/internal/resolver"
)

// Kind identifies which of the three policy flavors an operation needs.
type Kind int

const (
	KindCreate Kind = iota
	KindSearch
	KindAction
)

// Policy is the closed three-kind policy interface: every concrete
// policy implements Create, Search, and Action. Not every policy
// implements every method meaningfully — policies whose only distinct
// behavior is Create delegate Search/Action to ff, and the dispatcher
// (internal/unionfs) calls the method matching the category the policy
// was resolved under.
type Policy interface {
	// Create selects exactly one branch (or fails) to host a new entry
	// at path p.
	Create(branches []*branch.Branch, p string) (*branch.Branch, error)
	// Search selects one or more branches where p is assumed to exist,
	// in a specified order.
	Search(branches []*branch.Branch, p string) ([]*branch.Branch, error)
	// Action selects one or more branches on which a mutation should be
	// attempted.
	Action(branches []*branch.Branch, p string) ([]*branch.Branch, error)
}

var catalog = make(map[string]Policy)

func register(id string, p Policy) {
	catalog[strings.ToLower(id)] = p
}

// Get looks up a policy by its stable identifier.
func Get(id string) (Policy, error) {
	p, ok := catalog[strings.ToLower(id)]
	if !ok {
		return nil, fmt.Errorf("policy: unknown policy %q", id)
	}
	return p, nil
}

// IDs returns every registered policy id, sorted, for diagnostics.
func IDs() []string {
	ids := make([]string, 0, len(catalog))
	for id := range catalog {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// --- shared filtering helpers ---

func filterQualifying(branches []*branch.Branch) []*branch.Branch {
	var out []*branch.Branch
	for _, b := range branches {
		if b.Qualifies() {
			out = append(out, b)
		}
	}
	return out
}

func filterWritable(branches []*branch.Branch) []*branch.Branch {
	var out []*branch.Branch
	for _, b := range branches {
		if b.Writable() {
			out = append(out, b)
		}
	}
	return out
}

// existingPathOnly filters branches to create-policy candidates whose
// parent(p) already exists: the path-preserving "ep*" family.
func existingPathOnly(branches []*branch.Branch, p string) []*branch.Branch {
	qualifying := filterQualifying(branches)
	if len(qualifying) == 0 {
		return nil
	}
	return resolver.ResolveParent(qualifying, p)
}

// existingPathAction filters writable branches down to those where p
// itself exists: used by the Action method of ff and all, and of the
// policies that delegate to them.
func existingPathAction(branches []*branch.Branch, p string) []*branch.Branch {
	writable := filterWritable(branches)
	if len(writable) == 0 {
		return nil
	}
	return resolver.ResolveExisting(writable, p)
}

// existingPath resolves p against every branch regardless of writability
// (the Search category does not require a writable destination).
func existingPath(branches []*branch.Branch, p string) []*branch.Branch {
	return resolver.ResolveExisting(branches, p)
}

func noBranches() error { return errs.ErrNoBranches }

func permissionDenied() error {
	return errs.New(errs.KindPermissionDenied, fmt.Errorf("no branch qualifies"))
}

func notFound() error { return errs.ErrNotFound }
