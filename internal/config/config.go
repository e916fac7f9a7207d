// Package config implements the function-to-policy bindings and the
// versioned configuration snapshot that the dispatcher and control file
// read and replace atomically.
//
// Bindings is a two-level table (per-category policy ids plus
// per-function overrides); the atomic-pointer publish/read discipline
// follows branch.Set's copy-on-write pattern.
package config

import (
	"fmt"
	"sync/atomic"

	"github.com/mergerfs-go/mergerfs/internal/branch"
	"github.com/mergerfs-go/mergerfs/internal/inode"
	"github.com/mergerfs-go/mergerfs/internal/policy"
)

// Category groups related functions under one policy binding, mirroring
// mergerfs's own func/category split so a single setxattr can rebind an
// entire class at once.
type Category string

const (
	CategoryCreate Category = "create"
	CategorySearch Category = "search"
	CategoryAction Category = "action"
)

// defaultPolicyFor is the built-in policy id used when no explicit
// per-function or per-category binding overrides it.
var defaultPolicyFor = map[Category]string{
	CategoryCreate: "pfrd",
	CategorySearch: "ff",
	CategoryAction: "epall",
}

// Bindings is the function/category -> policy-id table. Per-function
// overrides take precedence over their category's default.
type Bindings struct {
	Category map[Category]string
	Func     map[string]string // function name -> policy id, overrides Category
}

func NewBindings() *Bindings {
	cat := make(map[Category]string, len(defaultPolicyFor))
	for k, v := range defaultPolicyFor {
		cat[k] = v
	}
	return &Bindings{Category: cat, Func: make(map[string]string)}
}

// Resolve returns the policy bound to function fn under category c.
func (b *Bindings) Resolve(fn string, c Category) (policy.Policy, string, error) {
	id, ok := b.Func[fn]
	if !ok {
		id, ok = b.Category[c]
		if !ok {
			id = defaultPolicyFor[c]
		}
	}
	p, err := policy.Get(id)
	if err != nil {
		return nil, "", err
	}
	return p, id, nil
}

// clone returns a deep-enough copy for copy-on-write replacement.
func (b *Bindings) clone() *Bindings {
	nb := &Bindings{
		Category: make(map[Category]string, len(b.Category)),
		Func:     make(map[string]string, len(b.Func)),
	}
	for k, v := range b.Category {
		nb.Category[k] = v
	}
	for k, v := range b.Func {
		nb.Func[k] = v
	}
	return nb
}

// MoveOnENOSPCPolicy selects which create policy picks the destination
// branch for the move-on-ENOSPC engine.
type MoveOnENOSPCPolicy string

// Snapshot is one immutable, versioned configuration: the active
// branch set reference plus bindings,
// inode-calc mode, and cache/IO toggles. A new Snapshot is published
// wholesale on every control-file write; readers never see a partially
// updated configuration.
type Snapshot struct {
	Version         uint64
	Branches        *branch.Set
	Bindings        *Bindings
	InodeCalc       inode.Mode
	MoveOnENOSPC    MoveOnENOSPCPolicy
	StatfsMode      branch.StatfsMode
	CacheFiles      bool
	CacheAttrTTL    bool
	DirectIO        bool
}

// Store is the atomically-replaceable current Snapshot: the active
// configuration is read via an atomic load, and replaced via an atomic
// store of a whole new value.
type Store struct {
	cur atomic.Pointer[Snapshot]
}

func NewStore(initial *Snapshot) *Store {
	s := &Store{}
	s.Replace(initial)
	return s
}

// Load returns the current snapshot. Safe for concurrent use against
// concurrent Replace/Update calls.
func (s *Store) Load() *Snapshot {
	return s.cur.Load()
}

// Replace atomically installs snap as the current configuration,
// incrementing its Version over the previous snapshot's.
func (s *Store) Replace(snap *Snapshot) {
	prev := s.cur.Load()
	if prev != nil {
		snap.Version = prev.Version + 1
	} else {
		snap.Version = 1
	}
	s.cur.Store(snap)
}

// Update applies mutate to a clone of the current snapshot and publishes
// the result, without readers ever observing a half-mutated snapshot.
func (s *Store) Update(mutate func(*Snapshot) error) error {
	prev := s.cur.Load()
	if prev == nil {
		return fmt.Errorf("config: no snapshot initialized")
	}
	next := *prev
	next.Bindings = prev.Bindings.clone()
	if err := mutate(&next); err != nil {
		return err
	}
	s.Replace(&next)
	return nil
}
