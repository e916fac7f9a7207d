// Package resolver implements the path resolver / namespace merger:
// given a logical path, enumerate branches where it exists, and merge
// directory listings with de-duplication.
//
// Existence checks are plain lstat calls against each branch's backing
// path, with no caching. Every branch is probed concurrently and
// results are folded back in branch order, the same
// concurrent-probe-then-first-match shape the path-preserving policies
// use for their own existence checks.
package resolver

import (
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/mergerfs-go/mergerfs/internal/branch"
)

// ParentOf returns the logical parent of p, using POSIX path semantics.
// The root is its own parent: ParentOf("/") and ParentOf("") are both "/".
func ParentOf(p string) string {
	if p == "/" || p == "" {
		return "/"
	}
	parent := path.Dir(strings.TrimRight(p, "/"))
	if parent == "." {
		parent = "/"
	}
	return parent
}

// Exists lstats branch b's backing copy of p; symlinks are not followed.
func Exists(b *branch.Branch, p string) (os.FileInfo, bool) {
	fi, err := os.Lstat(b.Backing(p))
	if err != nil {
		return nil, false
	}
	return fi, true
}

// ResolveExisting returns, in branch order, every branch where p exists.
// Each branch is probed concurrently; results are then filtered back
// into the original branch order.
func ResolveExisting(branches []*branch.Branch, p string) []*branch.Branch {
	hits := make([]bool, len(branches))
	var wg sync.WaitGroup
	for i, b := range branches {
		wg.Add(1)
		go func(i int, b *branch.Branch) {
			defer wg.Done()
			_, ok := Exists(b, p)
			hits[i] = ok
		}(i, b)
	}
	wg.Wait()
	var out []*branch.Branch
	for i, ok := range hits {
		if ok {
			out = append(out, branches[i])
		}
	}
	return out
}

// ResolveParent returns the branches where parent(p) exists, needed by
// path-preserving policies.
func ResolveParent(branches []*branch.Branch, p string) []*branch.Branch {
	return ResolveExisting(branches, ParentOf(p))
}

// DirEntry is one namespace-merged readdir result.
type DirEntry struct {
	Name   string
	Branch *branch.Branch
	Info   os.FileInfo
}

// Readdir walks every branch where p resolves to a directory, in branch
// order, and produces one merged listing where the first occurrence of
// each name wins. "." and ".." are not included; the FUSE front end
// synthesizes them once.
func Readdir(branches []*branch.Branch, p string) ([]DirEntry, error) {
	type branchListing struct {
		entries []os.DirEntry
		err     error
	}
	listings := make([]branchListing, len(branches))
	var wg sync.WaitGroup
	for i, b := range branches {
		wg.Add(1)
		go func(i int, b *branch.Branch) {
			defer wg.Done()
			ents, err := os.ReadDir(b.Backing(p))
			listings[i] = branchListing{entries: ents, err: err}
		}(i, b)
	}
	wg.Wait()

	seen := make(map[string]struct{})
	var merged []DirEntry
	var anyOK bool
	for i, l := range listings {
		if l.err != nil {
			continue
		}
		anyOK = true
		for _, de := range l.entries {
			name := de.Name()
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			info, err := de.Info()
			if err != nil {
				continue
			}
			merged = append(merged, DirEntry{Name: name, Branch: branches[i], Info: info})
		}
	}
	if !anyOK {
		return nil, os.ErrNotExist
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Name < merged[j].Name })
	return merged, nil
}

// CloneAncestors materializes every missing ancestor directory of p on
// destination branch dst, copying mode/owner/timestamps from wherever
// the ancestor is found first. Cloning is best-effort for metadata but
// mandatory for existence.
func CloneAncestors(branches []*branch.Branch, dst *branch.Branch, p string) error {
	parent := ParentOf(p)
	if parent == "/" {
		return os.MkdirAll(dst.Backing("/"), 0o755)
	}
	var segments []string
	cur := parent
	for cur != "/" {
		segments = append([]string{cur}, segments...)
		cur = ParentOf(cur)
	}
	for _, seg := range segments {
		target := dst.Backing(seg)
		if fi, err := os.Lstat(target); err == nil && fi.IsDir() {
			continue
		}
		mode := os.FileMode(0o755)
		var src os.FileInfo
		for _, b := range branches {
			if fi, ok := Exists(b, seg); ok && fi.IsDir() {
				mode = fi.Mode().Perm()
				src = fi
				break
			}
		}
		if err := os.Mkdir(target, mode); err != nil && !os.IsExist(err) {
			return err
		}
		if src != nil {
			if st, ok := src.Sys().(*syscall.Stat_t); ok {
				_ = os.Lchown(target, int(st.Uid), int(st.Gid))
			}
			_ = os.Chtimes(target, src.ModTime(), src.ModTime())
		}
	}
	return nil
}
