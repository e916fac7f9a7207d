// Package unionfs implements the operation dispatcher: the sequence
// every kernel filesystem request follows, wiring together the branch
// set, the policy catalog, the path resolver, the handle registry, the
// inode service, the control pseudo-file, and the move-on-ENOSPC
// engine.
//
// The dispatcher holds no kernel-protocol knowledge; internal/fusefront
// is the thin adapter translating hanwen/go-fuse/v2 callbacks into these
// methods and mapping errs.Kind back to a syscall.Errno.
package unionfs

import (
	goerrors "errors"
	"os"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/xattr"
	"github.com/sirupsen/logrus"

	"github.com/mergerfs-go/mergerfs/internal/branch"
	"github.com/mergerfs-go/mergerfs/internal/config"
	"github.com/mergerfs-go/mergerfs/internal/control"
	"github.com/mergerfs-go/mergerfs/internal/enospc"
	"github.com/mergerfs-go/mergerfs/internal/errs"
	"github.com/mergerfs-go/mergerfs/internal/handle"
	"github.com/mergerfs-go/mergerfs/internal/inode"
	"github.com/mergerfs-go/mergerfs/internal/logging"
	"github.com/mergerfs-go/mergerfs/internal/policy"
	"github.com/mergerfs-go/mergerfs/internal/resolver"
)

// Filesystem is the whole engine's entry point: one instance per mount.
type Filesystem struct {
	Config  *config.Store
	Handles *handle.Registry
	Inodes  *inode.Registry
	Control *control.File
	Enospc  *enospc.Engine

	log *logrus.Entry
}

func New(cfgStore *config.Store) *Filesystem {
	handles := handle.NewRegistry()
	log := logging.For("unionfs")
	fs := &Filesystem{
		Config:  cfgStore,
		Handles: handles,
		Inodes:  inode.NewRegistry(),
		Enospc:  enospc.New(log),
		log:     log,
	}
	fs.Control = control.New(cfgStore, log)
	policy.SetOpenCounter(handles)
	return fs
}

// Write performs a write against an open handle, bypassing policy
// evaluation entirely, except that a space-exhaustion
// failure triggers the move-on-ENOSPC engine when enabled.
func (f *Filesystem) Write(h *handle.Handle, data []byte, offset int64) (int, error) {
	n, err := h.File.WriteAt(data, offset)
	if err == nil {
		return n, nil
	}
	if !enospc.IsSpaceExhausted(err) {
		return n, translateHostError(err)
	}
	snap := f.Config.Load()
	if snap.MoveOnENOSPC == "" {
		return n, translateHostError(err)
	}
	destPolicyID := string(snap.MoveOnENOSPC)
	destPolicy, perr := policy.Get(destPolicyID)
	if perr != nil {
		destPolicy, _ = policy.Get("pfrd")
	}
	written, rerr := f.Enospc.Relocate(f.branches(), destPolicy, h, data, offset, translateHostError(err))
	if rerr != nil {
		return written, translateHostError(rerr)
	}
	return written, nil
}

// IsControlPath reports whether p is the reserved control pseudo-file
// path.
func IsControlPath(p string) bool {
	return path.Clean(p) == control.Path
}

func (f *Filesystem) branches() []*branch.Branch {
	return f.Config.Load().Branches.List()
}

func (f *Filesystem) bindings() *config.Bindings {
	return f.Config.Load().Bindings
}

// --- 4.5.1 Create-class operations -----------------------------------

// CreateResult is returned by Create for a successfully created file.
type CreateResult struct {
	Branch *branch.Branch
	Handle *handle.Handle
}

// Create implements the create-class dispatch for create/mknod/symlink
// style operations that open a descriptor. open flags and
// perm describe the host primitive to perform on the chosen branch once
// selected.
func (f *Filesystem) Create(p string, flags int, perm os.FileMode) (*CreateResult, error) {
	if IsControlPath(p) {
		return nil, errs.New(errs.KindPermissionDenied, syscall.EPERM)
	}

	createPolicy, policyID, err := f.bindings().Resolve("create", config.CategoryCreate)
	if err != nil {
		return nil, errs.New(errs.KindIOError, err)
	}

	branches := f.branches()
	chosen, cerr := createPolicy.Create(branches, p)
	if cerr != nil {
		return nil, classifyPolicyFailure(cerr)
	}

	if err := f.materializeParent(branches, chosen, p, policyID); err != nil {
		return nil, err
	}

	hostPath := chosen.Backing(p)
	file, err := os.OpenFile(hostPath, flags|os.O_CREATE, perm)
	if err != nil {
		if enospc.IsSpaceExhausted(err) {
			retryBranches := excludeBranch(branches, chosen)
			retryChosen, rerr := createPolicy.Create(retryBranches, p)
			if rerr == nil {
				if merr := f.materializeParent(branches, retryChosen, p, policyID); merr == nil {
					if f2, ferr := os.OpenFile(retryChosen.Backing(p), flags|os.O_CREATE, perm); ferr == nil {
						h := f.Handles.Open(p, retryChosen, f2, flags, false)
						return &CreateResult{Branch: retryChosen, Handle: h}, nil
					}
				}
			}
		}
		return nil, translateHostError(err)
	}
	h := f.Handles.Open(p, chosen, file, flags, false)
	return &CreateResult{Branch: chosen, Handle: h}, nil
}

// materializeParent implements step 4: path-preserving
// policies require parent(p) to already exist on the chosen branch (else
// cross-device); others get the parent chain cloned onto the chosen
// branch from wherever it already exists.
func (f *Filesystem) materializeParent(branches []*branch.Branch, chosen *branch.Branch, p, policyID string) error {
	if isPathPreserving(policyID) {
		if _, ok := resolver.Exists(chosen, resolver.ParentOf(p)); !ok {
			return errs.ErrCrossDevice
		}
		return nil
	}
	if err := resolver.CloneAncestors(branches, chosen, p); err != nil {
		return errs.New(errs.KindIOError, err)
	}
	return nil
}

func isPathPreserving(policyID string) bool {
	return strings.HasPrefix(policyID, "ep")
}

func excludeBranch(branches []*branch.Branch, skip *branch.Branch) []*branch.Branch {
	out := make([]*branch.Branch, 0, len(branches))
	for _, b := range branches {
		if b != skip {
			out = append(out, b)
		}
	}
	return out
}

// Mkdir implements the directory-creation member of the create class.
// Unlike Create, it does not open a descriptor, and under a policy whose
// id is "epall" it replicates the directory onto every qualifying
// branch rather than a single one.
func (f *Filesystem) Mkdir(p string, perm os.FileMode) error {
	if IsControlPath(p) {
		return errs.New(errs.KindPermissionDenied, syscall.EPERM)
	}
	createPolicy, policyID, err := f.bindings().Resolve("mkdir", config.CategoryCreate)
	if err != nil {
		return errs.New(errs.KindIOError, err)
	}
	branches := f.branches()

	if all, ok := createPolicy.(interface {
		CreateAll([]*branch.Branch, string) ([]*branch.Branch, error)
	}); ok {
		targets, aerr := all.CreateAll(branches, p)
		if aerr != nil {
			return classifyPolicyFailure(aerr)
		}
		var outcomes errs.Errors
		for _, b := range targets {
			outcomes = append(outcomes, os.Mkdir(b.Backing(p), perm))
		}
		return outcomes.Err()
	}

	chosen, cerr := createPolicy.Create(branches, p)
	if cerr != nil {
		return classifyPolicyFailure(cerr)
	}
	if err := f.materializeParent(branches, chosen, p, policyID); err != nil {
		return err
	}
	if err := os.Mkdir(chosen.Backing(p), perm); err != nil {
		return translateHostError(err)
	}
	return nil
}

// Symlink implements the symlink member of the create class: select a
// branch exactly as Create does, but perform os.Symlink instead of
// opening a descriptor.
func (f *Filesystem) Symlink(target, p string) (*branch.Branch, error) {
	if IsControlPath(p) {
		return nil, errs.New(errs.KindPermissionDenied, syscall.EPERM)
	}
	createPolicy, policyID, err := f.bindings().Resolve("symlink", config.CategoryCreate)
	if err != nil {
		return nil, errs.New(errs.KindIOError, err)
	}
	branches := f.branches()
	chosen, cerr := createPolicy.Create(branches, p)
	if cerr != nil {
		return nil, classifyPolicyFailure(cerr)
	}
	if err := f.materializeParent(branches, chosen, p, policyID); err != nil {
		return nil, err
	}
	if err := os.Symlink(target, chosen.Backing(p)); err != nil {
		return nil, translateHostError(err)
	}
	return chosen, nil
}

// --- 4.5.2 Search-class operations -----------------------------------

// Resolve implements the search-class dispatch for read-only lookups
// (getattr, readlink, access, getxattr, listxattr): it returns the first
// branch where p exists under the search policy.
func (f *Filesystem) Resolve(p string) (*branch.Branch, os.FileInfo, error) {
	if IsControlPath(p) {
		return nil, nil, errIsControlPath
	}
	searchPolicy, _, err := f.bindings().Resolve("open", config.CategorySearch)
	if err != nil {
		return nil, nil, errs.New(errs.KindIOError, err)
	}
	branches := f.branches()
	hits, serr := searchPolicy.Search(branches, p)
	if serr != nil {
		return nil, nil, classifyPolicyFailure(serr)
	}
	for _, b := range hits {
		if fi, ok := resolver.Exists(b, p); ok {
			return b, fi, nil
		}
	}
	return nil, nil, errs.ErrNotFound
}

var errIsControlPath = errs.New(errs.KindNone, nil)

// Open implements the open member of the search class: resolve, then
// register a handle bound to the chosen branch.
func (f *Filesystem) Open(p string, flags int) (*handle.Handle, error) {
	b, _, err := f.Resolve(p)
	if err == errIsControlPath {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	file, oerr := os.OpenFile(b.Backing(p), flags, 0)
	if oerr != nil {
		return nil, translateHostError(oerr)
	}
	return f.Handles.Open(p, b, file, flags, flags&syscall.O_DIRECT != 0), nil
}

// Getattr resolves p and computes its logical inode.
func (f *Filesystem) Getattr(p string) (os.FileInfo, uint64, error) {
	b, fi, err := f.Resolve(p)
	if err != nil {
		return nil, 0, err
	}
	ino := inode.Calc(f.Config.Load().InodeCalc, b, p, fi, fi.IsDir())
	f.Inodes.Claim(ino, p)
	return fi, ino, nil
}

// --- 4.5.3 Action-class operations -----------------------------------

// actionBranches resolves the action policy for fn and returns the
// branch list it selects for p.
func (f *Filesystem) actionBranches(fn, p string) ([]*branch.Branch, error) {
	actionPolicy, _, err := f.bindings().Resolve(fn, config.CategoryAction)
	if err != nil {
		return nil, errs.New(errs.KindIOError, err)
	}
	hits, aerr := actionPolicy.Action(f.branches(), p)
	if aerr != nil {
		return nil, classifyPolicyFailure(aerr)
	}
	return hits, nil
}

// Action runs do against every branch the action policy for fn selects,
// and aggregates the results step 3: success if any
// branch succeeded.
func (f *Filesystem) Action(fn, p string, do func(*branch.Branch) error) error {
	if IsControlPath(p) {
		return errs.New(errs.KindPermissionDenied, syscall.EPERM)
	}
	branches, err := f.actionBranches(fn, p)
	if err != nil {
		return err
	}
	var outcomes errs.Errors
	for _, b := range branches {
		outcomes = append(outcomes, translateHostError(do(b)))
	}
	return outcomes.Err()
}

// Unlink removes p from every branch the action policy selects.
func (f *Filesystem) Unlink(p string) error {
	return f.Action("unlink", p, func(b *branch.Branch) error {
		return os.Remove(b.Backing(p))
	})
}

// Rmdir removes directory p from every branch the action policy selects.
func (f *Filesystem) Rmdir(p string) error {
	return f.Action("rmdir", p, func(b *branch.Branch) error {
		return os.Remove(b.Backing(p))
	})
}

// Rename implements step 5: same-branch rename where
// possible, copy-then-unlink emulation when source and destination
// resolve to different branches.
func (f *Filesystem) Rename(oldPath, newPath string) error {
	if IsControlPath(oldPath) || IsControlPath(newPath) {
		return errs.New(errs.KindPermissionDenied, syscall.EPERM)
	}
	branches, err := f.actionBranches("rename", oldPath)
	if err != nil {
		return err
	}
	createPolicy, _, cperr := f.bindings().Resolve("create", config.CategoryCreate)
	if cperr != nil {
		return errs.New(errs.KindIOError, cperr)
	}

	var outcomes errs.Errors
	for _, src := range branches {
		dstBranch, derr := createPolicy.Create(f.branches(), newPath)
		if derr != nil {
			dstBranch = src
		}
		if dstBranch == src {
			outcomes = append(outcomes, translateHostError(os.Rename(src.Backing(oldPath), src.Backing(newPath))))
			continue
		}
		outcomes = append(outcomes, f.crossBranchMove(src, dstBranch, oldPath, newPath))
	}
	return outcomes.Err()
}

func (f *Filesystem) crossBranchMove(src, dst *branch.Branch, oldPath, newPath string) error {
	if err := resolver.CloneAncestors([]*branch.Branch{src}, dst, newPath); err != nil {
		return errs.New(errs.KindIOError, err)
	}
	in, err := os.Open(src.Backing(oldPath))
	if err != nil {
		return translateHostError(err)
	}
	defer in.Close()
	out, err := os.Create(dst.Backing(newPath))
	if err != nil {
		return translateHostError(err)
	}
	defer out.Close()
	if _, err := out.ReadFrom(in); err != nil {
		_ = os.Remove(dst.Backing(newPath))
		return translateHostError(err)
	}
	if err := os.Remove(src.Backing(oldPath)); err != nil {
		return translateHostError(err)
	}
	return nil
}

// Link implements step 6: hard links are intra-branch only;
// a cross-branch link request is reported as cross-device.
func (f *Filesystem) Link(oldPath, newPath string) error {
	branches, err := f.actionBranches("link", oldPath)
	if err != nil {
		return err
	}
	var outcomes errs.Errors
	for _, b := range branches {
		if _, ok := resolver.Exists(b, resolver.ParentOf(newPath)); !ok {
			outcomes = append(outcomes, errs.ErrCrossDevice)
			continue
		}
		outcomes = append(outcomes, translateHostError(os.Link(b.Backing(oldPath), b.Backing(newPath))))
	}
	return outcomes.Err()
}

// Chmod, Chown, Truncate, and Utimens are the remaining setattr-class
// action operations; each fans out across the
// action policy's chosen branches exactly like Unlink/Rmdir.

func (f *Filesystem) Chmod(p string, mode os.FileMode) error {
	return f.Action("chmod", p, func(b *branch.Branch) error {
		return os.Chmod(b.Backing(p), mode)
	})
}

func (f *Filesystem) Chown(p string, uid, gid int) error {
	return f.Action("chown", p, func(b *branch.Branch) error {
		return os.Chown(b.Backing(p), uid, gid)
	})
}

func (f *Filesystem) Truncate(p string, size int64) error {
	return f.Action("truncate", p, func(b *branch.Branch) error {
		return os.Truncate(b.Backing(p), size)
	})
}

func (f *Filesystem) Utimens(p string, atime, mtime int64) error {
	return f.Action("utimens", p, func(b *branch.Branch) error {
		return os.Chtimes(b.Backing(p), timeFromUnixNano(atime), timeFromUnixNano(mtime))
	})
}

// Setxattr and Removexattr fan out a real branch-file xattr mutation
// across the action policy's chosen branches.

func (f *Filesystem) Setxattr(p, name string, data []byte) error {
	return f.Action("setxattr", p, func(b *branch.Branch) error {
		return xattr.Set(b.Backing(p), name, data)
	})
}

func (f *Filesystem) Removexattr(p, name string) error {
	return f.Action("removexattr", p, func(b *branch.Branch) error {
		return xattr.Remove(b.Backing(p), name)
	})
}

func timeFromUnixNano(ns int64) time.Time {
	return time.Unix(0, ns)
}

// --- 4.5.5 Directory streams -------------------------------------------

// Readdir streams a freshly merged listing through the resolver on every
// call rather than caching it, so concurrent writers are always
// reflected in the next listing.
func (f *Filesystem) Readdir(p string) ([]resolver.DirEntry, error) {
	if IsControlPath(p) {
		return nil, errs.New(errs.KindNotSupported, syscall.ENOTDIR)
	}
	entries, err := resolver.Readdir(f.branches(), p)
	if err != nil {
		return nil, errs.ErrNotFound
	}
	return entries, nil
}

// --- helpers -----------------------------------------------------------

func classifyPolicyFailure(err error) error {
	if e, ok := err.(*errs.Error); ok {
		return e
	}
	return errs.New(errs.KindIOError, err)
}

// translateHostError classifies a raw host syscall error into the errs
// taxonomy, leaving nil untouched.
func translateHostError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case os.IsNotExist(err):
		return errs.New(errs.KindNotFound, err)
	case os.IsPermission(err):
		return errs.New(errs.KindPermissionDenied, err)
	case errIsErrno(err, syscall.ENOSPC), errIsErrno(err, syscall.EDQUOT):
		return errs.New(errs.KindOutOfSpace, err)
	case errIsErrno(err, syscall.EROFS):
		return errs.New(errs.KindReadOnly, err)
	case errIsErrno(err, syscall.EXDEV):
		return errs.New(errs.KindCrossDevice, err)
	case errIsErrno(err, syscall.ENOTSUP), errIsErrno(err, syscall.ENOSYS):
		return errs.New(errs.KindNotSupported, err)
	default:
		return errs.New(errs.KindIOError, err)
	}
}

func errIsErrno(err error, target syscall.Errno) bool {
	var errno syscall.Errno
	if goerrors.As(err, &errno) {
		return errno == target
	}
	return false
}
