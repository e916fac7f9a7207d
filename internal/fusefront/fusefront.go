// Package fusefront bridges hanwen/go-fuse/v2's InodeEmbedder kernel
// callbacks to internal/unionfs's path-based dispatcher.
//
// Every node in the exposed tree is the same Node type; its logical path
// is recomputed on demand from the node's position in the kernel's
// inode tree (n.Path(nil)), since the dispatcher is itself stateless
// with respect to path. This mirrors the single-node-type tree shown in
// go-fuse's own dynamic_example_test.go, generalized from a synthetic
// number tree to a union of real backing directories.
package fusefront

import (
	"context"
	goerrors "errors"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/pkg/xattr"

	"github.com/mergerfs-go/mergerfs/internal/control"
	"github.com/mergerfs-go/mergerfs/internal/errs"
	"github.com/mergerfs-go/mergerfs/internal/handle"
	"github.com/mergerfs-go/mergerfs/internal/logging"
	"github.com/mergerfs-go/mergerfs/internal/unionfs"
)

var log = logging.For("fusefront")

// Node is the single InodeEmbedder type used for every entry in the
// exposed tree, including the control pseudo-file.
type Node struct {
	fs.Inode
	fsys *unionfs.Filesystem
}

var (
	_ fs.NodeLookuper     = (*Node)(nil)
	_ fs.NodeGetattrer    = (*Node)(nil)
	_ fs.NodeSetattrer    = (*Node)(nil)
	_ fs.NodeOpener       = (*Node)(nil)
	_ fs.NodeCreater      = (*Node)(nil)
	_ fs.NodeReader       = (*Node)(nil)
	_ fs.NodeWriter       = (*Node)(nil)
	_ fs.NodeFlusher      = (*Node)(nil)
	_ fs.NodeReleaser     = (*Node)(nil)
	_ fs.NodeFsyncer      = (*Node)(nil)
	_ fs.NodeAllocater    = (*Node)(nil)
	_ fs.NodeReaddirer    = (*Node)(nil)
	_ fs.NodeMkdirer      = (*Node)(nil)
	_ fs.NodeUnlinker     = (*Node)(nil)
	_ fs.NodeRmdirer      = (*Node)(nil)
	_ fs.NodeRenamer      = (*Node)(nil)
	_ fs.NodeLinker       = (*Node)(nil)
	_ fs.NodeSymlinker    = (*Node)(nil)
	_ fs.NodeReadlinker   = (*Node)(nil)
	_ fs.NodeAccesser     = (*Node)(nil)
	_ fs.NodeStatfser     = (*Node)(nil)
	_ fs.NodeGetxattrer   = (*Node)(nil)
	_ fs.NodeSetxattrer   = (*Node)(nil)
	_ fs.NodeListxattrer  = (*Node)(nil)
	_ fs.NodeRemovexattrer = (*Node)(nil)
)

// logicalPath returns the absolute logical path of n within the union.
func (n *Node) logicalPath() string {
	p := n.Path(nil)
	if p == "" {
		return "/"
	}
	return "/" + p
}

func childPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// Root constructs the root node of the exposed tree.
func Root(fsys *unionfs.Filesystem) fs.InodeEmbedder {
	return &Node{fsys: fsys}
}

// Mount mounts the tree rooted at fsys onto mountpoint and returns the
// running fuse.Server so the caller can block on it or shut it down.
func Mount(mountpoint string, fsys *unionfs.Filesystem, opts *fs.Options) (*fuse.Server, error) {
	if opts == nil {
		opts = &fs.Options{}
	}
	server, err := fs.Mount(mountpoint, Root(fsys), opts)
	if err != nil {
		return nil, err
	}
	return server, nil
}

func errnoOf(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	switch errs.KindOf(err) {
	case errs.KindNotFound:
		return syscall.ENOENT
	case errs.KindPermissionDenied:
		return syscall.EACCES
	case errs.KindReadOnly:
		return syscall.EROFS
	case errs.KindOutOfSpace:
		return syscall.ENOSPC
	case errs.KindCrossDevice:
		return syscall.EXDEV
	case errs.KindNotSupported:
		return syscall.ENOTSUP
	default:
		return syscall.EIO
	}
}

func fillAttr(out *fuse.Attr, fi os.FileInfo, ino uint64) {
	out.Ino = ino
	out.Size = uint64(fi.Size())
	out.Mode = uint32(fi.Mode().Perm())
	switch {
	case fi.IsDir():
		out.Mode |= syscall.S_IFDIR
	case fi.Mode()&os.ModeSymlink != 0:
		out.Mode |= syscall.S_IFLNK
	default:
		out.Mode |= syscall.S_IFREG
	}
	mtime := fi.ModTime()
	out.SetTimes(&mtime, &mtime, &mtime)
}

// --- Lookup / Getattr --------------------------------------------------

func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := childPath(n.logicalPath(), name)
	if p == control.Path {
		child := n.NewInode(ctx, &Node{fsys: n.fsys}, fs.StableAttr{Mode: syscall.S_IFREG, Ino: controlIno})
		out.Mode = syscall.S_IFREG | 0644
		return child, 0
	}
	fi, ino, err := n.fsys.Getattr(p)
	if err != nil {
		return nil, errnoOf(err)
	}
	mode := uint32(syscall.S_IFREG)
	if fi.IsDir() {
		mode = syscall.S_IFDIR
	}
	stable := fs.StableAttr{Mode: mode, Ino: ino}
	child := n.NewInode(ctx, &Node{fsys: n.fsys}, stable)
	fillAttr(&out.Attr, fi, ino)
	return child, 0
}

const controlIno = 1<<63 | 1 // reserved, never produced by inode.Calc's hashing range in practice

func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	p := n.logicalPath()
	if p == control.Path {
		out.Mode = syscall.S_IFREG | 0644
		out.Size = 0
		ct := n.fsys.Control.ChangeTime()
		out.SetTimes(&ct, &ct, &ct)
		return 0
	}
	fi, ino, err := n.fsys.Getattr(p)
	if err != nil {
		return errnoOf(err)
	}
	fillAttr(&out.Attr, fi, ino)
	return 0
}

// --- Setattr (chmod/chown/truncate/utimens) ----------------------------

func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	p := n.logicalPath()
	if p == control.Path {
		return 0
	}
	if mode, ok := in.GetMode(); ok {
		if err := n.fsys.Chmod(p, os.FileMode(mode).Perm()); err != nil {
			return errnoOf(err)
		}
	}
	if uid, ok := in.GetUID(); ok {
		gid, hasGID := in.GetGID()
		gidArg := -1
		if hasGID {
			gidArg = int(gid)
		}
		if err := n.fsys.Chown(p, int(uid), gidArg); err != nil {
			return errnoOf(err)
		}
	} else if gid, ok := in.GetGID(); ok {
		if err := n.fsys.Chown(p, -1, int(gid)); err != nil {
			return errnoOf(err)
		}
	}
	if size, ok := in.GetSize(); ok {
		if err := n.fsys.Truncate(p, int64(size)); err != nil {
			return errnoOf(err)
		}
	}
	if atime, ok := in.GetATime(); ok {
		mtime, hasM := in.GetMTime()
		if !hasM {
			mtime = atime
		}
		if err := n.fsys.Utimens(p, atime.UnixNano(), mtime.UnixNano()); err != nil {
			return errnoOf(err)
		}
	} else if mtime, ok := in.GetMTime(); ok {
		if err := n.fsys.Utimens(p, mtime.UnixNano(), mtime.UnixNano()); err != nil {
			return errnoOf(err)
		}
	}
	fi, ino, err := n.fsys.Getattr(p)
	if err != nil {
		return errnoOf(err)
	}
	fillAttr(&out.Attr, fi, ino)
	return 0
}

// --- Open / Create / Read / Write / Flush / Release / Fsync -----------

type fileHandle struct {
	fsys *unionfs.Filesystem
	h    *handle.Handle
}

var (
	_ fs.FileReader   = (*fileHandle)(nil)
	_ fs.FileWriter   = (*fileHandle)(nil)
	_ fs.FileFlusher  = (*fileHandle)(nil)
	_ fs.FileReleaser = (*fileHandle)(nil)
)

func (fh *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := fh.h.File.ReadAt(dest, off)
	if err != nil && !goerrors.Is(err, io.EOF) {
		return nil, errnoOf(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (fh *fileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := fh.fsys.Write(fh.h, data, off)
	if err != nil {
		return uint32(n), errnoOf(err)
	}
	return uint32(n), 0
}

func (fh *fileHandle) Flush(ctx context.Context) syscall.Errno {
	return 0
}

func (fh *fileHandle) Release(ctx context.Context) syscall.Errno {
	if err := fh.fsys.Handles.Close(fh.h.ID); err != nil {
		return errnoOf(err)
	}
	return 0
}

func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	p := n.logicalPath()
	if p == control.Path {
		return nil, fuse.FOPEN_DIRECT_IO, 0
	}
	h, err := n.fsys.Open(p, int(flags))
	if err != nil {
		return nil, 0, errnoOf(err)
	}
	return &fileHandle{fsys: n.fsys, h: h}, 0, 0
}

func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	p := childPath(n.logicalPath(), name)
	result, err := n.fsys.Create(p, int(flags), os.FileMode(mode))
	if err != nil {
		return nil, nil, 0, errnoOf(err)
	}
	fi, ino, gerr := n.fsys.Getattr(p)
	stable := fs.StableAttr{Mode: syscall.S_IFREG, Ino: ino}
	if gerr != nil {
		stable.Ino = 0
	} else {
		fillAttr(&out.Attr, fi, ino)
	}
	child := n.NewInode(ctx, &Node{fsys: n.fsys}, stable)
	return child, &fileHandle{fsys: n.fsys, h: result.Handle}, 0, 0
}

func (n *Node) Fsync(ctx context.Context, f fs.FileHandle, flags uint32) syscall.Errno {
	if fh, ok := f.(*fileHandle); ok {
		if err := fh.h.File.Sync(); err != nil {
			return errnoOf(err)
		}
	}
	return 0
}

// Allocate preallocates space on the handle's backing file, the same
// way Fsync reaches through to the open *os.File.
func (n *Node) Allocate(ctx context.Context, f fs.FileHandle, off uint64, size uint64, mode uint32) syscall.Errno {
	fh, ok := f.(*fileHandle)
	if !ok {
		return syscall.EBADF
	}
	if err := syscall.Fallocate(int(fh.h.File.Fd()), mode, int64(off), int64(size)); err != nil {
		var errno syscall.Errno
		if goerrors.As(err, &errno) {
			return errno
		}
		return syscall.EIO
	}
	return 0
}

// --- Readdir / Mkdir / Unlink / Rmdir / Rename / Link / Symlink --------

type dirStream struct {
	entries []fuse.DirEntry
	i       int
}

func (d *dirStream) HasNext() bool { return d.i < len(d.entries) }
func (d *dirStream) Next() (fuse.DirEntry, syscall.Errno) {
	e := d.entries[d.i]
	d.i++
	return e, 0
}
func (d *dirStream) Close() {}

func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	p := n.logicalPath()
	entries, err := n.fsys.Readdir(p)
	if err != nil {
		return nil, errnoOf(err)
	}
	out := make([]fuse.DirEntry, 0, len(entries)+1)
	if p == "/" {
		out = append(out, fuse.DirEntry{Name: strings.TrimPrefix(control.Path, "/"), Mode: syscall.S_IFREG})
	}
	for _, e := range entries {
		mode := uint32(syscall.S_IFREG)
		if e.Info.IsDir() {
			mode = syscall.S_IFDIR
		}
		out = append(out, fuse.DirEntry{Name: e.Name, Mode: mode})
	}
	return &dirStream{entries: out}, 0
}

func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := childPath(n.logicalPath(), name)
	if err := n.fsys.Mkdir(p, os.FileMode(mode)); err != nil {
		return nil, errnoOf(err)
	}
	fi, ino, err := n.fsys.Getattr(p)
	if err != nil {
		return nil, errnoOf(err)
	}
	fillAttr(&out.Attr, fi, ino)
	child := n.NewInode(ctx, &Node{fsys: n.fsys}, fs.StableAttr{Mode: syscall.S_IFDIR, Ino: ino})
	return child, 0
}

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	p := childPath(n.logicalPath(), name)
	return errnoOf(n.fsys.Unlink(p))
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	p := childPath(n.logicalPath(), name)
	return errnoOf(n.fsys.Rmdir(p))
}

func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	oldPath := childPath(n.logicalPath(), name)
	newParentNode, ok := newParent.(*Node)
	if !ok {
		return syscall.EINVAL
	}
	newPath := childPath(newParentNode.logicalPath(), newName)
	return errnoOf(n.fsys.Rename(oldPath, newPath))
}

func (n *Node) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	targetNode, ok := target.(*Node)
	if !ok {
		return nil, syscall.EINVAL
	}
	newPath := childPath(n.logicalPath(), name)
	if err := n.fsys.Link(targetNode.logicalPath(), newPath); err != nil {
		return nil, errnoOf(err)
	}
	fi, ino, err := n.fsys.Getattr(newPath)
	if err != nil {
		return nil, errnoOf(err)
	}
	fillAttr(&out.Attr, fi, ino)
	child := n.NewInode(ctx, &Node{fsys: n.fsys}, fs.StableAttr{Mode: syscall.S_IFREG, Ino: ino})
	return child, 0
}

func (n *Node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := childPath(n.logicalPath(), name)
	if _, err := n.fsys.Symlink(target, p); err != nil {
		return nil, errnoOf(err)
	}
	fi, ino, gerr := n.fsys.Getattr(p)
	if gerr != nil {
		return nil, errnoOf(gerr)
	}
	fillAttr(&out.Attr, fi, ino)
	child := n.NewInode(ctx, &Node{fsys: n.fsys}, fs.StableAttr{Mode: syscall.S_IFLNK, Ino: ino})
	return child, 0
}

func (n *Node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	p := n.logicalPath()
	b, _, err := n.fsys.Resolve(p)
	if err != nil {
		return nil, errnoOf(err)
	}
	target, err := os.Readlink(b.Backing(p))
	if err != nil {
		return nil, errnoOf(err)
	}
	return []byte(target), 0
}

// --- Access / Statfs / xattrs ------------------------------------------

func (n *Node) Access(ctx context.Context, mask uint32) syscall.Errno {
	p := n.logicalPath()
	if p == control.Path {
		return 0
	}
	_, _, err := n.fsys.Resolve(p)
	return errnoOf(err)
}

func (n *Node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	snap := n.fsys.Config.Load()
	agg, err := snap.Branches.Statfs(snap.StatfsMode)
	if err != nil {
		return errnoOf(err)
	}
	out.Bsize = agg.BlockSize
	out.Blocks = agg.Blocks
	out.Bfree = agg.BlocksFree
	out.Bavail = agg.BlocksFree
	return 0
}

func (n *Node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	p := n.logicalPath()
	var val string
	if p == control.Path {
		v, err := n.fsys.Control.Get(attr)
		if err != nil {
			return 0, syscall.ENODATA
		}
		val = v
	} else {
		b, _, rerr := n.fsys.Resolve(p)
		if rerr != nil {
			return 0, errnoOf(rerr)
		}
		data, xerr := xattr.Get(b.Backing(p), attr)
		if xerr != nil {
			return 0, syscall.ENODATA
		}
		val = string(data)
	}
	if len(dest) < len(val) {
		return uint32(len(val)), syscall.ERANGE
	}
	copy(dest, val)
	return uint32(len(val)), 0
}

func (n *Node) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	p := n.logicalPath()
	if p == control.Path {
		if err := n.fsys.Control.Set(attr, string(data)); err != nil {
			var errno syscall.Errno
			if goerrors.As(err, &errno) {
				return errno
			}
			return errnoOf(err)
		}
		return 0
	}
	return errnoOf(n.fsys.Setxattr(p, attr, data))
}

func (n *Node) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	p := n.logicalPath()
	if p == control.Path {
		return listToBuf(n.fsys.Control.List(), dest)
	}
	b, _, err := n.fsys.Resolve(p)
	if err != nil {
		return 0, errnoOf(err)
	}
	names, xerr := xattr.List(b.Backing(p))
	if xerr != nil {
		return 0, 0
	}
	return listToBuf(names, dest)
}

func (n *Node) Removexattr(ctx context.Context, attr string) syscall.Errno {
	p := n.logicalPath()
	if p == control.Path {
		return syscall.EINVAL
	}
	return errnoOf(n.fsys.Removexattr(p, attr))
}

func listToBuf(names []string, dest []byte) (uint32, syscall.Errno) {
	var total int
	for _, name := range names {
		total += len(name) + 1
	}
	if len(dest) < total {
		return uint32(total), syscall.ERANGE
	}
	off := 0
	for _, name := range names {
		copy(dest[off:], name)
		off += len(name)
		dest[off] = 0
		off++
	}
	return uint32(total), 0
}
