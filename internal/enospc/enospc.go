// Package enospc implements the move-on-ENOSPC engine: when a write
// against an open handle fails with ENOSPC/EDQUOT, the engine
// transparently relocates the file to a roomier branch and retries the
// write, so the caller never sees the failure.
//
// Relocation copies the file to its destination, renames it into place,
// and only then unlinks the source, so a crash mid-relocation never
// loses data.
package enospc

import (
	"errors"
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/pkg/xattr"
	"github.com/sirupsen/logrus"

	"github.com/mergerfs-go/mergerfs/internal/branch"
	"github.com/mergerfs-go/mergerfs/internal/handle"
	"github.com/mergerfs-go/mergerfs/internal/policy"
)

// IsSpaceExhausted reports whether err is the trigger condition for this
// engine: a write returning ENOSPC or EDQUOT.
func IsSpaceExhausted(err error) bool {
	return errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT)
}

// Engine relocates a handle's backing file to another branch on space
// exhaustion.
type Engine struct {
	Log *logrus.Entry

	mu sync.Mutex
}

func New(log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{Log: log.WithField("component", "enospc")}
}

// Relocate performs the full pause/select/copy/swap/unlink/resume
// procedure and re-applies pendingWrite at offset once the handle has
// moved. On success, h is mutated in place to point at the new branch
// and descriptor. On any failure, the destination is unwound and the
// original spaceErr is returned unchanged. dest is selected by running
// destPolicy (the configured move-on-ENOSPC create policy, default
// "pfrd") with the handle's current branch as the sole exclusion.
func (e *Engine) Relocate(branches []*branch.Branch, destPolicy policy.Policy, h *handle.Handle, pendingWrite []byte, offset int64, spaceErr error) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	candidates := excluding(branches, h.Branch)
	dest, err := destPolicy.Create(candidates, h.LogicalPath)
	if err != nil {
		return 0, spaceErr
	}

	tmpPath := dest.Backing(h.LogicalPath) + ".mergerfs-move-tmp"
	n, copyErr := e.copyContents(h, tmpPath)
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		e.Log.WithError(copyErr).Warn("move-on-enospc copy failed, keeping original")
		return 0, spaceErr
	}
	_ = n

	finalPath := dest.Backing(h.LogicalPath)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		e.Log.WithError(err).Warn("move-on-enospc rename failed, keeping original")
		return 0, spaceErr
	}

	newFile, err := os.OpenFile(finalPath, h.Flags&^(os.O_TRUNC|os.O_CREATE|os.O_EXCL), 0)
	if err != nil {
		_ = os.Remove(finalPath)
		e.Log.WithError(err).Warn("move-on-enospc reopen failed, keeping original")
		return 0, spaceErr
	}

	oldFile := h.File
	oldBranch := h.Branch
	h.File = newFile
	h.Branch = dest

	written, writeErr := newFile.WriteAt(pendingWrite, offset)
	if writeErr != nil {
		h.File = oldFile
		h.Branch = oldBranch
		_ = newFile.Close()
		_ = os.Remove(finalPath)
		e.Log.WithError(writeErr).Warn("move-on-enospc retried write failed, keeping original")
		return 0, spaceErr
	}

	_ = oldFile.Close()
	if err := os.Remove(oldBranch.Backing(h.LogicalPath)); err != nil && !os.IsNotExist(err) {
		e.Log.WithError(err).Warn("move-on-enospc could not unlink source after relocation")
	}
	e.Log.WithFields(logrus.Fields{
		"path": h.LogicalPath,
		"from": oldBranch.Root(),
		"to":   dest.Root(),
	}).Info("relocated open file on space exhaustion")
	return written, nil
}

func excluding(branches []*branch.Branch, skip *branch.Branch) []*branch.Branch {
	out := make([]*branch.Branch, 0, len(branches))
	for _, b := range branches {
		if b != skip {
			out = append(out, b)
		}
	}
	return out
}

// copyContents duplicates the handle's current backing file to dstPath,
// preserving size, mode, timestamps, and extended attributes.
func (e *Engine) copyContents(h *handle.Handle, dstPath string) (int64, error) {
	srcPath := h.Branch.Backing(h.LogicalPath)
	fi, err := os.Stat(srcPath)
	if err != nil {
		return 0, err
	}
	src, err := os.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return 0, err
	}
	defer dst.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		return n, err
	}
	if err := os.Chtimes(dstPath, fi.ModTime(), fi.ModTime()); err != nil {
		e.Log.WithError(err).Debug("could not preserve timestamps during relocation")
	}
	if names, err := xattr.List(srcPath); err == nil {
		for _, name := range names {
			if val, err := xattr.Get(srcPath, name); err == nil {
				_ = xattr.Set(dstPath, name, val)
			}
		}
	}
	return n, nil
}
