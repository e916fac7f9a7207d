package enospc

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mergerfs-go/mergerfs/internal/branch"
	"github.com/mergerfs-go/mergerfs/internal/handle"

	_ "github.com/mergerfs-go/mergerfs/internal/policy"
)

func TestIsSpaceExhausted(t *testing.T) {
	assert.True(t, IsSpaceExhausted(syscall.ENOSPC))
	assert.True(t, IsSpaceExhausted(syscall.EDQUOT))
	assert.False(t, IsSpaceExhausted(syscall.ENOENT))
}

type firstBranch struct{}

func (firstBranch) Create(bs []*branch.Branch, p string) (*branch.Branch, error) {
	return bs[0], nil
}
func (firstBranch) Search(bs []*branch.Branch, p string) ([]*branch.Branch, error) { return bs, nil }
func (firstBranch) Action(bs []*branch.Branch, p string) ([]*branch.Branch, error) { return bs, nil }

func TestRelocateMovesFileAndRetriesWrite(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	src := branch.New(srcDir, branch.ReadWrite, 0, time.Minute)
	dst := branch.New(dstDir, branch.ReadWrite, 0, time.Minute)

	logical := "/f"
	srcPath := filepath.Join(srcDir, "f")
	require.NoError(t, os.WriteFile(srcPath, []byte("hello"), 0o644))
	f, err := os.OpenFile(srcPath, os.O_RDWR, 0)
	require.NoError(t, err)

	reg := handle.NewRegistry()
	h := reg.Open(logical, src, f, os.O_RDWR, false)

	e := New(nil)
	n, err := e.Relocate([]*branch.Branch{src, dst}, firstBranch{}, h, []byte("!"), 5, syscall.ENOSPC)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, dst, h.Branch)
	_, statErr := os.Stat(srcPath)
	assert.True(t, os.IsNotExist(statErr))

	data, err := os.ReadFile(filepath.Join(dstDir, "f"))
	require.NoError(t, err)
	assert.Equal(t, "hello!", string(data))
}

type failingPolicy struct{}

func (failingPolicy) Create(bs []*branch.Branch, p string) (*branch.Branch, error) {
	return nil, syscall.ENOSPC
}
func (failingPolicy) Search(bs []*branch.Branch, p string) ([]*branch.Branch, error) { return nil, nil }
func (failingPolicy) Action(bs []*branch.Branch, p string) ([]*branch.Branch, error) { return nil, nil }

func TestRelocateSurfacesOriginalErrorWhenDestinationSelectionFails(t *testing.T) {
	srcDir := t.TempDir()
	src := branch.New(srcDir, branch.ReadWrite, 0, time.Minute)
	srcPath := filepath.Join(srcDir, "f")
	require.NoError(t, os.WriteFile(srcPath, []byte("x"), 0o644))
	f, err := os.OpenFile(srcPath, os.O_RDWR, 0)
	require.NoError(t, err)

	reg := handle.NewRegistry()
	h := reg.Open("/f", src, f, os.O_RDWR, false)

	e := New(nil)
	original := syscall.ENOSPC
	_, err = e.Relocate([]*branch.Branch{src}, failingPolicy{}, h, []byte("y"), 1, original)
	assert.Equal(t, original, err)
	assert.Same(t, src, h.Branch) // unchanged on failure
}
