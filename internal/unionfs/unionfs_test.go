package unionfs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mergerfs-go/mergerfs/internal/branch"
	"github.com/mergerfs-go/mergerfs/internal/config"
	"github.com/mergerfs-go/mergerfs/internal/errs"

	_ "github.com/mergerfs-go/mergerfs/internal/policy"
)

func newTestFilesystem(t *testing.T, dirs ...string) (*Filesystem, *config.Store) {
	t.Helper()
	var bs []*branch.Branch
	for _, d := range dirs {
		bs = append(bs, branch.New(d, branch.ReadWrite, 0, time.Minute))
	}
	set, err := branch.NewSet(bs)
	require.NoError(t, err)
	store := config.NewStore(&config.Snapshot{Branches: set, Bindings: config.NewBindings()})
	return New(store), store
}

func TestCreateOpensHandleOnSelectedBranch(t *testing.T) {
	d1, d2 := t.TempDir(), t.TempDir()
	fsys, _ := newTestFilesystem(t, d1, d2)

	res, err := fsys.Create("/new.txt", os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	require.NotNil(t, res.Handle)

	_, err = os.Stat(filepath.Join(res.Branch.Root(), "new.txt"))
	assert.NoError(t, err)
}

func TestCreateOnControlPathIsDenied(t *testing.T) {
	fsys, _ := newTestFilesystem(t, t.TempDir())
	_, err := fsys.Create("/.mergerfs", os.O_RDWR|os.O_CREATE, 0o644)
	assert.Error(t, err)
	assert.Equal(t, errs.KindPermissionDenied, errs.KindOf(err))
}

func TestResolveFindsFirstBranchWherePathExists(t *testing.T) {
	d1, d2 := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(d2, "f"), []byte("x"), 0o644))
	fsys, _ := newTestFilesystem(t, d1, d2)

	b, fi, err := fsys.Resolve("/f")
	require.NoError(t, err)
	assert.Equal(t, d2, b.Root())
	assert.False(t, fi.IsDir())
}

func TestResolveNotFound(t *testing.T) {
	fsys, _ := newTestFilesystem(t, t.TempDir())
	_, _, err := fsys.Resolve("/missing")
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestGetattrAssignsStableInode(t *testing.T) {
	d1 := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(d1, "f"), []byte("x"), 0o644))
	fsys, _ := newTestFilesystem(t, d1)

	_, ino1, err := fsys.Getattr("/f")
	require.NoError(t, err)
	_, ino2, err := fsys.Getattr("/f")
	require.NoError(t, err)
	assert.Equal(t, ino1, ino2)
}

func TestMkdirEpallReplicatesToEveryBranch(t *testing.T) {
	d1, d2 := t.TempDir(), t.TempDir()
	fsys, store := newTestFilesystem(t, d1, d2)
	snap := store.Load()
	snap.Bindings.Category[config.CategoryCreate] = "epall"

	require.NoError(t, fsys.Mkdir("/sub", 0o755))

	fi1, err1 := os.Stat(filepath.Join(d1, "sub"))
	fi2, err2 := os.Stat(filepath.Join(d2, "sub"))
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.True(t, fi1.IsDir())
	assert.True(t, fi2.IsDir())
}

func TestUnlinkRemovesFromEveryActionBranch(t *testing.T) {
	d1, d2 := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(d1, "f"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(d2, "f"), []byte("2"), 0o644))
	fsys, _ := newTestFilesystem(t, d1, d2)

	require.NoError(t, fsys.Unlink("/f"))
	_, err1 := os.Stat(filepath.Join(d1, "f"))
	_, err2 := os.Stat(filepath.Join(d2, "f"))
	assert.True(t, os.IsNotExist(err1))
	assert.True(t, os.IsNotExist(err2))
}

func TestUnlinkSucceedsIfAnyActionBranchSucceeds(t *testing.T) {
	d1, d2 := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(d1, "f"), []byte("1"), 0o644))
	// "f" is a non-empty directory on d2, so os.Remove fails there
	// (ENOTEMPTY) regardless of the test's privileges, while d1's plain
	// file removes cleanly. The action policy (default epall) still
	// selects both branches, so Unlink must see one success, one failure,
	// and report overall success.
	require.NoError(t, os.MkdirAll(filepath.Join(d2, "f", "nested"), 0o755))
	fsys, _ := newTestFilesystem(t, d1, d2)

	require.NoError(t, fsys.Unlink("/f"))
	_, err1 := os.Stat(filepath.Join(d1, "f"))
	assert.True(t, os.IsNotExist(err1))
	_, err2 := os.Stat(filepath.Join(d2, "f"))
	assert.NoError(t, err2, "the failing branch's directory must remain untouched")
}

func TestRenameSameBranch(t *testing.T) {
	d1 := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(d1, "f"), []byte("x"), 0o644))
	fsys, _ := newTestFilesystem(t, d1)

	require.NoError(t, fsys.Rename("/f", "/g"))
	_, err := os.Stat(filepath.Join(d1, "g"))
	assert.NoError(t, err)
}

func TestLinkIntoMissingParentIsCrossDevice(t *testing.T) {
	d1, d2 := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(d1, "f"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(d2, "sub"), 0o755))
	fsys, store := newTestFilesystem(t, d1, d2)
	store.Load().Bindings.Category[config.CategoryAction] = "ff"

	// "/f" only exists on d1, so the action policy selects d1, but "/sub"
	// only exists on d2: the hard link cannot be emulated across branches.
	err := fsys.Link("/f", "/sub/g")
	assert.Equal(t, errs.KindCrossDevice, errs.KindOf(err))
}

func TestChmodFansOutAcrossActionBranches(t *testing.T) {
	d1, d2 := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(d1, "f"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(d2, "f"), []byte("2"), 0o644))
	fsys, _ := newTestFilesystem(t, d1, d2)

	require.NoError(t, fsys.Chmod("/f", 0o600))
	fi1, err := os.Stat(filepath.Join(d1, "f"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi1.Mode().Perm())
}

func TestReaddirIncludesMergedEntries(t *testing.T) {
	d1, d2 := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(d1, "a"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(d2, "b"), []byte("2"), 0o644))
	fsys, _ := newTestFilesystem(t, d1, d2)

	entries, err := fsys.Readdir("/")
	require.NoError(t, err)
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	assert.True(t, names["a"])
	assert.True(t, names["b"])
}

func TestWriteSucceedsAgainstOpenHandle(t *testing.T) {
	d1 := t.TempDir()
	fsys, _ := newTestFilesystem(t, d1)

	res, err := fsys.Create("/f", os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)

	n, err := fsys.Write(res.Handle, []byte("data"), 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	got, err := os.ReadFile(filepath.Join(d1, "f"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
}

func TestWriteOnClosedHandleSurfacesIOError(t *testing.T) {
	d1 := t.TempDir()
	fsys, _ := newTestFilesystem(t, d1)

	res, err := fsys.Create("/f", os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	require.NoError(t, res.Handle.File.Close())

	_, err = fsys.Write(res.Handle, []byte("data"), 0)
	assert.Error(t, err)
}
