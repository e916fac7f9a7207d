package control

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mergerfs-go/mergerfs/internal/branch"
	"github.com/mergerfs-go/mergerfs/internal/config"

	_ "github.com/mergerfs-go/mergerfs/internal/policy"
)

func newTestStore(t *testing.T) (*config.Store, string) {
	t.Helper()
	dir := t.TempDir()
	b := branch.New(dir, branch.ReadWrite, 0, time.Minute)
	set, err := branch.NewSet([]*branch.Branch{b})
	require.NoError(t, err)
	return config.NewStore(&config.Snapshot{Branches: set, Bindings: config.NewBindings()}), dir
}

func TestGetBranchesRoundTrips(t *testing.T) {
	store, dir := newTestStore(t)
	f := New(store, nil)

	v, err := f.Get("user.mergerfs.branches")
	require.NoError(t, err)
	assert.Contains(t, v, dir)
}

func TestGetVersionIsStable(t *testing.T) {
	store, _ := newTestStore(t)
	f := New(store, nil)
	v1, err := f.Get("user.mergerfs.version")
	require.NoError(t, err)
	v2, err := f.Get("user.mergerfs.version")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}

func TestGetUnknownKeyReturnsENODATA(t *testing.T) {
	store, _ := newTestStore(t)
	f := New(store, nil)
	_, err := f.Get("user.mergerfs.bogus")
	assert.ErrorIs(t, err, syscall.ENODATA)
}

func TestSetRejectsVersionWrite(t *testing.T) {
	store, _ := newTestStore(t)
	f := New(store, nil)
	err := f.Set("user.mergerfs.version", "x")
	assert.Error(t, err)
}

func TestSetInodecalcValidatesValue(t *testing.T) {
	store, _ := newTestStore(t)
	f := New(store, nil)

	require.NoError(t, f.Set("user.mergerfs.inodecalc", "path-hash"))
	assert.Equal(t, "path-hash", store.Load().InodeCalc.String())

	assert.Error(t, f.Set("user.mergerfs.inodecalc", "bogus"))
}

func TestSetFuncValidatesPolicyID(t *testing.T) {
	store, _ := newTestStore(t)
	f := New(store, nil)

	require.NoError(t, f.Set("user.mergerfs.func.open", "mfs"))
	assert.Equal(t, "mfs", store.Load().Bindings.Func["open"])

	assert.Error(t, f.Set("user.mergerfs.func.open", "not-a-policy"))
}

func TestSetBranchesRejectsNonDirectory(t *testing.T) {
	store, _ := newTestStore(t)
	f := New(store, nil)
	err := f.Set("user.mergerfs.branches", "/nonexistent/path=rw:0")
	assert.Error(t, err)
}

func TestSetBranchesReplacesOnSuccess(t *testing.T) {
	store, _ := newTestStore(t)
	f := New(store, nil)
	newDir := t.TempDir()

	require.NoError(t, f.Set("user.mergerfs.branches", newDir+"=ro:0"))
	branches := store.Load().Branches.List()
	require.Len(t, branches, 1)
	assert.Equal(t, newDir, branches[0].Root())
	assert.Equal(t, branch.ReadOnly, branches[0].Mode())
}

func TestListIncludesStaticAndDynamicKeys(t *testing.T) {
	store, _ := newTestStore(t)
	f := New(store, nil)
	require.NoError(t, f.Set("user.mergerfs.func.open", "mfs"))

	keys := f.List()
	assert.Contains(t, keys, "user.mergerfs.branches")
	assert.Contains(t, keys, "user.mergerfs.func.open")
}
