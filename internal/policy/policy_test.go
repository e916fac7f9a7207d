package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mergerfs-go/mergerfs/internal/branch"
)

func mkBranch(t *testing.T, mode branch.Mode) *branch.Branch {
	t.Helper()
	return branch.New(t.TempDir(), mode, 0, time.Minute)
}

func TestGetUnknownPolicy(t *testing.T) {
	_, err := Get("does-not-exist")
	assert.Error(t, err)
}

func TestIDsIncludesFullCatalog(t *testing.T) {
	ids := IDs()
	for _, want := range []string{"ff", "mfs", "lfs", "lus", "rand", "pfrd", "epff", "epmfs", "eplfs", "newest", "all", "epall", "lno", "eplno"} {
		assert.Contains(t, ids, want)
	}
}

func TestFirstFoundCreatePicksFirstQualifying(t *testing.T) {
	b1, b2 := mkBranch(t, branch.ReadWrite), mkBranch(t, branch.ReadWrite)
	p, _ := Get("ff")
	chosen, err := p.Create([]*branch.Branch{b1, b2}, "/f")
	require.NoError(t, err)
	assert.Equal(t, b1, chosen)
}

func TestFirstFoundCreateSkipsReadOnly(t *testing.T) {
	ro, rw := mkBranch(t, branch.ReadOnly), mkBranch(t, branch.ReadWrite)
	p, _ := Get("ff")
	chosen, err := p.Create([]*branch.Branch{ro, rw}, "/f")
	require.NoError(t, err)
	assert.Equal(t, rw, chosen)
}

func TestFirstFoundCreateNoQualifyingBranches(t *testing.T) {
	ro := mkBranch(t, branch.ReadOnly)
	p, _ := Get("ff")
	_, err := p.Create([]*branch.Branch{ro}, "/f")
	assert.Error(t, err)
}

func TestFirstFoundSearchFindsExisting(t *testing.T) {
	b1, b2 := mkBranch(t, branch.ReadWrite), mkBranch(t, branch.ReadWrite)
	require.NoError(t, os.WriteFile(filepath.Join(b2.Root(), "f"), []byte("x"), 0o644))
	p, _ := Get("ff")
	hits, err := p.Search([]*branch.Branch{b1, b2}, "/f")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, b2, hits[0])
}

func TestEpffRequiresExistingParent(t *testing.T) {
	b1, b2 := mkBranch(t, branch.ReadWrite), mkBranch(t, branch.ReadWrite)
	require.NoError(t, os.MkdirAll(filepath.Join(b2.Root(), "sub"), 0o755))
	p, _ := Get("epff")
	chosen, err := p.Create([]*branch.Branch{b1, b2}, "/sub/f")
	require.NoError(t, err)
	assert.Equal(t, b2, chosen)
}

func TestEpffNoCandidateWhenNoParentExists(t *testing.T) {
	b1 := mkBranch(t, branch.ReadWrite)
	p, _ := Get("epff")
	_, err := p.Create([]*branch.Branch{b1}, "/sub/f")
	assert.Error(t, err)
}

func TestEpallCreateAllReplicatesAcrossQualifyingParents(t *testing.T) {
	b1, b2, b3 := mkBranch(t, branch.ReadWrite), mkBranch(t, branch.ReadWrite), mkBranch(t, branch.ReadWrite)
	require.NoError(t, os.MkdirAll(filepath.Join(b1.Root(), "sub"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(b3.Root(), "sub"), 0o755))

	p, _ := Get("epall")
	all, ok := p.(interface {
		CreateAll([]*branch.Branch, string) ([]*branch.Branch, error)
	})
	require.True(t, ok)
	targets, err := all.CreateAll([]*branch.Branch{b1, b2, b3}, "/sub/f")
	require.NoError(t, err)
	assert.ElementsMatch(t, []*branch.Branch{b1, b3}, targets)
}

func TestAllSearchReturnsEveryExistingBranch(t *testing.T) {
	b1, b2 := mkBranch(t, branch.ReadWrite), mkBranch(t, branch.ReadWrite)
	require.NoError(t, os.WriteFile(filepath.Join(b1.Root(), "f"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(b2.Root(), "f"), []byte("2"), 0o644))
	p, _ := Get("all")
	hits, err := p.Search([]*branch.Branch{b1, b2}, "/f")
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestNewestPicksMostRecentlyModified(t *testing.T) {
	b1, b2 := mkBranch(t, branch.ReadWrite), mkBranch(t, branch.ReadWrite)
	require.NoError(t, os.WriteFile(filepath.Join(b1.Root(), "f"), []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(b2.Root(), "f"), []byte("new"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(b1.Root(), "f"), old, old))

	p, _ := Get("newest")
	hits, err := p.Search([]*branch.Branch{b1, b2}, "/f")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, b2, hits[0])
}

func TestLnoPicksBranchWithFewestOpenHandles(t *testing.T) {
	b1, b2 := mkBranch(t, branch.ReadWrite), mkBranch(t, branch.ReadWrite)
	SetOpenCounter(fakeCounter{b1.Root(): 5, b2.Root(): 0})
	defer SetOpenCounter(nil)

	p, _ := Get("lno")
	chosen, err := p.Create([]*branch.Branch{b1, b2}, "/f")
	require.NoError(t, err)
	assert.Equal(t, b2, chosen)
}

type fakeCounter map[string]int

func (f fakeCounter) OpenCount(root string) int { return f[root] }

func TestPfrdCreateOnlyChoosesAmongQualifying(t *testing.T) {
	ro, rw := mkBranch(t, branch.ReadOnly), mkBranch(t, branch.ReadWrite)
	p, _ := Get("pfrd")
	chosen, err := p.Create([]*branch.Branch{ro, rw}, "/f")
	require.NoError(t, err)
	assert.Equal(t, rw, chosen)
}

func TestRandCreateOnlyChoosesAmongQualifying(t *testing.T) {
	ro, rw := mkBranch(t, branch.ReadOnly), mkBranch(t, branch.ReadWrite)
	p, _ := Get("rand")
	chosen, err := p.Create([]*branch.Branch{ro, rw}, "/f")
	require.NoError(t, err)
	assert.Equal(t, rw, chosen)
}
