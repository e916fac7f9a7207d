package branch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBranchStringDefaults(t *testing.T) {
	b, err := ParseBranchString("/data/one", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "/data/one", b.Root())
	assert.Equal(t, ReadWrite, b.Mode())
	assert.Equal(t, uint64(0), b.MinFree())
}

func TestParseBranchStringModeAndMinFree(t *testing.T) {
	b, err := ParseBranchString("/data/two=ro:500M", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "/data/two", b.Root())
	assert.Equal(t, ReadOnly, b.Mode())
	assert.Equal(t, uint64(500)<<20, b.MinFree())
}

func TestParseBranchStringRejectsEmptyPath(t *testing.T) {
	_, err := ParseBranchString("=rw", time.Second)
	assert.Error(t, err)
}

func TestParseBranchStringRejectsBadMode(t *testing.T) {
	_, err := ParseBranchString("/data=bogus", time.Second)
	assert.Error(t, err)
}

func TestBackingPath(t *testing.T) {
	b := New("/data/one", ReadWrite, 0, time.Second)
	assert.Equal(t, "/data/one", b.Backing("/"))
	assert.Equal(t, "/data/one/foo/bar", b.Backing("/foo/bar"))
}

func TestWritableAndCreatableByMode(t *testing.T) {
	dir := t.TempDir()
	rw := New(dir, ReadWrite, 0, time.Minute)
	ro := New(dir, ReadOnly, 0, time.Minute)
	nc := New(dir, NoCreate, 0, time.Minute)

	assert.True(t, rw.Writable())
	assert.True(t, rw.Creatable())

	assert.False(t, ro.Writable())
	assert.False(t, ro.Creatable())

	assert.True(t, nc.Writable())
	assert.False(t, nc.Creatable())
}

func TestQualifiesRespectsMinFreeReserve(t *testing.T) {
	dir := t.TempDir()
	b := New(dir, ReadWrite, ^uint64(0), time.Minute) // impossible reserve
	assert.False(t, b.Qualifies())
}

func TestQualifiesFalseForReadOnlyMode(t *testing.T) {
	dir := t.TempDir()
	b := New(dir, ReadOnly, 0, time.Minute)
	assert.False(t, b.Qualifies())
}
