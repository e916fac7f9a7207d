package diskusage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOnRealDirectory(t *testing.T) {
	dir := t.TempDir()
	info, err := New(dir)
	require.NoError(t, err)
	assert.Greater(t, info.Total, uint64(0))
	assert.LessOrEqual(t, info.Available, info.Total)
}

func TestNewOnMissingPath(t *testing.T) {
	_, err := New("/nonexistent/path/mergerfs-test")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestReadOnlyOnRealDirectory(t *testing.T) {
	dir := t.TempDir()
	ro, err := ReadOnly(dir)
	require.NoError(t, err)
	assert.False(t, ro)
}
