package tempdir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupClearsLeftovers(t *testing.T) {
	root := filepath.Join(t.TempDir(), "scratch")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "stale-dir"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "stale-dir", "f"), []byte("x"), 0644))

	m, err := Setup(root)
	require.NoError(t, err)
	assert.Equal(t, root, m.Root())

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch root should be empty after Setup")
}

func TestSetupRequiresRoot(t *testing.T) {
	_, err := Setup("")
	assert.Error(t, err)
}

func TestAllocateUniqueDirs(t *testing.T) {
	m, err := Setup(filepath.Join(t.TempDir(), "scratch"))
	require.NoError(t, err)

	a, err := m.Allocate("myapp")
	require.NoError(t, err)
	b, err := m.Allocate("myapp")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	for _, dir := range []string{a, b} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Contains(t, filepath.Base(dir), "myapp-")
	}
}

func TestRelease(t *testing.T) {
	m, err := Setup(filepath.Join(t.TempDir(), "scratch"))
	require.NoError(t, err)

	dir, err := m.Allocate("myapp")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data"), []byte("x"), 0644))

	require.NoError(t, m.Release(dir))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	// Releasing an already-removed directory is not an error.
	assert.NoError(t, m.Release(dir))
}
