package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindManifestWalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ManifestName), []byte("[project]\n"), 0o644))

	path, ok, err := FindManifest(nested)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, ManifestName), path)
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ManifestName)
	require.NoError(t, os.WriteFile(path, []byte(`
[project]
root = "."
path = "apps/web"
watch = true
memory_limit = 1048576

[next]
page_extensions = ["tsx", "mdx"]
`), 0o644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, dir, m.Root)
	assert.Equal(t, filepath.Join(dir, "apps", "web"), m.Path)
	assert.True(t, m.Watch)
	assert.True(t, m.WatchSet)
	assert.Equal(t, uint64(1048576), m.MemoryLimit)
	assert.True(t, m.MemoryLimitSet)
	assert.Equal(t, []string{"tsx", "mdx"}, m.PageExtensions)
}

func TestManifestNonPositiveMemoryLimitFailsOpen(t *testing.T) {
	for _, limit := range []string{"0", "-1"} {
		dir := t.TempDir()
		path := filepath.Join(dir, ManifestName)
		require.NoError(t, os.WriteFile(path, []byte("[project]\nmemory_limit = "+limit+"\n"), 0o644))

		m, err := LoadManifest(path)
		require.NoError(t, err)
		assert.True(t, m.MemoryLimitSet)
		assert.Zero(t, m.MemoryLimit)

		_, err = Open(Config{RootPath: m.Root, ProjectPath: m.Path, MemoryLimit: &m.MemoryLimit}, Options{})
		var initErr *InitializationError
		require.ErrorAs(t, err, &initErr, "memory_limit = %s", limit)
		assert.Equal(t, "memoryLimit", initErr.Field)
	}
}

func TestLoadManifestErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ManifestName)

	require.NoError(t, os.WriteFile(path, []byte("[next]\n"), 0o644))
	_, err := LoadManifest(path)
	assert.ErrorIs(t, err, ErrProjectSectionMissing)

	require.NoError(t, os.WriteFile(path, []byte("[project\n"), 0o644))
	_, err = LoadManifest(path)
	assert.Error(t, err)
}
