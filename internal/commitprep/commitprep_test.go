package commitprep

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exists(t *testing.T, root, rel string) bool {
	t.Helper()
	_, err := os.Lstat(filepath.Join(root, rel))
	if os.IsNotExist(err) {
		return false
	}
	require.NoError(t, err)
	return true
}

func TestPrepareEmptyRoot(t *testing.T) {
	root := t.TempDir()
	assert.NoError(t, Prepare(root))
	assert.NoError(t, PrepareNonStrict(root))
}

func TestPrepareCleansForceCleanAndEmptyDirs(t *testing.T) {
	root := t.TempDir()

	for _, d := range []string{"var", "run", "tmp"} {
		require.NoError(t, os.Mkdir(filepath.Join(root, d), 0o755))
	}

	require.NoError(t, os.MkdirAll(filepath.Join(root, "var/tmp/foo/bar"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "var/tmp/foo/bar/a"), []byte("somefile"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "var/tmp/foo/bar/b"), []byte("somefile2"), 0o644))

	require.NoError(t, os.MkdirAll(filepath.Join(root, "run/systemd"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "run/systemd/resolv.conf"), []byte("stub resolv"), 0o644))

	require.NoError(t, Prepare(root))

	assert.True(t, exists(t, root, "var"))
	assert.True(t, exists(t, root, "var/tmp"))
	assert.False(t, exists(t, root, "var/tmp/foo"))
	assert.True(t, exists(t, root, "run"))
	assert.False(t, exists(t, root, "run/systemd"))
}

func TestPrepareRemovesEmptyNestedRunDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "var"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(root, "run"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "run/systemd"), 0o755))

	require.NoError(t, Prepare(root))

	assert.True(t, exists(t, root, "var"))
	assert.False(t, exists(t, root, "run/systemd"))
}

func TestPrepareStrictFailsOnVarContent(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "var"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "var/foo"), []byte("somefile"), 0o644))

	err := Prepare(root)
	assert.Error(t, err)
	assert.False(t, exists(t, root, "var/tmp"))
	assert.True(t, exists(t, root, "var"))
}

func TestPrepareNonStrictAllowsVarContent(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "var"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "var/foo"), []byte("somefile"), 0o644))

	assert.NoError(t, PrepareNonStrict(root))
	assert.True(t, exists(t, root, "var"))
}

func TestPrepareStrictFailsOnNestedVarContent(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "var"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "var/lib/nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "var/lib/nested/foo"), []byte("test1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "var/lib/nested/foo2"), []byte("test2"), 0o644))

	err := Prepare(root)
	assert.Error(t, err)
	assert.True(t, exists(t, root, "var"))
}
