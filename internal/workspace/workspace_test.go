package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreate_Temporary(t *testing.T) {
	t.Parallel()
	parent := t.TempDir()

	w, err := Create(Options{Parent: parent})
	require.NoError(t, err)
	require.DirExists(t, w.ModuleRoot())
	require.Equal(t, parent, filepath.Dir(w.Dir()))
	require.FileExists(t, filepath.Join(w.Dir(), lockName))

	require.NoError(t, w.Close())
	require.NoDirExists(t, w.Dir())
	require.NoError(t, w.Close(), "close is idempotent")
}

func TestCreate_Keep(t *testing.T) {
	t.Parallel()

	w, err := Create(Options{Parent: t.TempDir(), Keep: true})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.DirExists(t, w.ModuleRoot())
}

func TestCreate_FixedPathIsLocked(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ws")

	first, err := Create(Options{Path: path})
	require.NoError(t, err)
	require.Equal(t, path, first.Dir())

	_, err = Create(Options{Path: path})
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Close())
	require.DirExists(t, path, "a fixed workspace survives close")

	second, err := Create(Options{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })
}

func TestCreate_ParentIsCreated(t *testing.T) {
	t.Parallel()
	parent := filepath.Join(t.TempDir(), "a", "b")

	w, err := Create(Options{Parent: parent})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	info, err := os.Stat(parent)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
