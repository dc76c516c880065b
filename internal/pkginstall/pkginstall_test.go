package pkginstall

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"

	"github.com/joeycumines/jsbridge/internal/testutil"
	"github.com/stretchr/testify/require"
)

func moduleRoot(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "node_modules")
	require.NoError(t, os.MkdirAll(root, 0o755))
	return root
}

func TestInstall(t *testing.T) {
	t.Parallel()
	root := moduleRoot(t)
	archive := testutil.WriteArchive(t, testutil.Archive{
		Name:    "foo",
		Version: "1.0.0",
		Main:    "lib/main.js",
		Files: map[string]string{
			"lib/main.js": "module.exports = {answer: 42};",
			"README.md":   "# foo",
		},
	})

	pkg, err := Install(archive, "foo", "1.0.0", root)
	require.NoError(t, err)
	require.False(t, pkg.Reused)
	require.Equal(t, filepath.Join(root, "foo"), pkg.Dir)
	require.Equal(t, filepath.Join(root, "foo", "lib", "main.js"), pkg.Entry)

	data, err := os.ReadFile(pkg.Entry)
	require.NoError(t, err)
	require.Equal(t, "module.exports = {answer: 42};", string(data))

	entries, err := os.ReadDir(filepath.Dir(root))
	require.NoError(t, err)
	require.Len(t, entries, 1, "staging directory must be removed")
}

func TestInstall_DefaultMain(t *testing.T) {
	t.Parallel()
	root := moduleRoot(t)
	archive := testutil.WriteArchive(t, testutil.Archive{
		Name:    "bar",
		Version: "0.1.0",
		Files:   map[string]string{"index.js": "module.exports = 1;"},
	})

	pkg, err := Install(archive, "bar", "0.1.0", root)
	require.NoError(t, err)
	require.Equal(t, "index.js", pkg.Main)
	require.FileExists(t, pkg.Entry)
}

func TestInstall_ScopedName(t *testing.T) {
	t.Parallel()
	root := moduleRoot(t)
	archive := testutil.WriteArchive(t, testutil.Archive{
		Name:    "@acme/widgets",
		Version: "2.0.0",
		Files:   map[string]string{"index.js": "module.exports = {};"},
	})

	pkg, err := Install(archive, "@acme/widgets", "2.0.0", root)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "@acme", "widgets"), pkg.Dir)
	require.FileExists(t, pkg.Entry)
}

func TestInstall_MismatchLeavesModuleRootUntouched(t *testing.T) {
	t.Parallel()
	root := moduleRoot(t)
	archive := testutil.WriteArchive(t, testutil.Archive{
		Name:    "foo",
		Version: "1.0.0",
		Files:   map[string]string{"index.js": ""},
	})
	before := testutil.Snapshot(t, filepath.Dir(root))

	_, err := Install(archive, "foo", "2.0.0", root)
	require.ErrorIs(t, err, ErrMismatch)
	require.ErrorContains(t, err, "foo@2.0.0")

	_, err = Install(archive, "other", "1.0.0", root)
	require.ErrorIs(t, err, ErrMismatch)

	require.Equal(t, before, testutil.Snapshot(t, filepath.Dir(root)))
}

func TestInstall_Reuse(t *testing.T) {
	t.Parallel()
	root := moduleRoot(t)
	archive := testutil.WriteArchive(t, testutil.Archive{
		Name:    "foo",
		Version: "1.0.0",
		Files:   map[string]string{"index.js": ""},
	})

	first, err := Install(archive, "foo", "1.0.0", root)
	require.NoError(t, err)
	second, err := Install(archive, "foo", "1.0.0", root)
	require.NoError(t, err)
	require.True(t, second.Reused)
	require.Equal(t, first.Entry, second.Entry)

	newer := testutil.WriteArchive(t, testutil.Archive{
		Name:    "foo",
		Version: "1.1.0",
		Files:   map[string]string{"index.js": ""},
	})
	_, err = Install(newer, "foo", "1.1.0", root)
	require.ErrorIs(t, err, ErrConflict)
}

func TestInstall_InvalidArchives(t *testing.T) {
	t.Parallel()

	garbage := filepath.Join(t.TempDir(), "garbage.tgz")
	require.NoError(t, os.WriteFile(garbage, []byte("not gzip"), 0o644))

	for _, tc := range []struct {
		name    string
		archive string
	}{
		{name: "missing file", archive: filepath.Join(t.TempDir(), "missing.tgz")},
		{name: "not gzip", archive: garbage},
		{name: "no manifest", archive: testutil.WriteArchive(t, testutil.Archive{
			Name:       "foo",
			Version:    "1.0.0",
			NoManifest: true,
		})},
		{name: "path traversal", archive: testutil.WriteArchive(t, testutil.Archive{
			Name:    "foo",
			Version: "1.0.0",
			Extra: []testutil.Entry{{
				Header: tar.Header{Name: "package/../../escaped.js", Typeflag: tar.TypeReg, Mode: 0o644},
				Body:   "pwned",
			}},
		})},
		{name: "absolute path", archive: testutil.WriteArchive(t, testutil.Archive{
			Name:    "foo",
			Version: "1.0.0",
			Extra: []testutil.Entry{{
				Header: tar.Header{Name: "/tmp/escaped.js", Typeflag: tar.TypeReg, Mode: 0o644},
				Body:   "pwned",
			}},
		})},
		{name: "main escapes", archive: testutil.WriteArchive(t, testutil.Archive{
			Name:    "foo",
			Version: "1.0.0",
			Main:    "../outside.js",
		})},
	} {
		t.Run(tc.name, func(t *testing.T) {
			root := moduleRoot(t)
			before := testutil.Snapshot(t, filepath.Dir(root))

			_, err := Install(tc.archive, "foo", "1.0.0", root)
			require.Error(t, err)
			require.NotErrorIs(t, err, ErrMismatch)

			require.Equal(t, before, testutil.Snapshot(t, filepath.Dir(root)))
		})
	}
}

func TestInstall_SkipsLinks(t *testing.T) {
	t.Parallel()
	root := moduleRoot(t)
	archive := testutil.WriteArchive(t, testutil.Archive{
		Name:    "foo",
		Version: "1.0.0",
		Files:   map[string]string{"index.js": ""},
		Extra: []testutil.Entry{{
			Header: tar.Header{Name: "package/passwd", Typeflag: tar.TypeSymlink, Linkname: "/etc/passwd"},
		}},
	})

	pkg, err := Install(archive, "foo", "1.0.0", root)
	require.NoError(t, err)
	require.NoFileExists(t, filepath.Join(pkg.Dir, "passwd"))
}

func TestValidName(t *testing.T) {
	t.Parallel()
	for name, ok := range map[string]bool{
		"foo":        true,
		"@scope/foo": true,
		"":           false,
		"scope/foo":  false,
		"@a/b/c":     false,
		"..":         false,
		"@scope/..":  false,
		`foo\bar`:    false,
	} {
		if ok {
			require.NoError(t, validName(name), name)
		} else {
			require.ErrorIs(t, validName(name), ErrMismatch, name)
		}
	}
}
