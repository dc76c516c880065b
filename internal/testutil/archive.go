// Package testutil provides fixtures shared by jsbridge package tests.
package testutil

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

// Entry is one extra tar header written verbatim, for archives that need
// links or hostile paths.
type Entry struct {
	Header tar.Header
	Body   string
}

// Archive describes a package archive fixture.
type Archive struct {
	Name    string
	Version string
	// Main is written to package.json when non-empty.
	Main string
	// Files maps paths relative to package/ to their contents.
	Files map[string]string
	// Extra entries are appended after the package files.
	Extra []Entry
	// NoManifest omits package/package.json.
	NoManifest bool
}

// WriteArchive writes a as a gzip tar into t.TempDir and returns its path.
func WriteArchive(t testing.TB, a Archive) string {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	write := func(hdr *tar.Header, body string) {
		t.Helper()
		require.NoError(t, tw.WriteHeader(hdr))
		if body != "" {
			_, err := tw.Write([]byte(body))
			require.NoError(t, err)
		}
	}
	file := func(name, body string) {
		write(&tar.Header{
			Name:     name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(body)),
		}, body)
	}

	write(&tar.Header{Name: "package/", Typeflag: tar.TypeDir, Mode: 0o755}, "")
	if !a.NoManifest {
		manifest := map[string]string{"name": a.Name, "version": a.Version}
		if a.Main != "" {
			manifest["main"] = a.Main
		}
		data, err := json.Marshal(manifest)
		require.NoError(t, err)
		file("package/package.json", string(data))
	}
	for _, name := range slices.Sorted(maps.Keys(a.Files)) {
		file("package/"+name, a.Files[name])
	}
	for _, e := range a.Extra {
		hdr := e.Header
		if hdr.Typeflag == tar.TypeReg && hdr.Size == 0 {
			hdr.Size = int64(len(e.Body))
		}
		write(&hdr, e.Body)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	path := filepath.Join(t.TempDir(), a.Name+"-"+a.Version+".tgz")
	if a.Name == "" {
		path = filepath.Join(t.TempDir(), "archive.tgz")
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

// Snapshot lists every path under root, relative and slash separated, so
// tests can assert a directory tree was left untouched.
func Snapshot(t testing.TB, root string) []string {
	t.Helper()
	var paths []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	require.NoError(t, err)
	return paths
}
