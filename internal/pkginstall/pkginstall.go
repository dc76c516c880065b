// Package pkginstall validates a gzip-compressed tar package archive and
// materialises it under a module root, where a require registry can resolve
// it by name.
//
// Archives follow the npm pack layout: every entry lives under a top-level
// "package/" directory, which holds a package.json manifest.
package pkginstall

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	// packageDir is the top-level directory of every archive.
	packageDir = "package"
	// defaultMain is the entry point used when the manifest names none.
	defaultMain = "index.js"
	// maxExtractedBytes bounds the total size of extracted regular files.
	maxExtractedBytes = 1 << 30
)

var (
	// ErrInvalidArchive is returned for unreadable, corrupt, or unsafe archives.
	ErrInvalidArchive = errors.New("invalid package archive")
	// ErrMismatch is returned when the manifest does not name the requested
	// package and version.
	ErrMismatch = errors.New("package archive mismatch")
	// ErrConflict is returned when a different version of the package is
	// already installed.
	ErrConflict = errors.New("package already installed at another version")
)

// Manifest is the subset of package.json the install step reads.
type Manifest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Main    string `json:"main,omitempty"`
}

// Package describes an installed package.
type Package struct {
	Manifest
	// Dir is the absolute install directory, <moduleRoot>/<name>.
	Dir string
	// Entry is the absolute path of the entry point.
	Entry string
	// Reused reports that the package was already installed.
	Reused bool
}

// Install extracts the archive at archivePath and installs it under
// moduleRoot as name. The manifest must name exactly name at version. On any
// failure the module root is left as it was and nothing staged survives.
func Install(archivePath, name, version, moduleRoot string) (*Package, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	if version == "" {
		return nil, fmt.Errorf("%w: empty version for %s", ErrMismatch, name)
	}
	moduleRoot, err := filepath.Abs(moduleRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve module root: %w", err)
	}
	if err := os.MkdirAll(moduleRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create module root: %w", err)
	}

	// staged beside the module root so the final rename stays on one filesystem
	staging, err := os.MkdirTemp(filepath.Dir(moduleRoot), ".stage-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := extract(archivePath, staging); err != nil {
		return nil, err
	}
	staged := filepath.Join(staging, packageDir)
	manifest, err := ReadManifest(staged)
	if err != nil {
		return nil, err
	}
	if manifest.Name != name || manifest.Version != version {
		return nil, fmt.Errorf("%w: requested %s@%s, archive contains %s@%s", ErrMismatch, name, version, manifest.Name, manifest.Version)
	}

	pkg := &Package{
		Manifest: *manifest,
		Dir:      filepath.Join(moduleRoot, filepath.FromSlash(name)),
	}
	pkg.Entry = filepath.Join(pkg.Dir, filepath.FromSlash(manifest.Main))
	if !filepath.IsLocal(filepath.FromSlash(manifest.Main)) {
		return nil, fmt.Errorf("%w: main %q escapes the package", ErrInvalidArchive, manifest.Main)
	}

	if installed, err := ReadManifest(pkg.Dir); err == nil {
		if installed.Version != version {
			return nil, fmt.Errorf("%w: %s@%s, requested %s", ErrConflict, name, installed.Version, version)
		}
		pkg.Reused = true
		return pkg, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(pkg.Dir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scope directory: %w", err)
	}
	if err := os.Rename(staged, pkg.Dir); err != nil {
		return nil, fmt.Errorf("failed to install %s: %w", name, err)
	}
	return pkg, nil
}

// ReadManifest reads <dir>/package.json. A missing manifest wraps
// os.ErrNotExist; an unparsable one wraps ErrInvalidArchive.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no package.json in %s: %w", dir, os.ErrNotExist)
		}
		return nil, fmt.Errorf("failed to read package.json: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: package.json: %v", ErrInvalidArchive, err)
	}
	if m.Name == "" || m.Version == "" {
		return nil, fmt.Errorf("%w: package.json must declare name and version", ErrInvalidArchive)
	}
	if m.Main == "" {
		m.Main = defaultMain
	}
	return &m, nil
}

// extract unpacks the gzip tar at archivePath into dir. Only directories and
// regular files are materialised; links and devices are skipped.
func extract(archivePath, dir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer gz.Close()

	var (
		tr      = tar.NewReader(gz)
		written int64
		found   bool
	)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
		}
		rel := filepath.FromSlash(strings.TrimPrefix(hdr.Name, "./"))
		if !filepath.IsLocal(rel) {
			return fmt.Errorf("%w: entry %q escapes the archive root", ErrInvalidArchive, hdr.Name)
		}
		if top, _, _ := strings.Cut(filepath.ToSlash(rel), "/"); top != packageDir {
			continue
		}
		found = true
		target := filepath.Join(dir, rel)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", rel, err)
			}
		case tar.TypeReg:
			if written += hdr.Size; written > maxExtractedBytes {
				return fmt.Errorf("%w: extracted size exceeds %d bytes", ErrInvalidArchive, maxExtractedBytes)
			}
			if err := writeFile(target, tr, hdr.Size, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		}
	}
	if !found {
		return fmt.Errorf("%w: no %s/ directory", ErrInvalidArchive, packageDir)
	}
	return nil
}

func writeFile(target string, r io.Reader, size int64, perm os.FileMode) (err error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(target), err)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm|0o600)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", target, cerr)
		}
	}()
	if _, err := io.CopyN(out, r, size); err != nil {
		return fmt.Errorf("%w: truncated entry %s: %v", ErrInvalidArchive, target, err)
	}
	return nil
}

// validName accepts bare and scoped ("@scope/name") package names.
func validName(name string) error {
	bad := fmt.Errorf("%w: invalid package name %q", ErrMismatch, name)
	parts := strings.Split(name, "/")
	switch {
	case name == "":
		return bad
	case len(parts) == 2 && !strings.HasPrefix(parts[0], "@"):
		return bad
	case len(parts) > 2:
		return bad
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." || strings.ContainsAny(p, `\:`) {
			return bad
		}
	}
	return nil
}
