// Package workspace manages the on-disk directory an engine session loads
// packages from. A workspace holds a node_modules module root and is guarded
// by an exclusive advisory lock for as long as it is open.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	// ModulesDir is the module root's name inside a workspace.
	ModulesDir = "node_modules"
	lockName   = ".lock"
)

// ErrLocked is returned when another process, or another open Workspace,
// holds the directory.
var ErrLocked = errors.New("workspace is locked by another session")

// Options configures Create.
type Options struct {
	// Parent is where a fresh temporary workspace is created. Empty means
	// os.TempDir.
	Parent string
	// Path, when set, names a fixed workspace directory to create or reuse
	// instead of a temporary one. A fixed workspace is never removed.
	Path string
	// Keep retains a temporary workspace after Close.
	Keep bool
}

// Workspace is an open, locked workspace directory.
type Workspace struct {
	dir    string
	remove bool

	mu   sync.Mutex
	lock *os.File
}

// Create opens a workspace per opts and locks it.
func Create(opts Options) (*Workspace, error) {
	var (
		dir string
		err error
	)
	if opts.Path != "" {
		dir, err = filepath.Abs(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve workspace path: %w", err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create workspace: %w", err)
		}
	} else {
		if opts.Parent != "" {
			if err := os.MkdirAll(opts.Parent, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create workspace parent: %w", err)
			}
		}
		dir, err = os.MkdirTemp(opts.Parent, "jsbridge-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create workspace: %w", err)
		}
		if dir, err = filepath.Abs(dir); err != nil {
			return nil, fmt.Errorf("failed to resolve workspace path: %w", err)
		}
	}
	remove := opts.Path == "" && !opts.Keep

	lock, err := lockDir(dir)
	if err != nil {
		if remove {
			_ = os.RemoveAll(dir)
		}
		return nil, err
	}
	w := &Workspace{dir: dir, remove: remove, lock: lock}
	if err := os.MkdirAll(w.ModuleRoot(), 0o755); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to create module root: %w", err)
	}
	return w, nil
}

// Dir returns the absolute workspace directory.
func (w *Workspace) Dir() string { return w.dir }

// ModuleRoot returns the directory packages are installed into.
func (w *Workspace) ModuleRoot() string { return filepath.Join(w.dir, ModulesDir) }

// Close releases the lock and, for a temporary workspace not marked Keep,
// removes the directory. It is safe to call more than once.
func (w *Workspace) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lock == nil {
		return nil
	}
	err := unlockDir(w.lock)
	w.lock = nil
	if err != nil {
		err = fmt.Errorf("failed to release workspace lock: %w", err)
	}
	if w.remove {
		if rerr := os.RemoveAll(w.dir); rerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to remove workspace: %w", rerr))
		}
	}
	return err
}

func lockPath(dir string) string { return filepath.Join(dir, lockName) }
