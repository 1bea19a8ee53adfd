// Package security provides path containment for sandboxed tool access.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Sandbox confines filesystem access to a single root directory.
// Used to prevent path traversal attacks (CWE-22): every path handed to a
// tool is resolved and checked against the root before any I/O happens.
type Sandbox struct {
	root string
	fold bool // case-insensitive comparison
}

// NewSandbox creates a sandbox rooted at the given directory. The root is
// resolved to an absolute path; it does not need to exist yet.
func NewSandbox(root string) (*Sandbox, error) {
	if root == "" {
		return nil, fmt.Errorf("sandbox root is required")
	}
	abs, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root %s: %w", root, err)
	}
	return &Sandbox{root: abs, fold: caseInsensitiveFS()}, nil
}

// Root returns the absolute sandbox root.
func (s *Sandbox) Root() string {
	return s.root
}

// Resolve validates a path relative to the sandbox root and returns the
// safe absolute path. The relative path may be empty, which resolves to
// the root itself. Cleaning happens before the containment check so ".."
// segments cannot step outside the root.
func (s *Sandbox) Resolve(rel string) (string, error) {
	target := s.root
	if rel != "" {
		target = filepath.Join(s.root, rel)
	}

	abs, err := filepath.Abs(filepath.Clean(target))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	if !s.contains(abs) {
		return "", fmt.Errorf("access denied: path outside of allowed folder")
	}

	// Resolve symlinks so a link inside the root cannot point outside it.
	// A nonexistent target is acceptable; existence is the caller's concern.
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return abs, nil
		}
		return "", fmt.Errorf("resolve symlink: %w", err)
	}
	if real != abs && !s.contains(real) {
		return "", fmt.Errorf("access denied: symbolic link points outside of allowed folder")
	}
	return real, nil
}

// contains reports whether abs is the root or lies under it. The
// comparison appends a separator so /sandbox-evil does not pass as being
// inside /sandbox, and folds case on case-insensitive filesystems.
func (s *Sandbox) contains(abs string) bool {
	root := filepath.Clean(s.root)
	path := filepath.Clean(abs)
	if s.fold {
		root = strings.ToLower(root)
		path = strings.ToLower(path)
	}
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// caseInsensitiveFS reports whether the platform's default filesystem
// compares paths case-insensitively (NTFS, APFS/HFS+ defaults).
func caseInsensitiveFS() bool {
	return runtime.GOOS == "windows" || runtime.GOOS == "darwin"
}
