// Package sanitize validates untrusted paths before they touch the
// project tree.
package sanitize

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Validation errors for path checks.
var (
	// ErrPathTraversal indicates a path leaves its root.
	ErrPathTraversal = errors.New("path contains directory traversal")

	// ErrAbsolutePath indicates an absolute path was provided where relative was expected.
	ErrAbsolutePath = errors.New("absolute path not allowed")

	// ErrEmptyPath indicates an empty path was provided.
	ErrEmptyPath = errors.New("path cannot be empty")
)

// ChangePath resolves rel, a path proposed by a generator, against root.
// It returns the absolute target, which is always inside root.
func ChangePath(rel, root string) (string, error) {
	if rel == "" {
		return "", ErrEmptyPath
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) {
		return "", fmt.Errorf("%w: %q", ErrAbsolutePath, rel)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve root: %w", err)
	}

	target := filepath.Join(absRoot, filepath.Clean(rel))
	back, err := filepath.Rel(absRoot, target)
	if err != nil || back == ".." || strings.HasPrefix(back, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes project root", ErrPathTraversal, rel)
	}
	if back == "." {
		return "", fmt.Errorf("%w: %q names the project root", ErrPathTraversal, rel)
	}
	return target, nil
}
