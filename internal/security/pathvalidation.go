// Package security keeps file reads inside the directories they were
// configured for.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideDirectory is returned for paths that resolve outside their
// directory.
var ErrOutsideDirectory = errors.New("path escapes directory")

// WithinDirectory reports whether path stays inside dir after cleaning. It
// does not touch the filesystem.
func WithinDirectory(path, dir string) error {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutsideDirectory, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s is not under %s", ErrOutsideDirectory, path, dir)
	}
	return nil
}

// ValidatePathWithinDirectory checks that filePath stays inside safeDir once
// symlinks are resolved, so a link placed in the directory cannot point a
// reader at files elsewhere. A path that does not exist yet is judged by its
// nearest existing parent.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory path: %w", err)
	}
	canonicalDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory symlinks: %w", err)
	}

	if err := WithinDirectory(resolveExisting(absPath), canonicalDir); err != nil {
		return fmt.Errorf("%w: %s", ErrOutsideDirectory, filePath)
	}
	return nil
}

// resolveExisting evaluates symlinks on the longest existing prefix of path
// and re-attaches the remainder.
func resolveExisting(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	for child, parent := path, filepath.Dir(path); parent != child; child, parent = parent, filepath.Dir(parent) {
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rel, _ := filepath.Rel(parent, path)
			return filepath.Join(resolved, rel)
		}
	}
	return path
}
