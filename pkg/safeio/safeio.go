// Package safeio provides path containment helpers that guard filesystem
// mutations under the canonical store root.
package safeio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnsureContained verifies that path resolves to a location inside baseDir.
// Every destination the reconciler writes to is checked with this before any
// move or copy, so a malformed canonical name can never escape the store root.
func EnsureContained(baseDir, path string) error {
	baseAbs, err := filepath.Abs(baseDir)
	if err != nil {
		return errors.New("failed to resolve base directory")
	}
	pathAbs, err := filepath.Abs(path)
	if err != nil {
		return errors.New("failed to resolve target path")
	}

	rel, err := filepath.Rel(baseAbs, pathAbs)
	if err != nil {
		return errors.New("failed to compute relative path")
	}

	if strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return fmt.Errorf("path %s is outside base directory %s", path, baseDir)
	}

	return nil
}

// EnsureParentDir creates the parent directory of path if it does not exist.
func EnsureParentDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o750)
}
