// Package workspace locates the work-tree root that agent subprocesses run
// in. A root is a directory containing a .beads/ work-item database, or
// failing that, a .git/ repository marker.
package workspace

import (
	"errors"
	"os"
	"path/filepath"
)

// ErrContextUnavailable indicates no work-tree root could be located.
// Starting a session without a root is a hard failure.
var ErrContextUnavailable = errors.New("could not locate project root (no .beads or .git directory found)")

// rootMarkers are checked in priority order at each directory level.
var rootMarkers = []string{".beads", ".git"}

// FindRoot walks up from startDir looking for a work-tree root marker.
// It returns the first directory containing .beads/, or if none exists on
// the path to the filesystem root, the first directory containing .git/.
func FindRoot(startDir string) (string, error) {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", ErrContextUnavailable
	}

	for _, marker := range rootMarkers {
		dir := abs
		for {
			candidate := filepath.Join(dir, marker)
			if info, err := os.Stat(candidate); err == nil && info.IsDir() {
				return dir, nil
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	return "", ErrContextUnavailable
}

// FindRootFromCwd locates the work-tree root starting from the current
// working directory.
func FindRootFromCwd() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", ErrContextUnavailable
	}
	return FindRoot(cwd)
}
