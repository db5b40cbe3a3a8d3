package bazel

import (
	"errors"
	"os"
	"path/filepath"
)

// ErrNoWorkspace is returned when no workspace marker is found.
var ErrNoWorkspace = errors.New("not inside a bazel workspace")

// workspaceMarkers are the files that mark a bazel workspace root.
var workspaceMarkers = []string{"MODULE.bazel", "REPO.bazel", "WORKSPACE.bazel", "WORKSPACE"}

// FindWorkspace walks up from dir to the nearest directory containing a
// workspace marker file.
func FindWorkspace(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		for _, marker := range workspaceMarkers {
			if info, err := os.Stat(filepath.Join(abs, marker)); err == nil && !info.IsDir() {
				return abs, nil
			}
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", ErrNoWorkspace
		}
		abs = parent
	}
}
