// Package storage provides platform-native directory resolution and atomic
// file replacement for quill's on-disk state.
package storage

import (
	"os"
	"path/filepath"
	"sync"
)

const appName = "quill"

// Dirs holds the user-level directories quill reads from.
type Dirs struct {
	Config string // User configuration
}

// ProjectDirs are project-local, committed configuration locations.
type ProjectDirs struct {
	Root   string // .quill/
	Config string // .quill/config.yaml
}

var (
	globalDirs     *Dirs
	globalDirsOnce sync.Once
)

// ResolveDirs returns platform-appropriate directories.
// Results are cached after first call.
func ResolveDirs() *Dirs {
	globalDirsOnce.Do(func() {
		globalDirs = &Dirs{
			Config: resolveDir("XDG_CONFIG_HOME", platformConfigDefault()),
		}
	})
	return globalDirs
}

func resolveDir(envVar, fallback string) string {
	if dir := os.Getenv(envVar); dir != "" {
		return filepath.Join(dir, appName)
	}
	return fallback
}

// ResolveProjectDirs returns project-local directories for the given project root.
func ResolveProjectDirs(projectRoot string) *ProjectDirs {
	dir := filepath.Join(projectRoot, "."+appName)
	return &ProjectDirs{
		Root:   dir,
		Config: filepath.Join(dir, "config.yaml"),
	}
}

// ConfigDir returns the config subdirectory path.
func (d *Dirs) ConfigDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Config}, subpath...)...)
}

// EnsureDir creates a directory with the specified permissions if it doesn't exist.
// Uses 0755 when perm is zero.
func EnsureDir(path string, perm os.FileMode) error {
	if perm == 0 {
		perm = 0755
	}
	return os.MkdirAll(path, perm)
}
