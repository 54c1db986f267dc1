// Package project resolves the on-disk locations a tracked working copy uses
// for its edit history.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultStorageDir is the directory under .git that holds edit history.
const DefaultStorageDir = "quill"

var (
	ErrEmptyRoot   = errors.New("project root cannot be empty")
	ErrRootMissing = errors.New("project root does not exist")
)

// Project is a working copy whose files are tracked.
type Project struct {
	root       string
	storageDir string
}

// Option configures a Project.
type Option func(*Project)

// WithStorageDir overrides the directory name used under .git.
func WithStorageDir(name string) Option {
	return func(p *Project) {
		if name != "" {
			p.storageDir = name
		}
	}
}

// FromPath builds a Project rooted at path. The path must exist.
func FromPath(path string, opts ...Option) (*Project, error) {
	if path == "" {
		return nil, ErrEmptyRoot
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRootMissing, abs)
		}
		return nil, fmt.Errorf("failed to stat project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root is not a directory: %s", abs)
	}

	p := &Project{root: abs, storageDir: DefaultStorageDir}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// RootPath returns the absolute working copy root.
func (p *Project) RootPath() string {
	return p.root
}

// StoragePath is the root of all edit history for this project.
func (p *Project) StoragePath() string {
	return filepath.Join(p.root, ".git", p.storageDir)
}

// SessionPath is the storage area of the currently active session.
func (p *Project) SessionPath() string {
	return filepath.Join(p.StoragePath(), "session")
}

// SessionsPath holds archived sessions, one directory per session id.
func (p *Project) SessionsPath() string {
	return filepath.Join(p.StoragePath(), "sessions")
}

// LockPath is the advisory lock guarding session creation and archival.
func (p *Project) LockPath() string {
	return filepath.Join(p.StoragePath(), "session.lock")
}

// DeltasPath is the directory holding the active session's delta logs.
func (p *Project) DeltasPath() string {
	return filepath.Join(p.SessionPath(), "deltas")
}

// DeltasPathFor returns the log location for a tracked file in the active
// session. filePath is expected to be relative to the project root.
func (p *Project) DeltasPathFor(filePath string) string {
	return filepath.Join(p.DeltasPath(), filepath.FromSlash(filePath))
}

// ArchivedDeltasPathFor returns the log location for a file inside an
// archived session.
func (p *Project) ArchivedDeltasPathFor(sessionID, filePath string) string {
	return filepath.Join(p.SessionsPath(), sessionID, "deltas", filepath.FromSlash(filePath))
}

// RelPath converts an absolute path inside the working copy into a
// slash-separated project-relative path.
func (p *Project) RelPath(absPath string) (string, error) {
	rel, err := filepath.Rel(p.root, absPath)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside project %s", absPath, p.root)
	}
	return filepath.ToSlash(rel), nil
}
