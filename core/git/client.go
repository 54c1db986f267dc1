// Package git exposes the small slice of repository state quill needs: where
// the history tip is, and what a file looked like at a given commit. It wraps
// go-git/v5 and never writes commits, branches or refs.
package git

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

var (
	ErrEmptyPath       = errors.New("repository path cannot be empty")
	ErrNotGitRepo      = errors.New("path is not a git repository")
	ErrInvalidCommit   = errors.New("invalid commit reference")
	ErrFileNotInCommit = errors.New("file not present in commit")
)

// Head identifies the tip of repository history.
// Commit is empty when HEAD points at a branch with no commits yet.
type Head struct {
	Branch string `json:"branch"`
	Commit string `json:"commit"`
}

// Client provides read-only operations on a git repository.
type Client struct {
	repoPath string
	repo     *gogit.Repository
	mu       sync.RWMutex
}

// Open opens the repository containing path, searching parent directories
// for the .git directory.
func Open(path string) (*Client, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	repo, err := gogit.PlainOpenWithOptions(absPath, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotGitRepo, absPath)
		}
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	root := absPath
	if wt, err := repo.Worktree(); err == nil {
		root = wt.Filesystem.Root()
	}

	return &Client{repoPath: root, repo: repo}, nil
}

// FromRepository wraps an already opened go-git repository.
func FromRepository(root string, repo *gogit.Repository) *Client {
	return &Client{repoPath: root, repo: repo}
}

// RepoPath returns the working tree root.
func (c *Client) RepoPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.repoPath
}

// Head returns the current history tip. A repository without commits yields
// the branch HEAD refers to and an empty commit.
func (c *Client) Head() (Head, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ref, err := c.repo.Head()
	if err == nil {
		return Head{Branch: branchName(ref.Name()), Commit: ref.Hash().String()}, nil
	}
	if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return Head{}, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	return c.unbornHead()
}

// unbornHead reads the symbolic HEAD of a repository with no commits.
func (c *Client) unbornHead() (Head, error) {
	sym, err := c.repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return Head{}, fmt.Errorf("failed to read HEAD: %w", err)
	}
	if sym.Type() != plumbing.SymbolicReference {
		return Head{}, fmt.Errorf("unexpected HEAD reference type %s", sym.Type())
	}
	return Head{Branch: branchName(sym.Target())}, nil
}

func branchName(name plumbing.ReferenceName) string {
	return strings.TrimPrefix(name.String(), "refs/heads/")
}

// FileAt returns the content of a file at the given commit. Returns
// ErrFileNotInCommit when the commit has no such file; an empty commit hash
// is treated as an empty tree.
func (c *Client) FileAt(commit, path string) (string, error) {
	if commit == "" {
		return "", ErrFileNotInCommit
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	obj, err := c.repo.CommitObject(plumbing.NewHash(commit))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidCommit, commit)
	}

	file, err := obj.File(filepath.ToSlash(path))
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return "", ErrFileNotInCommit
		}
		return "", fmt.Errorf("failed to read %s at %s: %w", path, commit, err)
	}

	return file.Contents()
}
