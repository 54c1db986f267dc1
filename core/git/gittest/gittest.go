// Package gittest builds throwaway git repositories for tests.
package gittest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Repo is a temporary repository rooted at Dir.
type Repo struct {
	Dir  string
	Repo *gogit.Repository
}

// Init creates an empty repository in a fresh temporary directory.
func Init(t *testing.T) *Repo {
	t.Helper()

	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("failed to init repo: %v", err)
	}
	return &Repo{Dir: dir, Repo: repo}
}

// InitWithCommit creates a repository with one commit containing files.
// An empty files map produces a commit with an empty tree.
func InitWithCommit(t *testing.T, files map[string]string) (*Repo, string) {
	t.Helper()

	r := Init(t)
	hash := r.Commit(t, "initial commit", files)
	return r, hash
}

// Commit writes files into the worktree, stages them and commits.
func (r *Repo) Commit(t *testing.T, message string, files map[string]string) string {
	t.Helper()

	w, err := r.Repo.Worktree()
	if err != nil {
		t.Fatalf("failed to get worktree: %v", err)
	}

	for name, content := range files {
		path := filepath.Join(r.Dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create dir for %s: %v", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
		if _, err := w.Add(name); err != nil {
			t.Fatalf("failed to add %s: %v", name, err)
		}
	}

	hash, err := w.Commit(message, &gogit.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  "test",
			Email: "test@email.com",
			When:  time.Now(),
		},
	})
	if err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
	return hash.String()
}
