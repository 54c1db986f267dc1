package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/adalundhe/quill/core/deltas"
	"github.com/adalundhe/quill/core/git"
	"github.com/adalundhe/quill/core/sessions"
	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultCacheSize = 512

// Repository is what the recorder needs from git: the history tip to anchor
// sessions, and file contents at that anchor to start diffs from.
type Repository interface {
	sessions.Repository
	FileAt(commit, path string) (string, error)
}

// Project is a working copy whose files are recorded.
type Project interface {
	deltas.Project
	RelPath(absPath string) (string, error)
}

// Recorder turns file changes into deltas. It is not safe for concurrent
// use; Run funnels events through a single goroutine.
type Recorder struct {
	repo    Repository
	project Project
	store   *deltas.Store
	known   *lru.Cache[string, string]
	logger  *slog.Logger
	now     func() time.Time
}

type RecorderOption func(*Recorder)

func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithStore sets the store deltas are appended through. Its lifecycle
// decides which session receives them.
func WithStore(store *deltas.Store) RecorderOption {
	return func(r *Recorder) {
		if store != nil {
			r.store = store
		}
	}
}

func WithCacheSize(size int) RecorderOption {
	return func(r *Recorder) {
		if size > 0 {
			if cache, err := lru.New[string, string](size); err == nil {
				r.known = cache
			}
		}
	}
}

func WithRecorderClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRecorder creates a Recorder for project.
func NewRecorder(repo Repository, project Project, opts ...RecorderOption) (*Recorder, error) {
	cache, err := lru.New[string, string](DefaultCacheSize)
	if err != nil {
		return nil, err
	}

	r := &Recorder{
		repo:    repo,
		project: project,
		known:   cache,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.store == nil {
		r.store = deltas.NewStore(deltas.WithLogger(r.logger))
	}
	return r, nil
}

// Record diffs the current content of relPath against the last recorded
// state and appends the difference as one delta. It reports whether a delta
// was written. Missing files, directories and non UTF-8 content are skipped.
func (r *Recorder) Record(relPath string) (bool, error) {
	abs := filepath.Join(r.project.RootPath(), filepath.FromSlash(relPath))

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return false, err
	}
	if !utf8.Valid(data) {
		r.logger.Debug("skipping non-text file", slog.String("file", relPath))
		return false, nil
	}
	current := string(data)

	var (
		sessionID string
		ops       []deltas.Operation
	)
	err = r.store.Update(r.repo, r.project, relPath, func(session sessions.Session, log []deltas.Delta) ([]deltas.Delta, bool, error) {
		sessionID = session.ID
		previous, ok := r.known.Get(cacheKey(session.ID, relPath))
		if !ok {
			text, err := r.recordedText(session, relPath, log)
			if err != nil {
				return nil, false, err
			}
			previous = text
		}

		ops = deltas.Diff(previous, current)
		if len(ops) == 0 {
			return log, false, nil
		}
		return append(log, deltas.NewDelta(r.now().UnixMilli(), ops...)), true, nil
	})
	if err != nil {
		return false, err
	}
	r.known.Add(cacheKey(sessionID, relPath), current)

	if len(ops) == 0 {
		return false, nil
	}
	r.logger.Debug("delta recorded",
		slog.String("session_id", sessionID),
		slog.String("file", relPath),
		slog.Int("operations", len(ops)))
	return true, nil
}

func cacheKey(sessionID, relPath string) string {
	return sessionID + ":" + relPath
}

// recordedText reconstructs the last recorded text of relPath: its content
// at the session anchor with the session's log replayed on top.
func (r *Recorder) recordedText(session sessions.Session, relPath string, log []deltas.Delta) (string, error) {
	base, err := r.repo.FileAt(session.Anchor.Commit, relPath)
	if err != nil && !errors.Is(err, git.ErrFileNotInCommit) {
		return "", err
	}

	text, err := deltas.Replay(base, log)
	if err != nil {
		return "", fmt.Errorf("replay %s: %w", relPath, err)
	}
	return text, nil
}

// Run records every create and modify event until events is closed or ctx
// is cancelled. Failures are logged and do not stop the loop.
func (r *Recorder) Run(ctx context.Context, events <-chan *Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.handle(ev)
		}
	}
}

func (r *Recorder) handle(ev *Event) {
	if ev.Op != OpCreate && ev.Op != OpModify {
		return
	}

	rel, err := r.project.RelPath(ev.Path)
	if err != nil {
		r.logger.Warn("event outside project", slog.String("path", ev.Path))
		return
	}
	if rel == ".git" || strings.HasPrefix(rel, ".git/") {
		return
	}

	if _, err := r.Record(rel); err != nil {
		r.logger.Error("failed to record change",
			slog.String("file", rel),
			slog.String("op", ev.Op.String()),
			slog.Any("error", err))
	}
}
