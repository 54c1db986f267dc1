package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/adalundhe/quill/core/storage"
	"github.com/gofrs/flock"
)

const (
	DefaultLockTimeout = 5 * time.Second
	DefaultLockRetry   = 10 * time.Millisecond
)

// Lifecycle creates, inspects and archives sessions. It holds configuration
// only; all state lives on disk under the project.
type Lifecycle struct {
	logger      *slog.Logger
	lockTimeout time.Duration
	lockRetry   time.Duration
	fileMode    os.FileMode
	now         func() time.Time
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Lifecycle) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithLockTimeout bounds how long EnsureCurrent and Close wait for the
// project's session lock before failing with ErrSessionConflict.
func WithLockTimeout(d time.Duration) Option {
	return func(l *Lifecycle) {
		if d > 0 {
			l.lockTimeout = d
		}
	}
}

func WithLockRetry(d time.Duration) Option {
	return func(l *Lifecycle) {
		if d > 0 {
			l.lockRetry = d
		}
	}
}

func WithFileMode(mode os.FileMode) Option {
	return func(l *Lifecycle) {
		if mode != 0 {
			l.fileMode = mode
		}
	}
}

// WithClock replaces the wall clock used for session start times.
func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a Lifecycle.
func New(opts ...Option) *Lifecycle {
	l := &Lifecycle{
		logger:      slog.Default(),
		lockTimeout: DefaultLockTimeout,
		lockRetry:   DefaultLockRetry,
		fileMode:    0644,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var defaultLifecycle = New()

// Current returns the active session of the project, if any. It never
// creates one.
func Current(p Project) (Session, bool, error) {
	return defaultLifecycle.Current(p)
}

// FromHead describes a new session anchored to the repository's history tip.
func FromHead(repo Repository, p Project) (Session, error) {
	return defaultLifecycle.FromHead(repo, p)
}

// EnsureCurrent returns the active session, creating one from HEAD if none
// exists.
func EnsureCurrent(repo Repository, p Project) (Session, error) {
	return defaultLifecycle.EnsureCurrent(repo, p)
}

// Close archives the active session.
func Close(p Project) (Session, error) {
	return defaultLifecycle.Close(p)
}

// List returns archived sessions followed by the current one, oldest first.
func List(p Project) ([]Session, error) {
	return defaultLifecycle.List(p)
}

// Current inspects the project's session area for an active session.
func (l *Lifecycle) Current(p Project) (Session, bool, error) {
	return readMarker(p.SessionPath())
}

// FromHead builds, without persisting, the session that would be created
// now: anchored to the repository tip and stamped with the current time.
func (l *Lifecycle) FromHead(repo Repository, p Project) (Session, error) {
	head, err := repo.Head()
	if err != nil {
		return Session{}, fmt.Errorf("failed to read repository head: %w", err)
	}

	generation, err := archivedCount(p)
	if err != nil {
		return Session{}, err
	}

	id, err := deriveID(p.RootPath(), head, generation)
	if err != nil {
		return Session{}, err
	}

	return Session{
		ID:               id,
		StartTimestampMs: l.now().UnixMilli(),
		Anchor:           head,
	}, nil
}

// EnsureCurrent returns the active session unchanged if there is one.
// Otherwise it creates a session from HEAD and marks it active. The check
// and the creation run under the project's session lock.
func (l *Lifecycle) EnsureCurrent(repo Repository, p Project) (Session, error) {
	if s, ok, err := l.Current(p); err != nil || ok {
		return s, err
	}

	var current Session
	err := l.withLock(p, func() error {
		s, err := l.ensureLocked(repo, p)
		current = s
		return err
	})
	return current, err
}

// WithCurrent runs fn with the active session while holding the project's
// session lock, creating the session from HEAD first if none exists. The
// session cannot be closed until fn returns.
func (l *Lifecycle) WithCurrent(repo Repository, p Project, fn func(Session) error) error {
	return l.withLock(p, func() error {
		s, err := l.ensureLocked(repo, p)
		if err != nil {
			return err
		}
		return fn(s)
	})
}

// ensureLocked is EnsureCurrent's body; the caller holds the session lock.
func (l *Lifecycle) ensureLocked(repo Repository, p Project) (Session, error) {
	s, ok, err := l.Current(p)
	if err != nil || ok {
		return s, err
	}

	s, err = l.FromHead(repo, p)
	if err != nil {
		return Session{}, err
	}
	if err := l.writeMarker(p.SessionPath(), s); err != nil {
		return Session{}, err
	}

	l.logger.Info("session started",
		slog.String("session_id", s.ID),
		slog.String("branch", s.Anchor.Branch),
		slog.String("commit", s.Anchor.Commit),
		slog.String("project", p.RootPath()))
	return s, nil
}

// Close archives the active session by moving its storage area under the
// sessions directory. Its logs stay readable there; the next write opens a
// new session.
func (l *Lifecycle) Close(p Project) (Session, error) {
	var closed Session
	err := l.withLock(p, func() error {
		s, ok, err := l.Current(p)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoActiveSession
		}

		if err := storage.EnsureDir(p.SessionsPath(), 0); err != nil {
			return fmt.Errorf("failed to create sessions directory: %w", err)
		}

		target := filepath.Join(p.SessionsPath(), s.ID)
		if _, err := os.Stat(target); err == nil {
			return fmt.Errorf("archived session %s already exists", s.ID)
		}
		if err := os.Rename(p.SessionPath(), target); err != nil {
			return fmt.Errorf("failed to archive session: %w", err)
		}
		storage.SyncDir(p.SessionsPath())

		l.logger.Info("session closed",
			slog.String("session_id", s.ID),
			slog.String("project", p.RootPath()))
		closed = s
		return nil
	})
	return closed, err
}

// Archived loads an archived session by id. Anything other than a canonical
// session id is reported as not found.
func (l *Lifecycle) Archived(p Project, id string) (Session, error) {
	if !validID(id) {
		return Session{}, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}

	s, ok, err := readMarker(filepath.Join(p.SessionsPath(), id))
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// List returns every archived session and the current one, ordered by start
// time. Archived entries with unreadable markers are skipped and logged.
func (l *Lifecycle) List(p Project) ([]Session, error) {
	entries, err := readSessionEntries(p)
	if err != nil {
		return nil, err
	}

	var sessions []Session
	for _, entry := range entries {
		s, ok, err := readMarker(filepath.Join(p.SessionsPath(), entry.Name()))
		if err != nil || !ok {
			l.logger.Warn("skipping unreadable archived session",
				slog.String("entry", entry.Name()),
				slog.Any("error", err))
			continue
		}
		sessions = append(sessions, s)
	}

	current, ok, err := l.Current(p)
	if err != nil {
		return nil, err
	}
	if ok {
		sessions = append(sessions, current)
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].StartTimestampMs < sessions[j].StartTimestampMs
	})
	return sessions, nil
}

func (l *Lifecycle) writeMarker(dir string, s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := storage.WriteFileAtomic(filepath.Join(dir, markerFile), data, l.fileMode); err != nil {
		return fmt.Errorf("failed to write session marker: %w", err)
	}
	return nil
}

// withLock runs fn while holding the project's advisory session lock.
func (l *Lifecycle) withLock(p Project, fn func() error) error {
	lockPath := p.LockPath()
	if err := storage.EnsureDir(filepath.Dir(lockPath), 0); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.lockTimeout)
	defer cancel()

	lock := flock.New(lockPath)
	locked, err := lock.TryLockContext(ctx, l.lockRetry)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to acquire session lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrSessionConflict, lockPath)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			l.logger.Warn("failed to release session lock",
				slog.String("path", lockPath),
				slog.Any("error", err))
		}
	}()

	return fn()
}

func archivedCount(p Project) (int, error) {
	entries, err := readSessionEntries(p)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func readSessionEntries(p Project) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(p.SessionsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	dirs := entries[:0]
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry)
		}
	}
	return dirs, nil
}
