package deltas

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/adalundhe/quill/core/sessions"
	"github.com/adalundhe/quill/core/storage"
)

// Project locates the delta logs of a working copy.
type Project interface {
	sessions.Project
	DeltasPathFor(filePath string) string
	ArchivedDeltasPathFor(sessionID, filePath string) string
}

// Store persists one delta log per tracked file under the project's active
// session. Writes replace the whole log atomically.
type Store struct {
	logger    *slog.Logger
	fileMode  os.FileMode
	lifecycle *sessions.Lifecycle
}

// StoreOption configures a Store.
type StoreOption func(*Store)

func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithFileMode(mode os.FileMode) StoreOption {
	return func(s *Store) {
		if mode != 0 {
			s.fileMode = mode
		}
	}
}

// WithLifecycle sets the session lifecycle writes use to find or create the
// current session.
func WithLifecycle(lc *sessions.Lifecycle) StoreOption {
	return func(s *Store) {
		if lc != nil {
			s.lifecycle = lc
		}
	}
}

// NewStore creates a Store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		logger:   slog.Default(),
		fileMode: 0644,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.lifecycle == nil {
		s.lifecycle = sessions.New(sessions.WithLogger(s.logger), sessions.WithFileMode(s.fileMode))
	}
	return s
}

var defaultStore = NewStore()

// Read loads the log of filePath in the active session. ok is false when
// nothing has been recorded for the file.
func Read(p Project, filePath string) (deltas []Delta, ok bool, err error) {
	return defaultStore.Read(p, filePath)
}

// Write replaces the log of filePath with deltas under the current session,
// creating a session if none is active.
func Write(repo sessions.Repository, p Project, filePath string, deltas []Delta) error {
	return defaultStore.Write(repo, p, filePath, deltas)
}

// Append reads the log of filePath, appends deltas and writes it back.
func Append(repo sessions.Repository, p Project, filePath string, deltas ...Delta) error {
	return defaultStore.Append(repo, p, filePath, deltas...)
}

// ReadSession loads the log of filePath recorded in the given session.
func ReadSession(p Project, sessionID, filePath string) ([]Delta, bool, error) {
	return defaultStore.ReadSession(p, sessionID, filePath)
}

func (s *Store) Read(p Project, filePath string) ([]Delta, bool, error) {
	rel, err := cleanFilePath(filePath)
	if err != nil {
		return nil, false, err
	}
	return s.readLog(p.DeltasPathFor(rel))
}

func (s *Store) ReadSession(p Project, sessionID, filePath string) ([]Delta, bool, error) {
	rel, err := cleanFilePath(filePath)
	if err != nil {
		return nil, false, err
	}

	current, ok, err := s.lifecycle.Current(p)
	if err != nil {
		return nil, false, err
	}
	if ok && current.ID == sessionID {
		return s.readLog(p.DeltasPathFor(rel))
	}

	if _, err := s.lifecycle.Archived(p, sessionID); err != nil {
		return nil, false, err
	}
	return s.readLog(p.ArchivedDeltasPathFor(sessionID, rel))
}

func (s *Store) readLog(logPath string) ([]Delta, bool, error) {
	data, err := os.ReadFile(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: read %s: %w", ErrIO, logPath, err)
	}

	deltas, err := DecodeLog(data)
	if err != nil {
		s.logger.Warn("delta log failed to decode",
			slog.String("path", logPath),
			slog.Any("error", err))
		return nil, false, fmt.Errorf("%s: %w", logPath, err)
	}
	return deltas, true, nil
}

// Write replaces the log of filePath. The session check and the file
// replacement happen under one hold of the session lock, so a concurrent
// Close either archives the log or happens after it is written.
func (s *Store) Write(repo sessions.Repository, p Project, filePath string, deltas []Delta) error {
	rel, err := cleanFilePath(filePath)
	if err != nil {
		return err
	}

	data, err := EncodeLog(deltas)
	if err != nil {
		return fmt.Errorf("encode delta log: %w", err)
	}

	return s.lifecycle.WithCurrent(repo, p, func(session sessions.Session) error {
		return s.writeLog(session, p, rel, data, len(deltas))
	})
}

// Append adds deltas to the end of the log of filePath. The read and the
// write share one hold of the session lock.
func (s *Store) Append(repo sessions.Repository, p Project, filePath string, deltas ...Delta) error {
	return s.Update(repo, p, filePath, func(_ sessions.Session, existing []Delta) ([]Delta, bool, error) {
		combined := make([]Delta, 0, len(existing)+len(deltas))
		combined = append(combined, existing...)
		combined = append(combined, deltas...)
		return combined, true, nil
	})
}

// UpdateFunc receives the current session and the file's log in it, and
// returns the replacement log. changed=false leaves the log untouched.
type UpdateFunc func(session sessions.Session, log []Delta) (updated []Delta, changed bool, err error)

// Update reads the log of filePath in the current session, creating the
// session if needed, and replaces it with fn's result. Everything runs under
// one hold of the session lock.
func (s *Store) Update(repo sessions.Repository, p Project, filePath string, fn UpdateFunc) error {
	rel, err := cleanFilePath(filePath)
	if err != nil {
		return err
	}

	return s.lifecycle.WithCurrent(repo, p, func(session sessions.Session) error {
		existing, _, err := s.readLog(p.DeltasPathFor(rel))
		if err != nil {
			return err
		}

		updated, changed, err := fn(session, existing)
		if err != nil || !changed {
			return err
		}

		data, err := EncodeLog(updated)
		if err != nil {
			return fmt.Errorf("encode delta log: %w", err)
		}
		return s.writeLog(session, p, rel, data, len(updated))
	})
}

func (s *Store) writeLog(session sessions.Session, p Project, rel string, data []byte, count int) error {
	logPath := p.DeltasPathFor(rel)
	if err := storage.WriteFileAtomic(logPath, data, s.fileMode); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	s.logger.Debug("delta log written",
		slog.String("session_id", session.ID),
		slog.String("file", rel),
		slog.Int("deltas", count))
	return nil
}

// cleanFilePath normalizes a project-relative path and rejects paths that
// are absolute or leave the project.
func cleanFilePath(filePath string) (string, error) {
	if filePath == "" || filepath.IsAbs(filePath) || strings.HasPrefix(filePath, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, filePath)
	}

	clean := path.Clean(filepath.ToSlash(filePath))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, filePath)
	}
	return clean, nil
}
