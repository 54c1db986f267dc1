package sessions

import "errors"

var (
	// ErrSessionConflict is returned when another writer holds the project's
	// session lock for longer than the configured timeout.
	ErrSessionConflict = errors.New("session is locked by another writer")

	// ErrCorruptSession is returned when a session marker exists but cannot
	// be decoded.
	ErrCorruptSession = errors.New("session metadata is corrupt")

	// ErrNoActiveSession is returned by operations that need a current session.
	ErrNoActiveSession = errors.New("no active session")

	// ErrSessionNotFound is returned when an archived session does not exist.
	ErrSessionNotFound = errors.New("session not found")
)
