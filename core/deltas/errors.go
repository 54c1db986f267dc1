package deltas

import "errors"

var (
	// ErrCorruptLog is returned when a delta log exists but cannot be decoded.
	ErrCorruptLog = errors.New("delta log is corrupt")

	// ErrOutOfRange is returned when an operation addresses text past its end.
	ErrOutOfRange = errors.New("operation out of range")

	// ErrIO wraps failures of the underlying storage.
	ErrIO = errors.New("delta log io failure")

	// ErrInvalidPath is returned for file paths that are absolute or escape
	// the project root.
	ErrInvalidPath = errors.New("invalid tracked file path")
)
