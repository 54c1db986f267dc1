// Package sessions manages the bounded editing periods that group delta logs.
//
// At most one session is current per project. A session is anchored to the
// repository history tip observed when it was created and keeps that anchor
// until it is archived.
package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adalundhe/quill/core/git"
	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

const markerFile = "session.json"

// idNamespace scopes name-based session ids to quill.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/adalundhe/quill/sessions"))

// Session is one bounded editing period.
type Session struct {
	ID               string   `json:"id"`
	StartTimestampMs int64    `json:"startTimestampMs"`
	Anchor           git.Head `json:"anchor"`
}

// StartTime returns the session start as a time.Time.
func (s Session) StartTime() time.Time {
	return time.UnixMilli(s.StartTimestampMs)
}

// Repository is the view of the repository a session needs: its history tip.
type Repository interface {
	Head() (git.Head, error)
}

// Project locates a project's session storage.
type Project interface {
	RootPath() string
	SessionPath() string
	SessionsPath() string
	LockPath() string
}

// identity is the canonical document a session id is derived from.
type identity struct {
	Project    string `json:"project"`
	Branch     string `json:"branch"`
	Commit     string `json:"commit"`
	Generation int    `json:"generation"`
}

// deriveID hashes the RFC 8785 canonical form of the identity document into
// a name-based UUID, so the same project, anchor and generation always
// produce the same id.
func deriveID(root string, head git.Head, generation int) (string, error) {
	raw, err := json.Marshal(identity{
		Project:    root,
		Branch:     head.Branch,
		Commit:     head.Commit,
		Generation: generation,
	})
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize session identity: %w", err)
	}
	return uuid.NewSHA1(idNamespace, canonical).String(), nil
}

// validID reports whether id is a session id in canonical UUID form, which
// also keeps it a single path element.
func validID(id string) bool {
	u, err := uuid.Parse(id)
	return err == nil && u.String() == id
}

func readMarker(dir string) (Session, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, markerFile))
	if err != nil {
		if os.IsNotExist(err) {
			return Session{}, false, nil
		}
		return Session{}, false, fmt.Errorf("failed to read session marker: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, false, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}
	if s.ID == "" {
		return Session{}, false, fmt.Errorf("%w: missing id", ErrCorruptSession)
	}
	return s, true, nil
}
