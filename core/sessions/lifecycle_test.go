package sessions_test

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adalundhe/quill/core/git"
	"github.com/adalundhe/quill/core/git/gittest"
	"github.com/adalundhe/quill/core/project"
	"github.com/adalundhe/quill/core/sessions"
	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProject(t *testing.T) (*git.Client, *project.Project, *gittest.Repo) {
	t.Helper()

	r, _ := gittest.InitWithCommit(t, nil)
	client, err := git.Open(r.Dir)
	require.NoError(t, err)
	p, err := project.FromPath(r.Dir)
	require.NoError(t, err)
	return client, p, r
}

func TestCurrentWithoutSession(t *testing.T) {
	_, p, _ := testProject(t)

	s, ok, err := sessions.Current(p)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, s.ID)

	_, err = os.Stat(p.SessionPath())
	assert.True(t, os.IsNotExist(err), "Current must not create anything on disk")
}

func TestFromHead(t *testing.T) {
	repo, p, r := testProject(t)
	head, err := repo.Head()
	require.NoError(t, err)

	t.Run("anchors to head", func(t *testing.T) {
		s, err := sessions.FromHead(repo, p)
		require.NoError(t, err)
		assert.NotEmpty(t, s.ID)
		assert.Equal(t, head, s.Anchor)
		assert.InDelta(t, time.Now().UnixMilli(), s.StartTimestampMs, float64(time.Minute.Milliseconds()))
	})

	t.Run("is deterministic and persists nothing", func(t *testing.T) {
		a, err := sessions.FromHead(repo, p)
		require.NoError(t, err)
		b, err := sessions.FromHead(repo, p)
		require.NoError(t, err)
		assert.Equal(t, a.ID, b.ID)

		_, ok, err := sessions.Current(p)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("differs across anchors", func(t *testing.T) {
		before, err := sessions.FromHead(repo, p)
		require.NoError(t, err)

		r.Commit(t, "second", map[string]string{"b.txt": "b"})
		after, err := sessions.FromHead(repo, p)
		require.NoError(t, err)

		assert.NotEqual(t, before.ID, after.ID)
		assert.NotEqual(t, before.Anchor.Commit, after.Anchor.Commit)
	})
}

func TestEnsureCurrent(t *testing.T) {
	t.Run("creates session matching head", func(t *testing.T) {
		repo, p, _ := testProject(t)

		expected, err := sessions.FromHead(repo, p)
		require.NoError(t, err)

		s, err := sessions.EnsureCurrent(repo, p)
		require.NoError(t, err)
		assert.Equal(t, expected.ID, s.ID)

		current, ok, err := sessions.Current(p)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, s, current)
	})

	t.Run("does not replace an active session", func(t *testing.T) {
		repo, p, r := testProject(t)

		first, err := sessions.EnsureCurrent(repo, p)
		require.NoError(t, err)

		// Moving HEAD must not re-anchor the active session.
		r.Commit(t, "second", map[string]string{"a.txt": "a"})

		second, err := sessions.EnsureCurrent(repo, p)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("conflicts when lock is held", func(t *testing.T) {
		repo, p, _ := testProject(t)
		require.NoError(t, os.MkdirAll(filepath.Dir(p.LockPath()), 0755))

		held := flock.New(p.LockPath())
		require.NoError(t, held.Lock())
		defer held.Unlock()

		lc := sessions.New(sessions.WithLockTimeout(50 * time.Millisecond))
		_, err := lc.EnsureCurrent(repo, p)
		assert.ErrorIs(t, err, sessions.ErrSessionConflict)
	})

	t.Run("unborn head", func(t *testing.T) {
		r := gittest.Init(t)
		repo, err := git.Open(r.Dir)
		require.NoError(t, err)
		p, err := project.FromPath(r.Dir)
		require.NoError(t, err)

		s, err := sessions.EnsureCurrent(repo, p)
		require.NoError(t, err)
		assert.Empty(t, s.Anchor.Commit)
		assert.Equal(t, "master", s.Anchor.Branch)
	})

	t.Run("uses injected clock", func(t *testing.T) {
		repo, p, _ := testProject(t)
		at := time.UnixMilli(1_700_000_000_000)

		lc := sessions.New(sessions.WithClock(func() time.Time { return at }))
		s, err := lc.EnsureCurrent(repo, p)
		require.NoError(t, err)
		assert.Equal(t, at.UnixMilli(), s.StartTimestampMs)
		assert.True(t, s.StartTime().Equal(at))
	})
}

func TestCorruptMarker(t *testing.T) {
	repo, p, _ := testProject(t)
	require.NoError(t, os.MkdirAll(p.SessionPath(), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(p.SessionPath(), "session.json"), []byte("invalid"), 0644))

	_, _, err := sessions.Current(p)
	assert.ErrorIs(t, err, sessions.ErrCorruptSession)

	_, err = sessions.EnsureCurrent(repo, p)
	assert.ErrorIs(t, err, sessions.ErrCorruptSession)
}

func TestClose(t *testing.T) {
	t.Run("without session", func(t *testing.T) {
		_, p, _ := testProject(t)

		_, err := sessions.Close(p)
		assert.ErrorIs(t, err, sessions.ErrNoActiveSession)
	})

	t.Run("archives and starts fresh", func(t *testing.T) {
		repo, p, _ := testProject(t)
		lc := sessions.New()

		first, err := lc.EnsureCurrent(repo, p)
		require.NoError(t, err)

		closed, err := lc.Close(p)
		require.NoError(t, err)
		assert.Equal(t, first.ID, closed.ID)

		_, ok, err := lc.Current(p)
		require.NoError(t, err)
		assert.False(t, ok)

		archived, err := lc.Archived(p, first.ID)
		require.NoError(t, err)
		assert.Equal(t, first, archived)

		second, err := lc.EnsureCurrent(repo, p)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID, "same anchor after close must yield a new session")
		assert.Equal(t, first.Anchor, second.Anchor)
	})

	t.Run("unknown archived session", func(t *testing.T) {
		_, p, _ := testProject(t)

		_, err := sessions.New().Archived(p, "missing")
		assert.ErrorIs(t, err, sessions.ErrSessionNotFound)
	})

	t.Run("rejects ids that are not session ids", func(t *testing.T) {
		repo, p, _ := testProject(t)
		lc := sessions.New()

		current, err := lc.EnsureCurrent(repo, p)
		require.NoError(t, err)

		// "../session" would otherwise resolve to the active session's marker.
		for _, id := range []string{"../session", "../../..", "", ".", strings.ToUpper(current.ID)} {
			_, err := lc.Archived(p, id)
			assert.ErrorIs(t, err, sessions.ErrSessionNotFound, "id %q", id)
		}
	})
}

func TestEnsureCurrentConcurrent(t *testing.T) {
	repo, p, _ := testProject(t)

	var logs syncBuffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	const workers = 8
	ids := make([]string, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			lc := sessions.New(sessions.WithLogger(logger), sessions.WithLockRetry(time.Millisecond))
			<-start
			s, err := lc.EnsureCurrent(repo, p)
			ids[i], errs[i] = s.ID, err
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, strings.Count(logs.String(), "session started"), "exactly one marker write")

	current, ok, err := sessions.Current(p)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ids[0], current.ID)
}

func TestWithCurrentHoldsLock(t *testing.T) {
	repo, p, _ := testProject(t)
	lc := sessions.New()
	closer := sessions.New(sessions.WithLockTimeout(50 * time.Millisecond))

	var inside sessions.Session
	err := lc.WithCurrent(repo, p, func(s sessions.Session) error {
		inside = s
		_, closeErr := closer.Close(p)
		assert.ErrorIs(t, closeErr, sessions.ErrSessionConflict)
		return nil
	})
	require.NoError(t, err)

	current, ok, err := lc.Current(p)
	require.NoError(t, err)
	require.True(t, ok, "session must survive a close attempted while it was held")
	assert.Equal(t, inside.ID, current.ID)

	closed, err := closer.Close(p)
	require.NoError(t, err)
	assert.Equal(t, inside.ID, closed.ID)
}

func TestWithCurrentPropagatesError(t *testing.T) {
	repo, p, _ := testProject(t)
	boom := errors.New("boom")

	err := sessions.New().WithCurrent(repo, p, func(sessions.Session) error { return boom })
	assert.ErrorIs(t, err, boom)
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestList(t *testing.T) {
	repo, p, _ := testProject(t)
	tick := time.UnixMilli(1_000)
	lc := sessions.New(sessions.WithClock(func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}))

	list, err := lc.List(p)
	require.NoError(t, err)
	assert.Empty(t, list)

	first, err := lc.EnsureCurrent(repo, p)
	require.NoError(t, err)
	_, err = lc.Close(p)
	require.NoError(t, err)
	second, err := lc.EnsureCurrent(repo, p)
	require.NoError(t, err)

	list, err = lc.List(p)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
}
