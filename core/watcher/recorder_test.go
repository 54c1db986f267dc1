package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adalundhe/quill/core/deltas"
	"github.com/adalundhe/quill/core/git"
	"github.com/adalundhe/quill/core/git/gittest"
	"github.com/adalundhe/quill/core/project"
	"github.com/adalundhe/quill/core/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorderFixture struct {
	repo    *gittest.Repo
	client  *git.Client
	project *project.Project
	rec     *Recorder
	clock   int64
}

func newRecorderFixture(t *testing.T, committed map[string]string) *recorderFixture {
	t.Helper()

	r, _ := gittest.InitWithCommit(t, committed)
	client, err := git.Open(r.Dir)
	require.NoError(t, err)
	p, err := project.FromPath(r.Dir)
	require.NoError(t, err)

	f := &recorderFixture{repo: r, client: client, project: p, clock: 1000}
	f.rec, err = NewRecorder(client, p, WithRecorderClock(func() time.Time {
		f.clock += 10
		return time.UnixMilli(f.clock)
	}))
	require.NoError(t, err)
	return f
}

func (f *recorderFixture) write(t *testing.T, name, content string) {
	t.Helper()
	path := filepath.Join(f.project.RootPath(), filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func (f *recorderFixture) replay(t *testing.T, name, base string) string {
	t.Helper()
	log, ok, err := deltas.Read(f.project, name)
	require.NoError(t, err)
	require.True(t, ok)
	text, err := deltas.Replay(base, log)
	require.NoError(t, err)
	return text
}

func TestRecordNewFile(t *testing.T) {
	f := newRecorderFixture(t, nil)
	f.write(t, "notes.txt", "hello")

	recorded, err := f.rec.Record("notes.txt")
	require.NoError(t, err)
	assert.True(t, recorded)

	log, ok, err := deltas.Read(f.project, "notes.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, log, 1)
	assert.Equal(t, []deltas.Operation{deltas.Insert{Offset: 0, Text: "hello"}}, log[0].Operations)
	assert.Equal(t, int64(1010), log[0].TimestampMs)
}

func TestRecordDiffsAgainstAnchorCommit(t *testing.T) {
	f := newRecorderFixture(t, map[string]string{"main.go": "package main\n"})
	f.write(t, "main.go", "package main\n\nfunc main() {}\n")

	recorded, err := f.rec.Record("main.go")
	require.NoError(t, err)
	assert.True(t, recorded)

	assert.Equal(t, "package main\n\nfunc main() {}\n", f.replay(t, "main.go", "package main\n"))
}

func TestRecordSuccessiveEdits(t *testing.T) {
	f := newRecorderFixture(t, map[string]string{"a.txt": "one"})

	edits := []string{"one two", "one two three", "two three", "two three", "2 three ✓"}
	for _, content := range edits {
		f.write(t, "a.txt", content)
		_, err := f.rec.Record("a.txt")
		require.NoError(t, err)
	}

	log, _, err := deltas.Read(f.project, "a.txt")
	require.NoError(t, err)
	assert.Len(t, log, 4, "unchanged content must not produce a delta")
	assert.Equal(t, "2 three ✓", f.replay(t, "a.txt", "one"))

	for i := 1; i < len(log); i++ {
		assert.Greater(t, log[i].TimestampMs, log[i-1].TimestampMs)
	}
}

func TestRecordResumesFromLogWithoutCache(t *testing.T) {
	f := newRecorderFixture(t, nil)
	f.write(t, "a.txt", "first")
	_, err := f.rec.Record("a.txt")
	require.NoError(t, err)

	fresh, err := NewRecorder(f.client, f.project)
	require.NoError(t, err)
	f.write(t, "a.txt", "first second")
	recorded, err := fresh.Record("a.txt")
	require.NoError(t, err)
	assert.True(t, recorded)

	log, _, err := deltas.Read(f.project, "a.txt")
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, []deltas.Operation{deltas.Insert{Offset: 5, Text: " second"}}, log[1].Operations)
}

func TestRecordSkips(t *testing.T) {
	f := newRecorderFixture(t, nil)

	t.Run("missing file", func(t *testing.T) {
		recorded, err := f.rec.Record("gone.txt")
		require.NoError(t, err)
		assert.False(t, recorded)
	})

	t.Run("directory", func(t *testing.T) {
		require.NoError(t, os.MkdirAll(filepath.Join(f.project.RootPath(), "dir"), 0755))
		recorded, err := f.rec.Record("dir")
		require.NoError(t, err)
		assert.False(t, recorded)
	})

	t.Run("binary content", func(t *testing.T) {
		path := filepath.Join(f.project.RootPath(), "image.bin")
		require.NoError(t, os.WriteFile(path, []byte{0xff, 0xfe, 0x00, 0x80}, 0644))
		recorded, err := f.rec.Record("image.bin")
		require.NoError(t, err)
		assert.False(t, recorded)
	})

	_, ok, err := sessions.Current(f.project)
	require.NoError(t, err)
	assert.False(t, ok, "skipped files must not open a session")
}

func TestRecordAfterSessionClose(t *testing.T) {
	f := newRecorderFixture(t, nil)
	f.write(t, "a.txt", "abc")
	_, err := f.rec.Record("a.txt")
	require.NoError(t, err)

	first, ok, err := sessions.Current(f.project)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = sessions.Close(f.project)
	require.NoError(t, err)

	f.write(t, "a.txt", "abcd")
	_, err = f.rec.Record("a.txt")
	require.NoError(t, err)

	second, ok, err := sessions.Current(f.project)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, first.ID, second.ID)

	// a.txt is uncommitted, so the new session starts from an empty base.
	assert.Equal(t, "abcd", f.replay(t, "a.txt", ""))
}

// closingProject attempts a session close whenever a log path is resolved,
// standing in for "quill session close" run from another process.
type closingProject struct {
	*project.Project
	closer   *sessions.Lifecycle
	closeErr error
}

func (c *closingProject) DeltasPathFor(filePath string) string {
	_, c.closeErr = c.closer.Close(c.Project)
	return c.Project.DeltasPathFor(filePath)
}

func TestRecordHoldsSessionAcrossDiffAndWrite(t *testing.T) {
	f := newRecorderFixture(t, map[string]string{"a.txt": "one"})
	cp := &closingProject{
		Project: f.project,
		closer:  sessions.New(sessions.WithLockTimeout(50 * time.Millisecond)),
	}
	rec, err := NewRecorder(f.client, cp)
	require.NoError(t, err)

	f.write(t, "a.txt", "one two")
	recorded, err := rec.Record("a.txt")
	require.NoError(t, err)
	assert.True(t, recorded)
	assert.ErrorIs(t, cp.closeErr, sessions.ErrSessionConflict)

	_, ok, err := sessions.Current(f.project)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "one two", f.replay(t, "a.txt", "one"))
}

func TestRunFiltersEvents(t *testing.T) {
	f := newRecorderFixture(t, nil)
	f.write(t, "a.txt", "x")
	f.write(t, "b.txt", "y")

	events := make(chan *Event, 4)
	events <- &Event{Path: filepath.Join(f.project.RootPath(), "a.txt"), Op: OpModify}
	events <- &Event{Path: filepath.Join(f.project.RootPath(), "b.txt"), Op: OpRemove}
	events <- &Event{Path: filepath.Join(f.project.RootPath(), ".git", "HEAD"), Op: OpModify}
	events <- &Event{Path: filepath.Join(t.TempDir(), "elsewhere.txt"), Op: OpModify}
	close(events)

	require.NoError(t, f.rec.Run(context.Background(), events))

	_, ok, err := deltas.Read(f.project, "a.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = deltas.Read(f.project, "b.txt")
	require.NoError(t, err)
	assert.False(t, ok, "remove events are not recorded")
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newRecorderFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.rec.Run(ctx, make(chan *Event))
	assert.ErrorIs(t, err, context.Canceled)
}
