// Package watcher observes a project's working copy and feeds text changes
// into the delta log. It wraps fsnotify with recursive directory watching,
// per-path debouncing and glob-based exclusion.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
)

const (
	// DefaultDebounce is how long a path must stay quiet before its event is emitted.
	DefaultDebounce = 100 * time.Millisecond

	defaultBuffer = 256
)

var (
	ErrRootNotDirectory = errors.New("watch root is not a directory")
	ErrInvalidPattern   = errors.New("invalid exclude pattern")
)

// Op is the kind of change observed for a path.
type Op int

const (
	OpCreate Op = iota
	OpModify
	OpRemove
	OpRename
)

func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Event is a debounced change to one path.
type Event struct {
	Path string
	Op   Op
	Time time.Time
}

// Config configures an FSWatcher.
type Config struct {
	Root     string
	Exclude  []string
	Debounce time.Duration
	Buffer   int
}

type pendingEvent struct {
	event *Event
	timer *time.Timer
}

// FSWatcher emits debounced events for every non-excluded path under Root.
type FSWatcher struct {
	config   Config
	watcher  *fsnotify.Watcher
	excludes []glob.Glob

	mu       sync.Mutex
	pending  map[string]*pendingEvent
	events   chan *Event
	stopOnce sync.Once
	stopped  bool
}

// NewFSWatcher validates the root and compiles exclude patterns.
func NewFSWatcher(config Config) (*FSWatcher, error) {
	info, err := os.Stat(config.Root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, ErrRootNotDirectory
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}
	if config.Buffer <= 0 {
		config.Buffer = defaultBuffer
	}

	excludes, err := compileExcludes(config.Exclude)
	if err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &FSWatcher{
		config:   config,
		watcher:  w,
		excludes: excludes,
		pending:  make(map[string]*pendingEvent),
	}, nil
}

func compileExcludes(patterns []string) ([]glob.Glob, error) {
	excludes := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, errors.Join(ErrInvalidPattern, err)
		}
		excludes = append(excludes, g)
	}
	return excludes, nil
}

// Start begins watching. The returned channel is closed once ctx is
// cancelled or Stop is called.
func (w *FSWatcher) Start(ctx context.Context) (<-chan *Event, error) {
	w.events = make(chan *Event, w.config.Buffer)

	if err := w.addRecursive(w.config.Root); err != nil {
		close(w.events)
		return nil, err
	}

	go w.loop(ctx)
	return w.events, nil
}

func (w *FSWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != w.config.Root && w.isExcluded(path) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *FSWatcher) loop(ctx context.Context) {
	defer w.cleanup()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *FSWatcher) handle(event fsnotify.Event) {
	if w.isExcluded(event.Name) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addRecursive(event.Name)
			return
		}
	}

	w.schedule(event.Name, mapOp(event.Op))
}

// opMappings is checked in order; the first match wins.
var opMappings = []struct {
	fsOp fsnotify.Op
	op   Op
}{
	{fsnotify.Create, OpCreate},
	{fsnotify.Write, OpModify},
	{fsnotify.Remove, OpRemove},
	{fsnotify.Rename, OpRename},
}

func mapOp(op fsnotify.Op) Op {
	for _, m := range opMappings {
		if op.Has(m.fsOp) {
			return m.op
		}
	}
	return OpModify
}

// schedule (re)starts the debounce timer for path.
func (w *FSWatcher) schedule(path string, op Op) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}

	event := &Event{Path: path, Op: op, Time: time.Now()}
	if existing, ok := w.pending[path]; ok {
		existing.timer.Stop()
	}
	w.pending[path] = &pendingEvent{
		event: event,
		timer: time.AfterFunc(w.config.Debounce, func() { w.emit(path, event) }),
	}
}

func (w *FSWatcher) emit(path string, event *Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if p, ok := w.pending[path]; !ok || p.event != event {
		return
	}
	delete(w.pending, path)

	select {
	case w.events <- event:
	default:
		// Buffer full; the next change to this path produces a new event.
	}
}

func (w *FSWatcher) isExcluded(path string) bool {
	rel, err := filepath.Rel(w.config.Root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	for _, g := range w.excludes {
		if g.Match(rel) || g.Match(filepath.Base(path)) || matchesAnyParent(rel, g) {
			return true
		}
	}
	return false
}

// matchesAnyParent reports whether a leading directory of rel matches g, so
// that ".git" also excludes ".git/objects/ab".
func matchesAnyParent(rel string, g glob.Glob) bool {
	for dir := filepath.ToSlash(filepath.Dir(rel)); dir != "." && dir != "/"; dir = filepath.ToSlash(filepath.Dir(dir)) {
		if g.Match(dir) || g.Match(filepath.Base(dir)) {
			return true
		}
	}
	return false
}

// Stop stops the watcher. Safe to call multiple times.
func (w *FSWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		for _, p := range w.pending {
			p.timer.Stop()
		}
		w.pending = make(map[string]*pendingEvent)
		w.mu.Unlock()

		err = w.watcher.Close()
	})
	return err
}

func (w *FSWatcher) cleanup() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.stopped {
		w.stopped = true
		for _, p := range w.pending {
			p.timer.Stop()
		}
		w.pending = make(map[string]*pendingEvent)
	}
	close(w.events)
}
