// Package watcher reports debounced file changes under a working tree for
// hosts that have no file-mutation hook.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentgate/internal/ignore"
	"github.com/fyrsmithlabs/agentgate/internal/logging"
)

const defaultDebounce = 250 * time.Millisecond

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// Event is one settled change to a file.
type Event struct {
	Path string
	Op   fsnotify.Op
	At   time.Time
}

// Options configures a Watcher.
type Options struct {
	// Debounce is how long a path must stay quiet before its event is sent.
	Debounce time.Duration
	// Ignore excludes paths from watching and reporting. The .git directory
	// is always excluded.
	Ignore *ignore.Matcher
	Logger *logging.Logger
}

// Watcher watches a directory tree recursively.
type Watcher struct {
	root     string
	debounce time.Duration
	ignore   *ignore.Matcher
	logger   *logging.Logger

	fs     *fsnotify.Watcher
	events chan Event
	stop   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	pending map[string]*pendingEvent
}

type pendingEvent struct {
	timer *time.Timer
	op    fsnotify.Op
}

// New creates a watcher for root. Call Start to begin delivering events.
func New(root string, opts Options) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Ignore == nil {
		if opts.Ignore, err = ignore.Load(abs); err != nil {
			return nil, fmt.Errorf("load ignore rules: %w", err)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	return &Watcher{
		root:     abs,
		debounce: opts.Debounce,
		ignore:   opts.Ignore,
		logger:   opts.Logger.Named("watcher"),
		fs:       fw,
		events:   make(chan Event, 64),
		stop:     make(chan struct{}),
		pending:  make(map[string]*pendingEvent),
	}, nil
}

// Start adds watches for every directory under root and processes events in
// a background goroutine until ctx ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(ctx, w.root); err != nil {
		return err
	}
	go w.processEvents(ctx)
	return nil
}

// Events returns the channel of settled changes.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Stop releases the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stop)
		w.mu.Lock()
		for _, p := range w.pending {
			p.timer.Stop()
		}
		w.pending = map[string]*pendingEvent{}
		w.mu.Unlock()
		_ = w.fs.Close()
	})
}

func (w *Watcher) addTree(ctx context.Context, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.ignore.IgnoredAbs(path, true) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			w.logger.Warn(ctx, "watch add failed", zap.String("path", path), zap.Error(err))
			if path == dir {
				return err
			}
		}
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	info, statErr := os.Lstat(ev.Name)
	isDir := statErr == nil && info.IsDir()
	if w.ignore.IgnoredAbs(ev.Name, isDir) {
		return
	}
	if isDir {
		if ev.Op.Has(fsnotify.Create) {
			if err := w.addTree(ctx, ev.Name); err != nil {
				w.logger.Warn(ctx, "failed to watch new directory", zap.String("path", ev.Name), zap.Error(err))
			}
		}
		return
	}
	w.schedule(ev.Name, ev.Op)
}

func (w *Watcher) schedule(path string, op fsnotify.Op) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pending[path]; ok {
		p.op |= op
		p.timer.Reset(w.debounce)
		return
	}
	p := &pendingEvent{op: op}
	p.timer = time.AfterFunc(w.debounce, func() { w.flush(path) })
	w.pending[path] = p
}

func (w *Watcher) flush(path string) {
	w.mu.Lock()
	p, ok := w.pending[path]
	if ok {
		delete(w.pending, path)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	select {
	case w.events <- Event{Path: path, Op: p.op, At: time.Now().UTC()}:
	case <-w.stop:
	}
}
