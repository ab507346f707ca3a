package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 250 * time.Millisecond

// Fingerprinter reports the hash of the content the process itself last
// wrote to a file, so those writes are not mistaken for external edits.
// TakeExternal reports an external edit the process already read and then
// overwrote before the watcher got to compare hashes.
type Fingerprinter interface {
	Fingerprint(name string) (string, bool)
	TakeExternal(name string) bool
}

// HashFunc hashes the current content of path.
type HashFunc func(path string) (string, error)

type Option func(*Watcher)

func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(w *Watcher) { w.log = l }
}

// Watcher runs a handler when a file in dir is changed by another process.
type Watcher struct {
	dir      string
	own      Fingerprinter
	hash     HashFunc
	debounce time.Duration
	log      *zap.SugaredLogger

	handlers map[string]func(context.Context) error

	mu     sync.Mutex
	timers map[string]*time.Timer
	seen   map[string]string

	fsw  *fsnotify.Watcher
	stop context.CancelFunc
	wg   sync.WaitGroup
}

func New(dir string, own Fingerprinter, hash HashFunc, opts ...Option) *Watcher {
	w := &Watcher{
		dir:      dir,
		own:      own,
		hash:     hash,
		debounce: defaultDebounce,
		log:      zap.NewNop().Sugar(),
		handlers: make(map[string]func(context.Context) error),
		timers:   make(map[string]*time.Timer),
		seen:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// On registers fn for the base name of a file in the watched directory.
// It must be called before Start.
func (w *Watcher) On(name string, fn func(context.Context) error) {
	w.handlers[name] = fn
}

func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	w.fsw = fsw
	w.stop = cancel

	w.wg.Add(1)
	go w.loop(ctx)

	w.log.Infow("Watching data directory", "dir", w.dir)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			name := filepath.Base(ev.Name)
			if _, watched := w.handlers[name]; !watched {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.schedule(ctx, name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warnw("Watch error", "dir", w.dir, "error", err)
		}
	}
}

// schedule coalesces a burst of events for name into a single check.
func (w *Watcher) schedule(ctx context.Context, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[name]; ok {
		t.Stop()
	}
	w.timers[name] = time.AfterFunc(w.debounce, func() { w.fire(ctx, name) })
}

func (w *Watcher) fire(ctx context.Context, name string) {
	if ctx.Err() != nil {
		return
	}

	sum, err := w.hash(filepath.Join(w.dir, name))
	if err != nil {
		w.log.Warnw("Cannot read changed file", "file", name, "error", err)
		return
	}
	own, ok := w.own.Fingerprint(name)
	external := w.own.TakeExternal(name)

	w.mu.Lock()
	unchanged := w.seen[name] == sum
	w.seen[name] = sum
	w.mu.Unlock()
	if !external && (unchanged || (ok && own == sum)) {
		return
	}

	w.log.Infow("External change detected; reloading", "file", name)
	if err := w.handlers[name](ctx); err != nil {
		w.log.Errorw("Reload failed", "file", name, "error", err)
	}
}

// Stop ends the event loop and cancels pending checks.
func (w *Watcher) Stop() {
	if w.stop == nil {
		return
	}
	w.stop()
	_ = w.fsw.Close()
	w.wg.Wait()

	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()
}
