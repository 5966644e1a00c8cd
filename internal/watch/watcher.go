// Package watch reports debounced file system changes under a directory.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"routekit/internal/metrics"
)

// Op is the type of a file change.
type Op int

const (
	OpCreate Op = iota
	OpWrite
	OpRemove
	OpRename
	// OpOverflow means events were dropped; consumers should assume that
	// anything may have changed.
	OpOverflow
)

func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	case OpOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Change is one observed change.
type Change struct {
	Path string // absolute
	Op   Op
	Time time.Time
}

// Handler receives debounced batches, one batch at a time.
type Handler func(changes []Change)

// Options configure a Watcher.
type Options struct {
	// Debounce is the quiet period before a batch is delivered. Default 50ms.
	Debounce time.Duration
	// Ignore lists base names or glob patterns of entries to skip.
	Ignore []string
	// BufferSize bounds pending events. Default 1024.
	BufferSize int
	Logger     *slog.Logger
}

// DefaultIgnore skips directories that never hold route sources.
var DefaultIgnore = []string{".git", "node_modules", ".next", ".turbo", "*.swp", "*.tmp", "*~"}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = 50 * time.Millisecond
	}
	if o.Ignore == nil {
		o.Ignore = DefaultIgnore
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 1024
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Watcher watches a directory tree recursively and batches changes.
type Watcher struct {
	root    string
	opts    Options
	handler Handler
	log     *slog.Logger

	fs       *fsnotify.Watcher
	changes  chan Change
	overflow chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// New creates a watcher for root. Call Start to begin watching.
func New(root string, handler Handler, opts Options) (*Watcher, error) {
	opts = opts.withDefaults()
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:     abs,
		opts:     opts,
		handler:  handler,
		log:      opts.Logger.With("component", "watch", "root", abs),
		fs:       fw,
		changes:  make(chan Change, opts.BufferSize),
		overflow: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}, nil
}

// Start adds the tree to the watch list and starts the event and debounce
// goroutines. They stop on Stop or when ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.mu.Unlock()

	if err := w.addRecursive(w.root, false); err != nil {
		return err
	}
	w.wg.Add(2)
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	w.log.Debug("watching")
	return nil
}

// Stop stops watching and waits for the goroutines to exit. Any pending
// batch is flushed first.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
		if err := w.fs.Close(); err != nil {
			w.log.Debug("close watcher", "err", err)
		}
	})
}

// addRecursive watches dir and its subdirectories. With synthesize set, the
// files found are reported as created: they may predate the new watch.
func (w *Watcher) addRecursive(dir string, synthesize bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if w.shouldIgnore(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			if synthesize {
				w.enqueue(Change{Path: path, Op: OpCreate, Time: time.Now()})
			}
			return nil
		}
		return w.fs.Add(path)
	})
}

// shouldIgnore matches each path segment below the root against the patterns.
func (w *Watcher) shouldIgnore(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return false
	}
	for _, seg := range strings.Split(rel, string(filepath.Separator)) {
		for _, pattern := range w.opts.Ignore {
			if seg == pattern {
				return true
			}
			if ok, _ := filepath.Match(pattern, seg); ok {
				return true
			}
		}
	}
	return false
}

func (w *Watcher) enqueue(ch Change) {
	metrics.WatchEvents.WithLabelValues(ch.Op.String()).Inc()
	select {
	case w.changes <- ch:
	default:
		select {
		case w.overflow <- struct{}{}:
		default:
		}
	}
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if w.shouldIgnore(event.Name) {
				continue
			}
			w.enqueue(Change{Path: event.Name, Op: convertOp(event.Op), Time: time.Now()})
			if event.Has(fsnotify.Create) {
				if err := w.addRecursive(event.Name, true); err != nil {
					w.log.Warn("watch new directory", "path", event.Name, "err", err)
				}
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "err", err)
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				select {
				case w.overflow <- struct{}{}:
				default:
				}
			}
		}
	}
}

func convertOp(op fsnotify.Op) Op {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate
	case op.Has(fsnotify.Remove):
		return OpRemove
	case op.Has(fsnotify.Rename):
		return OpRename
	default:
		return OpWrite
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()
	var batch []Change
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(batch) > 0 && w.handler != nil {
			w.handler(dedupe(batch))
		}
		batch = batch[:0]
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
	}
	arm := func() {
		if timer == nil {
			timer = time.NewTimer(w.opts.Debounce)
			timerC = timer.C
		} else {
			timer.Reset(w.opts.Debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			flush()
			return
		case ch := <-w.changes:
			batch = append(batch, ch)
			arm()
		case <-w.overflow:
			batch = append(batch, Change{Path: w.root, Op: OpOverflow, Time: time.Now()})
			arm()
		case <-timerC:
			timer, timerC = nil, nil
			flush()
		}
	}
}

// dedupe keeps the latest change per path, in first-seen order.
func dedupe(changes []Change) []Change {
	seen := make(map[string]int, len(changes))
	out := make([]Change, 0, len(changes))
	for _, ch := range changes {
		if idx, ok := seen[ch.Path]; ok {
			out[idx] = ch
			continue
		}
		seen[ch.Path] = len(out)
		out = append(out, ch)
	}
	return out
}
