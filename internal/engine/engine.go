// Package engine implements a small memoizing computation graph over a
// sandboxed file tree. Inputs are files and directory listings; queries are
// memoized cells validated by the input versions they read.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"routekit/internal/metrics"
)

// DefaultMemoryLimit bounds the content cache when no ceiling is configured.
const DefaultMemoryLimit uint64 = 256 << 20

// MaxSettleIterations bounds the evaluate/verify loop of a strongly
// consistent read.
const MaxSettleIterations = 64

var (
	// ErrOutsideRoot is returned for reads that escape the root path.
	ErrOutsideRoot = errors.New("path is outside the project root")
	// ErrNotSettled is returned when inputs keep changing faster than a
	// query can be recomputed.
	ErrNotSettled = errors.New("query did not settle")
)

// Key identifies a tracked input.
type Key string

// FileKey is the input key of a file's contents.
func FileKey(path string) Key { return Key("file:" + path) }

// DirKey is the input key of a directory listing.
func DirKey(path string) Key { return Key("dir:" + path) }

// Options configure an Engine.
type Options struct {
	RootPath    string
	MemoryLimit uint64 // 0 means DefaultMemoryLimit
	Logger      *slog.Logger
}

// Engine owns the input versions, the memoized cells and the endpoint
// registry of one project.
type Engine struct {
	root string
	log  *slog.Logger

	mu          sync.Mutex
	versions    map[Key]uint64
	cells       map[string]*cell
	watchers    map[uint64]*watcher
	nextWatcher uint64

	flight   singleflight.Group
	contents *contentCache
	registry *Registry
}

// New creates an engine rooted at opts.RootPath.
func New(opts Options) (*Engine, error) {
	if opts.RootPath == "" {
		return nil, errors.New("engine: root path is required")
	}
	root, err := filepath.Abs(opts.RootPath)
	if err != nil {
		return nil, fmt.Errorf("engine: resolve root: %w", err)
	}
	limit := opts.MemoryLimit
	if limit == 0 {
		limit = DefaultMemoryLimit
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	contents, err := newContentCache(limit)
	if err != nil {
		return nil, err
	}
	return &Engine{
		root:     filepath.Clean(root),
		log:      log,
		versions: make(map[Key]uint64),
		cells:    make(map[string]*cell),
		watchers: make(map[uint64]*watcher),
		contents: contents,
		registry: newRegistry(),
	}, nil
}

// Root returns the absolute sandbox root.
func (e *Engine) Root() string { return e.root }

// Registry returns the endpoint registry of this engine.
func (e *Engine) Registry() *Registry { return e.registry }

// Close drops cached contents.
func (e *Engine) Close() {
	e.contents.purge()
}

// Sandbox resolves path against the root and rejects escapes.
func (e *Engine) Sandbox(path string) (string, error) {
	p := path
	if !filepath.IsAbs(p) {
		p = filepath.Join(e.root, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(e.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return p, nil
}

func (e *Engine) version(k Key) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.versions[k]
}

// Invalidate marks paths as changed: each path's file input, its own listing
// and its parent's listing get a new version. Watchers whose last result
// read one of those inputs, or that have no result yet, are notified.
func (e *Engine) Invalidate(paths ...string) {
	changed := make(map[Key]struct{}, len(paths)*3)
	for _, raw := range paths {
		p, err := e.Sandbox(raw)
		if err != nil {
			e.log.Debug("ignoring invalidation outside root", "path", raw)
			continue
		}
		changed[FileKey(p)] = struct{}{}
		changed[DirKey(p)] = struct{}{}
		if p != e.root {
			changed[DirKey(filepath.Dir(p))] = struct{}{}
		}
	}
	e.bump(changed)
}

// InvalidateAll bumps every known input.
func (e *Engine) InvalidateAll() {
	e.mu.Lock()
	changed := make(map[Key]struct{}, len(e.versions))
	for k := range e.versions {
		changed[k] = struct{}{}
	}
	e.mu.Unlock()
	e.bump(changed)
}

func (e *Engine) bump(changed map[Key]struct{}) {
	if len(changed) == 0 {
		return
	}
	e.mu.Lock()
	for k := range changed {
		e.versions[k]++
	}
	notify := make([]func(), 0, len(e.watchers))
	watched := make(map[*cell]struct{}, len(e.watchers))
	for _, w := range e.watchers {
		watched[w.cell] = struct{}{}
		r := w.cell.load()
		if r == nil || r.dependsOnAny(changed) {
			notify = append(notify, w.fn)
		}
	}
	evicted := e.evictStale(changed, watched)
	e.mu.Unlock()

	if evicted > 0 {
		metrics.EvictedCells.Add(float64(evicted))
	}

	metrics.Invalidations.Add(float64(len(changed)))
	for _, fn := range notify {
		fn()
	}
}

type watcher struct {
	cell *cell
	fn   func()
}

func (e *Engine) watch(c *cell, fn func()) func() {
	e.mu.Lock()
	e.nextWatcher++
	id := e.nextWatcher
	e.watchers[id] = &watcher{cell: c, fn: fn}
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.watchers, id)
			e.mu.Unlock()
		})
	}
}

// evictStale drops unwatched cells whose result read a changed input, so
// per-file cells of deleted or renamed sources do not accumulate. Such a
// result can never verify again. Handles keep their cell; the next NewQuery
// for the name starts a fresh one. Callers hold e.mu.
func (e *Engine) evictStale(changed map[Key]struct{}, watched map[*cell]struct{}) int {
	n := 0
	for name, c := range e.cells {
		if _, ok := watched[c]; ok {
			continue
		}
		if r := c.load(); r != nil && r.dependsOnAny(changed) {
			delete(e.cells, name)
			n++
		}
	}
	return n
}

func (e *Engine) cellFor(name string, compute func(*Ctx) (any, error)) *cell {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.cells[name]; ok {
		return c
	}
	c := &cell{name: name, compute: compute}
	e.cells[name] = c
	return c
}
