// Package project binds a project configuration to its computation engine,
// its classification queries and, in watch mode, a file watcher.
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"routekit/internal/engine"
	"routekit/internal/routes"
	"routekit/internal/watch"
)

var (
	// ErrUnknownEndpoint is returned when resolving an id nobody holds.
	ErrUnknownEndpoint = errors.New("unknown endpoint")
	// ErrClosed is returned by operations on a closed project.
	ErrClosed = errors.New("project closed")
)

// Options carry process-level collaborators.
type Options struct {
	Logger *slog.Logger
	Watch  watch.Options
}

// Project is an opened project.
type Project struct {
	cfg       Config
	root      string
	path      string
	next      NextConfig
	log       *slog.Logger
	eng       *engine.Engine
	res       *routes.Resolver
	watchOpts watch.Options

	mu          sync.Mutex
	watchRefs   int
	watcher     *watch.Watcher
	watchCancel context.CancelFunc
	closed      bool
}

// Open validates cfg and creates the project's engine and queries.
func Open(cfg Config, opts Options) (*Project, error) {
	root, path, next, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	var limit uint64
	if cfg.MemoryLimit != nil {
		limit = *cfg.MemoryLimit
	}
	eng, err := engine.New(engine.Options{RootPath: root, MemoryLimit: limit, Logger: log})
	if err != nil {
		return nil, &InitializationError{Field: "rootPath", Reason: "engine", Err: err}
	}
	exts := make([]string, 0, len(next.PageExtensions))
	for _, ext := range next.PageExtensions {
		exts = append(exts, strings.TrimPrefix(strings.TrimSpace(ext), "."))
	}
	watchOpts := opts.Watch
	if watchOpts.Logger == nil {
		watchOpts.Logger = log
	}
	p := &Project{
		cfg:       cfg,
		root:      root,
		path:      path,
		next:      next,
		log:       log.With("project", path),
		eng:       eng,
		res:       routes.NewResolver(eng, routes.Options{ProjectPath: path, PageExtensions: exts}),
		watchOpts: watchOpts,
	}
	p.log.Debug("project opened", "root", root, "watch", cfg.Watch)
	return p, nil
}

func (p *Project) Config() Config { return p.cfg }

// Path returns the absolute project directory.
func (p *Project) Path() string { return p.path }

func (p *Project) Engine() *engine.Engine { return p.eng }

func (p *Project) Logger() *slog.Logger { return p.log }

// Entrypoints is the memoized classification of the project.
func (p *Project) Entrypoints() *engine.Query[*routes.Entrypoints] { return p.res.Entrypoints() }

// Middleware is the memoized middleware resolution of the project.
func (p *Project) Middleware() *engine.Query[*routes.Middleware] { return p.res.Middleware() }

// ResolveEndpoint describes the endpoint behind a registry id. The id must be
// held by at least one holder.
func (p *Project) ResolveEndpoint(ctx context.Context, id uint64) (routes.Descriptor, error) {
	h, ok := p.eng.Registry().Resolve(id)
	if !ok {
		return routes.Descriptor{}, fmt.Errorf("%w: %d", ErrUnknownEndpoint, id)
	}
	ep, ok := h.(routes.Endpoint)
	if !ok {
		return routes.Descriptor{}, fmt.Errorf("%w: %d is not an endpoint", ErrUnknownEndpoint, id)
	}
	s, err := p.res.Endpoint(ep).StronglyConsistent(ctx)
	if err != nil {
		return routes.Descriptor{}, err
	}
	return s.Value, nil
}

// Invalidate reports changed paths to the engine.
func (p *Project) Invalidate(paths ...string) { p.eng.Invalidate(paths...) }

// AcquireWatch registers interest in file changes. The first holder starts
// the watcher; the release of the last holder stops it. Without watch mode
// it is a no-op.
func (p *Project) AcquireWatch() (release func(), err error) {
	if !p.cfg.Watch {
		return func() {}, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if p.watchRefs == 0 {
		if err := p.startWatchLocked(); err != nil {
			return nil, err
		}
	}
	p.watchRefs++

	var once sync.Once
	return func() { once.Do(p.releaseWatch) }, nil
}

func (p *Project) releaseWatch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watchRefs == 0 {
		return
	}
	p.watchRefs--
	if p.watchRefs == 0 {
		p.stopWatchLocked()
	}
}

// Watching reports whether the file watcher is running.
func (p *Project) Watching() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watcher != nil
}

func (p *Project) startWatchLocked() error {
	w, err := watch.New(p.path, p.onChanges, p.watchOpts)
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		cancel()
		w.Stop()
		return fmt.Errorf("start watcher: %w", err)
	}
	p.watcher, p.watchCancel = w, cancel
	p.log.Info("watching project files")
	return nil
}

func (p *Project) stopWatchLocked() {
	if p.watcher == nil {
		return
	}
	p.watchCancel()
	p.watcher.Stop()
	p.watcher, p.watchCancel = nil, nil
	p.log.Info("stopped watching project files")
}

func (p *Project) onChanges(changes []watch.Change) {
	paths := make([]string, 0, len(changes))
	for _, ch := range changes {
		if ch.Op == watch.OpOverflow {
			p.log.Warn("watch overflow, invalidating all inputs")
			p.eng.InvalidateAll()
			return
		}
		paths = append(paths, ch.Path)
	}
	p.log.Debug("files changed", "count", len(paths))
	p.eng.Invalidate(paths...)
}

// Close stops watching and releases cached state.
func (p *Project) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.watchRefs = 0
	p.stopWatchLocked()
	p.eng.Close()
	return nil
}
