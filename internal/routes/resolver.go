package routes

import (
	"fmt"
	"sort"

	"routekit/internal/engine"
)

// DefaultPageExtensions is used when the project config declares none.
var DefaultPageExtensions = []string{"tsx", "ts", "jsx", "js"}

// Options configure a Resolver.
type Options struct {
	// ProjectPath is the absolute project directory inside the engine root.
	ProjectPath    string
	PageExtensions []string
}

// Resolver owns the classification queries of one project.
type Resolver struct {
	eng         *engine.Engine
	opts        Options
	entrypoints *engine.Query[*Entrypoints]
	middleware  *engine.Query[*Middleware]
	pages       *engine.Query[[]candidate]
	app         *engine.Query[[]candidate]
}

// NewResolver registers the classification queries on e.
func NewResolver(e *engine.Engine, opts Options) *Resolver {
	if len(opts.PageExtensions) == 0 {
		opts.PageExtensions = DefaultPageExtensions
	}
	r := &Resolver{eng: e, opts: opts}
	r.pages = engine.NewQuery(e, "pages", r.computePages)
	r.app = engine.NewQuery(e, "app", r.computeApp)
	r.middleware = engine.NewQuery(e, "middleware", func(c *engine.Ctx) (*Middleware, error) {
		return resolveMiddleware(c, opts.ProjectPath, opts.PageExtensions)
	})
	r.entrypoints = engine.NewQuery(e, "entrypoints", r.computeEntrypoints)
	return r
}

// Entrypoints is the memoized classification of routes and middleware.
func (r *Resolver) Entrypoints() *engine.Query[*Entrypoints] { return r.entrypoints }

// Middleware is the memoized middleware resolution.
func (r *Resolver) Middleware() *engine.Query[*Middleware] { return r.middleware }

// Endpoint returns the memoized descriptor query of ep.
func (r *Resolver) Endpoint(ep Endpoint) *engine.Query[Descriptor] {
	return engine.NewQuery(r.eng, "endpoint:"+ep.HandleKey(), func(c *engine.Ctx) (Descriptor, error) {
		return describe(c, r.opts.ProjectPath, ep)
	})
}

func (r *Resolver) computePages(c *engine.Ctx) ([]candidate, error) {
	dir, rel, ok, err := locateDir(c, r.opts.ProjectPath, "pages")
	if err != nil || !ok {
		return nil, err
	}
	return pagesCandidates(c, dir, rel, r.opts.PageExtensions)
}

func (r *Resolver) computeApp(c *engine.Ctx) ([]candidate, error) {
	dir, rel, ok, err := locateDir(c, r.opts.ProjectPath, "app")
	if err != nil || !ok {
		return nil, err
	}
	return appCandidates(c, dir, rel, r.opts.PageExtensions)
}

func (r *Resolver) computeEntrypoints(c *engine.Ctx) (*Entrypoints, error) {
	pages, err := engine.Read(c, r.pages)
	if err != nil {
		return nil, fmt.Errorf("classify pages: %w", err)
	}
	app, err := engine.Read(c, r.app)
	if err != nil {
		return nil, fmt.Errorf("classify app: %w", err)
	}
	mw, err := engine.Read(c, r.middleware)
	if err != nil {
		return nil, fmt.Errorf("resolve middleware: %w", err)
	}

	cands := make([]candidate, 0, len(pages)+len(app))
	cands = append(cands, pages...)
	cands = append(cands, app...)
	routes := merge(c, cands)

	sources := make([]string, 0, len(cands)+1)
	seen := make(map[string]struct{}, len(cands)+1)
	for _, cand := range cands {
		if _, ok := seen[cand.Source]; !ok {
			seen[cand.Source] = struct{}{}
			sources = append(sources, cand.Source)
		}
	}
	if mw != nil {
		sources = append(sources, mw.Endpoint.Source)
	}
	sort.Strings(sources)
	if err := r.featureUsage(c, sources); err != nil {
		return nil, fmt.Errorf("scan features: %w", err)
	}

	return &Entrypoints{Routes: routes, Middleware: mw}, nil
}
