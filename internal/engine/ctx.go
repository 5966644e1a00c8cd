package engine

import (
	"context"
	"fmt"
	"os"
	"sync"

	"routekit/internal/diag"
)

// Ctx is handed to a query's compute function. Every read through it is
// recorded as a dependency of the cell being computed. Safe for concurrent
// use by goroutines spawned inside a computation.
type Ctx struct {
	ctx context.Context
	eng *Engine

	mu       sync.Mutex
	deps     map[Key]uint64
	children []*result
	bag      *diag.Bag
}

func newCtx(ctx context.Context, e *Engine) *Ctx {
	return &Ctx{
		ctx:  ctx,
		eng:  e,
		deps: make(map[Key]uint64),
		bag:  diag.NewBag(0),
	}
}

func (c *Ctx) Context() context.Context { return c.ctx }

func (c *Ctx) Engine() *Engine { return c.eng }

// record keeps the oldest version seen for k so that a later verify fails if
// any read of k was outdated.
func (c *Ctx) record(k Key, v uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.deps[k]; !ok || v < old {
		c.deps[k] = v
	}
}

// Report attaches a diagnostic to the cell being computed.
func (c *Ctx) Report(d diag.Diagnostic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bag.Add(d)
}

// DirEntry is one entry of a tracked directory listing.
type DirEntry struct {
	Name  string
	IsDir bool
}

// ReadFile returns the contents of path. The returned slice is shared with
// the content cache and must not be modified.
func (c *Ctx) ReadFile(path string) ([]byte, error) {
	p, err := c.eng.Sandbox(path)
	if err != nil {
		return nil, err
	}
	// The version is captured before reading; a concurrent change makes the
	// recorded version stale and the result fails verification.
	v := c.eng.version(FileKey(p))
	c.record(FileKey(p), v)
	if data, ok := c.eng.contents.get(p, v); ok {
		return data, nil
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	c.eng.contents.put(p, v, data)
	return data, nil
}

// ReadDir returns the entries of path sorted by name.
func (c *Ctx) ReadDir(path string) ([]DirEntry, error) {
	p, err := c.eng.Sandbox(path)
	if err != nil {
		return nil, err
	}
	c.record(DirKey(p), c.eng.version(DirKey(p)))
	entries, err := os.ReadDir(p)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", p, err)
	}
	out := make([]DirEntry, 0, len(entries))
	for _, ent := range entries {
		out = append(out, DirEntry{Name: ent.Name(), IsDir: ent.IsDir()})
	}
	return out, nil
}

// Read evaluates q as a dependency of the computation behind c.
func Read[T any](c *Ctx, q *Query[T]) (T, error) {
	var zero T
	r, err := c.eng.get(c.ctx, q.cell)
	if err != nil {
		return zero, err
	}
	c.adopt(r)
	if r.err != nil {
		return zero, r.err
	}
	v, _ := r.value.(T)
	return v, nil
}

func (c *Ctx) adopt(r *result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range r.deps {
		if old, ok := c.deps[k]; !ok || v < old {
			c.deps[k] = v
		}
	}
	c.children = append(c.children, r)
}

func (c *Ctx) finish(name string, v any, err error) *result {
	c.mu.Lock()
	defer c.mu.Unlock()
	diags := make([]diag.Diagnostic, c.bag.Len())
	copy(diags, c.bag.Items())
	return &result{
		name:     name,
		value:    v,
		err:      err,
		deps:     c.deps,
		children: c.children,
		diags:    diags,
		fp:       fingerprint(name, c.deps),
	}
}
