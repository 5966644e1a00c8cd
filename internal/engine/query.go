package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"routekit/internal/diag"
	"routekit/internal/metrics"
	"routekit/internal/trace"
)

// result is an immutable snapshot of one cell computation.
type result struct {
	name     string
	value    any
	err      error
	deps     map[Key]uint64
	children []*result
	diags    []diag.Diagnostic
	fp       Digest
}

func (r *result) dependsOnAny(changed map[Key]struct{}) bool {
	for k := range changed {
		if _, ok := r.deps[k]; ok {
			return true
		}
	}
	return false
}

// collect gathers the diagnostics of r and every result it read, in
// category/name/payload order with duplicates removed.
func (r *result) collect() []diag.Diagnostic {
	bag := diag.NewBag(0)
	rep := diag.NewDedupReporter(diag.BagReporter{Bag: bag})
	seen := make(map[*result]struct{})
	var walk func(*result)
	walk = func(n *result) {
		if _, ok := seen[n]; ok {
			return
		}
		seen[n] = struct{}{}
		for _, d := range n.diags {
			rep.Report(d)
		}
		for _, ch := range n.children {
			walk(ch)
		}
	}
	walk(r)
	bag.Sort()
	return bag.Items()
}

type cell struct {
	name    string
	compute func(*Ctx) (any, error)
	cur     atomic.Pointer[result]
}

func (c *cell) load() *result { return c.cur.Load() }

// valid reports whether every input r read is still at the version r saw.
func (e *Engine) valid(r *result) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, v := range r.deps {
		if e.versions[k] != v {
			return false
		}
	}
	return true
}

// get returns a result for c that was valid when checked, recomputing it
// at most once per concurrent wave of callers.
func (e *Engine) get(ctx context.Context, c *cell) (*result, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r := c.load(); r != nil && e.valid(r) {
			metrics.CellReuse.Inc()
			return r, nil
		}
		ch := e.flight.DoChan(c.name, func() (any, error) {
			if r := c.load(); r != nil && e.valid(r) {
				return r, nil
			}
			return e.recompute(ctx, c)
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				// The shared computation ran under another caller's context.
				if isContextErr(res.Err) && ctx.Err() == nil {
					continue
				}
				return nil, res.Err
			}
			return res.Val.(*result), nil
		}
	}
}

func (e *Engine) recompute(ctx context.Context, c *cell) (*result, error) {
	span, ctx := trace.Start(ctx, trace.ScopeCell, c.name)
	qc := newCtx(ctx, e)
	v, err := c.compute(qc)
	if cerr := ctx.Err(); cerr != nil {
		span.End("cancelled")
		return nil, cerr
	}
	if err != nil && isContextErr(err) {
		span.End("cancelled")
		return nil, err
	}
	r := qc.finish(c.name, v, err)
	c.cur.Store(r)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.CellComputations.WithLabelValues(queryLabel(c.name), outcome).Inc()
	span.WithExtra("inputs", strconv.Itoa(len(r.deps))).End(outcome)
	return r, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// queryLabel keeps metric cardinality bounded for per-file cells.
func queryLabel(name string) string {
	if i := strings.IndexByte(name, ':'); i > 0 {
		return name[:i]
	}
	return name
}

// Query is a typed handle to a memoized cell.
type Query[T any] struct {
	eng  *Engine
	cell *cell
}

// NewQuery binds fn to the cell called name. Cells are unique per name:
// a second call with the same name returns a handle to the existing cell and
// fn is ignored.
func NewQuery[T any](e *Engine, name string, fn func(*Ctx) (T, error)) *Query[T] {
	c := e.cellFor(name, func(qc *Ctx) (any, error) { return fn(qc) })
	return &Query[T]{eng: e, cell: c}
}

func (q *Query[T]) Name() string { return q.cell.name }

func (q *Query[T]) Engine() *Engine { return q.eng }

// Evaluate returns the latest value of the query, recomputing if needed.
// The value may already be stale when it returns; use StronglyConsistent
// for a value that matches the current inputs.
func (q *Query[T]) Evaluate(ctx context.Context) (T, error) {
	var zero T
	r, err := q.eng.get(ctx, q.cell)
	if err != nil {
		return zero, err
	}
	if r.err != nil {
		return zero, r.err
	}
	v, _ := r.value.(T)
	return v, nil
}

// Settled is a value together with the diagnostics of exactly the
// computation that produced it.
type Settled[T any] struct {
	Value       T
	Diagnostics []diag.Diagnostic
	Fingerprint Digest
	Iterations  int
}

// StronglyConsistent evaluates the query until its result verifies against
// the current input versions. Diagnostics are collected from the verified
// result's dependency closure. A computation error is returned after it
// settles, alongside the settled diagnostics.
func (q *Query[T]) StronglyConsistent(ctx context.Context) (Settled[T], error) {
	var out Settled[T]
	start := time.Now()
	span, ctx := trace.Start(ctx, trace.ScopeQuery, "settle:"+q.cell.name)
	for i := 1; i <= MaxSettleIterations; i++ {
		r, err := q.eng.get(ctx, q.cell)
		if err != nil {
			span.End("error")
			return out, err
		}
		if !q.eng.valid(r) {
			continue
		}
		metrics.SettleIterations.Observe(float64(i))
		metrics.SettleDuration.Observe(time.Since(start).Seconds())
		span.WithExtra("iterations", strconv.Itoa(i)).End("")

		out.Iterations = i
		out.Fingerprint = r.fp
		out.Diagnostics = r.collect()
		if r.err != nil {
			return out, fmt.Errorf("%s: %w", q.cell.name, r.err)
		}
		out.Value, _ = r.value.(T)
		return out, nil
	}
	span.End("unsettled")
	return out, fmt.Errorf("%w after %d iterations: %s", ErrNotSettled, MaxSettleIterations, q.cell.name)
}

// OnInvalidate registers fn to run when an input read by the query's latest
// result changes, or on any change while the query has no result yet.
// fn runs on the invalidating goroutine and must not block.
func (q *Query[T]) OnInvalidate(fn func()) (cancel func()) {
	return q.eng.watch(q.cell, fn)
}
