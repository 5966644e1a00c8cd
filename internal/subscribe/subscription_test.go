package subscribe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routekit/internal/engine"
)

const waitFor = 5 * time.Second

// fakeSource replays scripted settle outcomes, one per tick. The last step
// repeats once the script is exhausted.
type fakeSource struct {
	mu      sync.Mutex
	steps   []fakeStep
	next    int
	settles int
	fns     []func()
	block   chan struct{}
}

type fakeStep struct {
	value string
	fp    byte
	err   error
}

func (f *fakeSource) Evaluate(context.Context) (string, error) { return "", nil }

func (f *fakeSource) StronglyConsistent(ctx context.Context) (engine.Settled[string], error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return engine.Settled[string]{}, ctx.Err()
		}
	}
	f.mu.Lock()
	f.settles++
	step := f.steps[f.next]
	if f.next < len(f.steps)-1 {
		f.next++
	}
	f.mu.Unlock()
	s := engine.Settled[string]{Value: step.value, Iterations: 1}
	s.Fingerprint[0] = step.fp
	return s, step.err
}

func (f *fakeSource) OnInvalidate(fn func()) func() {
	f.mu.Lock()
	f.fns = append(f.fns, fn)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeSource) trigger() {
	f.mu.Lock()
	fns := append([]func(){}, f.fns...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (f *fakeSource) settleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settles
}

func identity(s engine.Settled[string]) (string, func(), error) {
	return s.Value, nil, nil
}

func recv[P any](t *testing.T, sub *Subscription[P]) Update[P] {
	t.Helper()
	select {
	case u, ok := <-sub.Updates():
		require.True(t, ok, "updates closed")
		return u
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for update")
		return Update[P]{}
	}
}

func requireClosed[P any](t *testing.T, sub *Subscription[P]) {
	t.Helper()
	select {
	case u, ok := <-sub.Updates():
		require.False(t, ok, "unexpected update %+v", u)
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for termination")
	}
	<-sub.Done()
	assert.Equal(t, StateTerminated, sub.State())
}

func TestNonWatchDeliversExactlyOnce(t *testing.T) {
	src := &fakeSource{steps: []fakeStep{{value: "a", fp: 1}}}
	sub := Subscribe[string, string](context.Background(), src, identity, Options{})

	u := recv(t, sub)
	assert.Equal(t, uint64(1), u.Seq)
	assert.Equal(t, "a", u.Payload)
	require.NoError(t, u.Err)
	requireClosed(t, sub)
	assert.Empty(t, src.fns, "no invalidation interest without watch")
}

func TestWatchSkipsUnchangedFingerprint(t *testing.T) {
	src := &fakeSource{steps: []fakeStep{
		{value: "a", fp: 1},
		{value: "a", fp: 1},
		{value: "b", fp: 2},
	}}
	sub := Subscribe[string, string](context.Background(), src, identity, Options{Watch: true})
	defer sub.Cancel()

	assert.Equal(t, "a", recv(t, sub).Payload)
	src.trigger()
	require.Eventually(t, func() bool { return src.settleCount() == 2 }, waitFor, time.Millisecond)
	src.trigger()

	u := recv(t, sub)
	assert.Equal(t, uint64(2), u.Seq)
	assert.Equal(t, "b", u.Payload)
}

func TestTransientErrorKeepsSubscriptionAlive(t *testing.T) {
	boom := errors.New("mid-edit")
	src := &fakeSource{steps: []fakeStep{
		{err: boom},
		{value: "ok", fp: 1},
	}}
	sub := Subscribe[string, string](context.Background(), src, identity, Options{Watch: true})
	defer sub.Cancel()

	u := recv(t, sub)
	var transient *TransientEvaluationError
	require.ErrorAs(t, u.Err, &transient)
	assert.ErrorIs(t, u.Err, boom)

	src.trigger()
	u = recv(t, sub)
	require.NoError(t, u.Err)
	assert.Equal(t, "ok", u.Payload)
	assert.NotEqual(t, StateTerminated, sub.State())
}

func TestFatalTransformErrorTerminates(t *testing.T) {
	src := &fakeSource{steps: []fakeStep{{value: "a", fp: 1}}}
	bad := errors.New("unknown runtime")
	transform := func(engine.Settled[string]) (string, func(), error) { return "", nil, bad }
	sub := Subscribe[string, string](context.Background(), src, transform, Options{Watch: true})

	u := recv(t, sub)
	var fatal *FatalTransformError
	require.ErrorAs(t, u.Err, &fatal)
	assert.ErrorIs(t, u.Err, bad)
	requireClosed(t, sub)
}

func TestReleaseRunsOnSupersedeAndTermination(t *testing.T) {
	src := &fakeSource{steps: []fakeStep{{value: "a", fp: 1}, {value: "b", fp: 2}}}
	var released []string
	var mu sync.Mutex
	transform := func(s engine.Settled[string]) (string, func(), error) {
		return s.Value, func() {
			mu.Lock()
			released = append(released, s.Value)
			mu.Unlock()
		}, nil
	}
	var terminated atomic.Bool
	sub := Subscribe[string, string](context.Background(), src, transform, Options{
		Watch:       true,
		OnTerminate: func() { terminated.Store(true) },
	})

	recv(t, sub)
	src.trigger()
	recv(t, sub)
	sub.Cancel()
	sub.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, released)
	assert.True(t, terminated.Load())
}

func TestCancelDuringSettleStopsWithoutDelivery(t *testing.T) {
	src := &fakeSource{steps: []fakeStep{{value: "a", fp: 1}}, block: make(chan struct{})}
	var calls atomic.Int32
	sub := Subscribe[string, string](context.Background(), src, identity, Options{Watch: true})
	sub.OnUpdate(func(Update[string]) { calls.Add(1) })

	sub.Cancel()
	sub.Wait()
	assert.Zero(t, calls.Load())
	assert.Equal(t, StateTerminated, sub.State())
}

func TestNoCallbackAfterCancel(t *testing.T) {
	src := &fakeSource{steps: []fakeStep{{value: "a", fp: 1}, {value: "b", fp: 2}}}
	sub := Subscribe[string, string](context.Background(), src, identity, Options{Watch: true})

	var (
		mu       sync.Mutex
		got      []string
		canceled atomic.Bool
		late     atomic.Bool
	)
	first := make(chan struct{})
	sub.OnUpdate(func(u Update[string]) {
		if canceled.Load() {
			late.Store(true)
		}
		mu.Lock()
		got = append(got, u.Payload)
		mu.Unlock()
		if u.Seq == 1 {
			close(first)
		}
	})
	<-first
	sub.Cancel()
	canceled.Store(true)
	src.trigger()
	sub.Wait()

	assert.False(t, late.Load())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a"}, got)
}

func TestCancelWaitsOutPendingDispatch(t *testing.T) {
	src := &fakeSource{steps: []fakeStep{{value: "a", fp: 1}}, block: make(chan struct{})}
	sub := Subscribe[string, string](context.Background(), src, identity, Options{})
	defer sub.Wait()

	// Hold the dispatch lock as the adapter does between its check and fn.
	sub.callbackMu.Lock()
	returned := make(chan struct{})
	go func() {
		sub.Cancel()
		close(returned)
	}()
	select {
	case <-returned:
		t.Fatal("Cancel returned while a dispatch was pending")
	case <-time.After(50 * time.Millisecond):
	}
	sub.callbackMu.Unlock()
	select {
	case <-returned:
	case <-time.After(waitFor):
		t.Fatal("Cancel did not return")
	}

	var calls atomic.Int32
	sub.dispatch(func(Update[string]) { calls.Add(1) }, Update[string]{Payload: "late"})
	assert.Zero(t, calls.Load())
}

func TestCancelFromCallbackDoesNotDeadlock(t *testing.T) {
	src := &fakeSource{steps: []fakeStep{{value: "a", fp: 1}, {value: "b", fp: 2}}}
	sub := Subscribe[string, string](context.Background(), src, identity, Options{Watch: true})

	var calls atomic.Int32
	sub.OnUpdate(func(Update[string]) {
		calls.Add(1)
		sub.Cancel()
	})

	waited := make(chan struct{})
	go func() {
		sub.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(waitFor):
		t.Fatal("Cancel from a callback blocked the subscription")
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestParentContextCancelTerminates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{steps: []fakeStep{{value: "a", fp: 1}}}
	sub := Subscribe[string, string](ctx, src, identity, Options{Watch: true})
	recv(t, sub)
	cancel()
	requireClosed(t, sub)
}

func TestStrongConsistencyUnderMidEvaluationChange(t *testing.T) {
	root := t.TempDir()
	e, err := engine.New(engine.Options{RootPath: root})
	require.NoError(t, err)
	t.Cleanup(e.Close)

	file := filepath.Join(root, "input.txt")
	require.NoError(t, os.WriteFile(file, []byte("old"), 0o644))

	var injected atomic.Bool
	q := engine.NewQuery(e, "mirror", func(c *engine.Ctx) (string, error) {
		data, err := c.ReadFile(file)
		if err != nil {
			return "", err
		}
		if injected.CompareAndSwap(false, true) {
			assert.NoError(t, os.WriteFile(file, []byte("new"), 0o644))
			e.Invalidate(file)
		}
		return string(data), nil
	})

	sub := Subscribe[string, string](context.Background(), q, identity, Options{})
	u := recv(t, sub)
	require.NoError(t, u.Err)
	assert.Equal(t, "new", u.Payload)
	requireClosed(t, sub)
}

func TestWatchFollowsEngineInvalidation(t *testing.T) {
	root := t.TempDir()
	e, err := engine.New(engine.Options{RootPath: root})
	require.NoError(t, err)
	t.Cleanup(e.Close)

	file := filepath.Join(root, "input.txt")
	require.NoError(t, os.WriteFile(file, []byte("one"), 0o644))
	q := engine.NewQuery(e, "mirror", func(c *engine.Ctx) (string, error) {
		data, err := c.ReadFile(file)
		return string(data), err
	})

	sub := Subscribe[string, string](context.Background(), q, identity, Options{Watch: true})
	defer func() {
		sub.Cancel()
		sub.Wait()
	}()
	assert.Equal(t, "one", recv(t, sub).Payload)

	require.NoError(t, os.WriteFile(file, []byte("two"), 0o644))
	e.Invalidate(file)
	assert.Equal(t, "two", recv(t, sub).Payload)

	require.NoError(t, os.Remove(file))
	e.Invalidate(file)
	u := recv(t, sub)
	var transient *TransientEvaluationError
	require.ErrorAs(t, u.Err, &transient)

	require.NoError(t, os.WriteFile(file, []byte("three"), 0o644))
	e.Invalidate(file)
	assert.Equal(t, "three", recv(t, sub).Payload)
}
