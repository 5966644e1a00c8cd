package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]Change
}

func (r *recorder) handle(changes []Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]Change(nil), changes...))
}

func (r *recorder) paths() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool)
	for _, b := range r.batches {
		for _, ch := range b {
			out[ch.Path] = true
		}
	}
	return out
}

func TestWatcherReportsNewFiles(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	w, err := New(root, rec.handle, Options{Debounce: 10 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	file := filepath.Join(root, "page.tsx")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	assert.Eventually(t, func() bool { return rec.paths()[file] }, 5*time.Second, 10*time.Millisecond)
}

func TestWatcherPicksUpNewDirectories(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	w, err := New(root, rec.handle, Options{Debounce: 10 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	dir := filepath.Join(root, "pages", "blog")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	file := filepath.Join(dir, "post.tsx")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	assert.Eventually(t, func() bool { return rec.paths()[file] }, 5*time.Second, 10*time.Millisecond)
}

func TestShouldIgnoreMatchesSegments(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, nil, Options{})
	require.NoError(t, err)
	defer w.Stop()

	assert.True(t, w.shouldIgnore(filepath.Join(root, "node_modules", "x", "index.js")))
	assert.True(t, w.shouldIgnore(filepath.Join(root, "pages", ".index.tsx.swp")))
	assert.False(t, w.shouldIgnore(filepath.Join(root, "pages", "modules.tsx")))
	assert.False(t, w.shouldIgnore(root))
}

func TestDedupeKeepsLatestPerPath(t *testing.T) {
	out := dedupe([]Change{
		{Path: "a", Op: OpCreate},
		{Path: "b", Op: OpWrite},
		{Path: "a", Op: OpRemove},
	})
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Path)
	assert.Equal(t, OpRemove, out[0].Op)
}

func TestStopIsIdempotent(t *testing.T) {
	w, err := New(t.TempDir(), nil, Options{})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
}
