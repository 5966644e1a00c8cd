package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type testHandle string

func (h testHandle) HandleKey() string { return string(h) }

func TestRegistryIDsAreStablePerKey(t *testing.T) {
	r := newRegistry()
	a := r.Acquire(testHandle("a"))
	b := r.Acquire(testHandle("b"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, r.Acquire(testHandle("a")))
	assert.Equal(t, 2, r.Refs(a))

	assert.True(t, r.Release(a))
	assert.True(t, r.Release(a))
	assert.False(t, r.Release(a))
	_, ok := r.Resolve(a)
	assert.False(t, ok)

	assert.Equal(t, a, r.Acquire(testHandle("a")), "id survives full release")
	h, ok := r.Resolve(a)
	assert.True(t, ok)
	assert.Equal(t, testHandle("a"), h)
	assert.Equal(t, 2, r.Live())
}
