package engine

import (
	"fmt"
	"math"
	"sync/atomic"

	"fortio.org/safecast"
	lru "github.com/hashicorp/golang-lru/v2"

	"routekit/internal/metrics"
)

// maxContentEntries caps the entry count; the byte budget is the real bound.
const maxContentEntries = 1 << 16

type contentKey struct {
	path    string
	version uint64
}

// contentCache is a byte-weighted LRU of file contents keyed by version.
type contentCache struct {
	lru   *lru.Cache[contentKey, []byte]
	bytes atomic.Int64
	limit int64
}

func newContentCache(limit uint64) (*contentCache, error) {
	budget, err := safecast.Conv[int64](limit)
	if err != nil {
		budget = math.MaxInt64
	}
	cc := &contentCache{limit: budget}
	c, err := lru.NewWithEvict(maxContentEntries, func(_ contentKey, v []byte) {
		cc.bytes.Add(-int64(len(v)))
		metrics.ContentCacheBytes.Sub(float64(len(v)))
	})
	if err != nil {
		return nil, fmt.Errorf("engine: content cache: %w", err)
	}
	cc.lru = c
	return cc, nil
}

func (c *contentCache) get(path string, version uint64) ([]byte, bool) {
	return c.lru.Get(contentKey{path: path, version: version})
}

// put stores data unless it alone exceeds the budget, then evicts the oldest
// entries until the cache fits again.
func (c *contentCache) put(path string, version uint64, data []byte) {
	size := int64(len(data))
	if size > c.limit {
		return
	}
	c.bytes.Add(size)
	if found, _ := c.lru.ContainsOrAdd(contentKey{path: path, version: version}, data); found {
		c.bytes.Add(-size)
		return
	}
	metrics.ContentCacheBytes.Add(float64(size))
	for c.bytes.Load() > c.limit {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
	}
}

func (c *contentCache) size() int64 { return c.bytes.Load() }

func (c *contentCache) purge() { c.lru.Purge() }
