// internal/navigator/cache.go
package navigator

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
)

// fileCache memoises per-file parse results. An entry is reused only while the
// file's modification time and size are unchanged.
type fileCache struct {
	mu    sync.Mutex
	cache *lru.Cache
}

type cacheKey struct {
	kind string
	path string
}

type cacheEntry struct {
	modTime time.Time
	size    int64
	value   any
}

func newFileCache(maxEntries int) *fileCache {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &fileCache{cache: lru.New(maxEntries)}
}

// load returns the cached value for (kind, path) or parses the file afresh.
func (c *fileCache) load(kind, path string, parse func(content []byte) (any, error)) (any, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	key := cacheKey{kind: kind, path: path}
	c.mu.Lock()
	if v, ok := c.cache.Get(key); ok {
		entry := v.(cacheEntry)
		if entry.modTime.Equal(info.ModTime()) && entry.size == info.Size() {
			c.mu.Unlock()
			return entry.value, nil
		}
		c.cache.Remove(key)
	}
	c.mu.Unlock()

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	value, err := parse(content)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache.Add(key, cacheEntry{modTime: info.ModTime(), size: info.Size(), value: value})
	c.mu.Unlock()
	return value, nil
}

// Len reports the number of cached entries.
func (c *fileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}
