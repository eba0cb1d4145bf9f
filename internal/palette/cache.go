package palette

import (
	"fmt"
	"sync"

	"github.com/guidoenr/backdrop/internal/colors"
	"github.com/guidoenr/backdrop/internal/settings"
)

// DefaultCacheSize bounds the extraction cache.
const DefaultCacheSize = 32

// cacheKey combines image identity with every field that changes the output.
func cacheKey(ref string, boost bool, knobs settings.Boost) string {
	if !boost {
		return ref + "|raw"
	}
	return fmt.Sprintf("%s|boost|%g|%g|%g", ref, knobs.VibrantSaturation, knobs.VibrantRatio, knobs.Intensity)
}

// cache is a bounded map with oldest-first eviction.
type cache struct {
	mu       sync.Mutex
	capacity int
	order    []string
	entries  map[string]colors.Palette
}

func newCache(capacity int) *cache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &cache{capacity: capacity, entries: make(map[string]colors.Palette)}
}

func (c *cache) get(key string) (colors.Palette, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.entries[key]
	return p.Clone(), ok
}

func (c *cache) put(key string, p colors.Palette) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		c.order = append(c.order, key)
	}
	c.entries[key] = p.Clone()
	for len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

func (c *cache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
